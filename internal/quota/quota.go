// Package quota implements the per-user daily usage ledger.
//
// Reservations follow increment-then-compensate: Reserve commits the
// increment immediately (the row update is serialized by the store's write
// lock), Commit is a no-op, and Rollback decrements when the business
// operation failed. Either way the counter never advances for a failed
// operation and never exceeds the cap.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// QuotaExceededError reports which resource hit its daily cap.
type QuotaExceededError struct {
	Resource types.UsageEvent
	Cap      int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (daily cap %d)", e.Resource, e.Cap)
}

// Limits maps event classes to daily caps. Zero or missing = unlimited.
type Limits map[types.UsageEvent]int

// DefaultLimits are the free-tier caps.
var DefaultLimits = Limits{
	types.UsageMemoryCreated:  200,
	types.UsageRecallQuery:    500,
	types.UsageProjectCreated: 10,
}

// Ledger checks and records usage against daily caps.
type Ledger struct {
	store  storage.Storage
	limits Limits
	loc    *time.Location
	now    func() time.Time
}

// NewLedger builds a ledger. loc controls the day boundary; nil means UTC.
func NewLedger(store storage.Storage, limits Limits, loc *time.Location) *Ledger {
	if limits == nil {
		limits = DefaultLimits
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{store: store, limits: limits, loc: loc, now: time.Now}
}

// Limits returns the configured caps.
func (l *Ledger) Limits() Limits { return l.limits }

// Day renders the current ledger day (YYYY-MM-DD in the ledger's location).
func (l *Ledger) Day() string {
	return l.now().In(l.loc).Format("2006-01-02")
}

// MidnightIn returns seconds until the next day boundary, for Retry-After.
func (l *Ledger) MidnightIn() int {
	now := l.now().In(l.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc).AddDate(0, 0, 1)
	return int(midnight.Sub(now).Seconds()) + 1
}

// Reservation is an atomically held increment awaiting the outcome of its
// business operation.
type Reservation struct {
	ledger    *Ledger
	userID    string
	day       string
	event     types.UsageEvent
	unlimited bool
	done      bool
}

// Reserve increments the (user, today, event) counter. If the cap would be
// exceeded the increment is rolled back inside the store and a
// *QuotaExceededError returned. Unlimited callers get a no-op reservation.
func (l *Ledger) Reserve(ctx context.Context, userID string, event types.UsageEvent, unlimited bool) (*Reservation, error) {
	res := &Reservation{ledger: l, userID: userID, day: l.Day(), event: event, unlimited: unlimited}
	if unlimited {
		// Still counted for usage visibility, but never capped.
		if _, err := l.store.IncrementUsage(ctx, userID, res.day, event, 0); err != nil {
			return nil, err
		}
		return res, nil
	}
	limit := l.limits[event]
	if _, err := l.store.IncrementUsage(ctx, userID, res.day, event, limit); err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			return nil, &QuotaExceededError{Resource: event, Cap: limit}
		}
		return nil, err
	}
	return res, nil
}

// Commit finalizes the reservation. The increment is already durable, so
// this only marks the reservation settled.
func (r *Reservation) Commit() {
	r.done = true
}

// Rollback compensates the increment after a failed business operation.
// Safe to call after Commit (no-op) and more than once.
func (r *Reservation) Rollback(ctx context.Context) {
	if r == nil || r.done {
		return
	}
	r.done = true
	_ = r.ledger.store.DecrementUsage(ctx, r.userID, r.day, r.event)
}

// Usage returns today's counters for a user.
func (l *Ledger) Usage(ctx context.Context, userID string) (map[types.UsageEvent]int, error) {
	return l.store.GetUsage(ctx, userID, l.Day())
}
