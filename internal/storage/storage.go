// Package storage provides shared types for ContextCache persistence.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds the interface and sentinel errors referenced by both the sqlite
// implementation and its consumers (services, cmd/ccd).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/contextcache/contextcache/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrQuotaExceeded is returned by IncrementUsage when the daily cap would be
// exceeded. The counter does not advance.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrInviteNotConsumable is returned when consuming an invite that is
// already accepted, revoked, or expired.
var ErrInviteNotConsumable = errors.New("invite not consumable")

// ErrUnavailable wraps persistent connection failures after retries have
// been exhausted. Mapped to 503 at the HTTP layer.
var ErrUnavailable = errors.New("storage unavailable")

// ScoredMemory pairs a memory with its full-text rank. Score is nil for
// rows produced by the recency fallback.
type ScoredMemory struct {
	Memory *types.Memory
	Score  *float64
}

// InviteFilter narrows admin invite listings.
type InviteFilter struct {
	Status string // pending|accepted|expired|revoked, empty = all
	EmailQ string // substring match on email
	Limit  int
	Offset int
}

// Statistics is the admin-facing row count summary.
type Statistics struct {
	Users    int `json:"users"`
	Orgs     int `json:"orgs"`
	Projects int `json:"projects"`
	Memories int `json:"memories"`
	Waitlist int `json:"waitlist_pending"`
}

// RecallLog is one recent recall usage row for admin inspection.
type RecallLog struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Day    string `json:"day"`
	Count  int    `json:"count"`
}

// JobFailure records a background job that exhausted its retries.
type JobFailure struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Payload   string    `json:"payload"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// Storage is the interface satisfied by *sqlite.Store. Consumers depend on
// this interface rather than the concrete type so that mocks and spies can
// be substituted in tests.
type Storage interface {
	// Users
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*types.User, error)
	SetUserUnlimited(ctx context.Context, id string, unlimited bool) error
	SetUserDisabled(ctx context.Context, id string, disabled bool) error
	SetUserAdmin(ctx context.Context, id string, admin bool) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	RecordLoginEvent(ctx context.Context, userID, ip string, at time.Time) error
	PurgeOldLoginEvents(ctx context.Context, before time.Time) (int, error)

	// Organizations and membership
	CreateOrg(ctx context.Context, org *types.Organization, ownerUserID string) error
	GetOrg(ctx context.Context, id string) (*types.Organization, error)
	ListOrgsForUser(ctx context.Context, userID string) ([]*types.Organization, []types.OrgRole, error)
	GetMembership(ctx context.Context, userID, orgID string) (*types.OrgMembership, error)

	// Projects
	CreateProject(ctx context.Context, project *types.Project) error
	GetProject(ctx context.Context, id string) (*types.Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]*types.Project, error)
	ListProjectsForOrg(ctx context.Context, orgID string) ([]*types.Project, error)

	// Memories
	InsertMemory(ctx context.Context, memory *types.Memory) (existing *types.Memory, err error)
	ListMemories(ctx context.Context, projectID string, limit, offset int) ([]*types.Memory, error)
	RankMemories(ctx context.Context, projectID, matchExpr string, limit int) ([]ScoredMemory, error)
	RecentMemories(ctx context.Context, projectID string, limit int, excludeIDs []string) ([]*types.Memory, error)
	RebuildSearchIndex(ctx context.Context) error
	OptimizeSearchIndex(ctx context.Context) error

	// API keys
	CreateAPIKey(ctx context.Context, key *types.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*types.APIKey, error)
	ListAPIKeys(ctx context.Context, orgID string) ([]*types.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
	TouchAPIKeyUsed(ctx context.Context, id string, at time.Time) error

	// Sessions
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, tokenHash string) (*types.Session, error)
	RevokeSession(ctx context.Context, tokenHash string, at time.Time) error
	PurgeExpiredSessions(ctx context.Context, before time.Time) (int, error)

	// Invites
	CreateInvite(ctx context.Context, invite *types.Invite) error
	GetInvite(ctx context.Context, id string) (*types.Invite, error)
	GetInviteByTokenHash(ctx context.Context, tokenHash string) (*types.Invite, error)
	ListInvites(ctx context.Context, filter InviteFilter) ([]*types.Invite, error)
	RevokeInvite(ctx context.Context, id string, at time.Time) error
	// ConsumeInvite atomically marks the invite accepted and returns the
	// (possibly freshly created) user for its email. Only the first
	// concurrent consumer succeeds; later ones get ErrInviteNotConsumable.
	ConsumeInvite(ctx context.Context, tokenHash string, at time.Time) (*types.User, error)

	// Waitlist
	CreateWaitlistEntry(ctx context.Context, entry *types.WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, id string) (*types.WaitlistEntry, error)
	ListWaitlist(ctx context.Context, status types.WaitlistStatus, limit, offset int) ([]*types.WaitlistEntry, error)
	SetWaitlistStatus(ctx context.Context, id string, status types.WaitlistStatus) error

	// Usage counters. IncrementUsage upserts the (user, day, event) row and
	// increments it; if the new count would exceed cap (cap > 0) the change
	// is rolled back and ErrQuotaExceeded returned. DecrementUsage is the
	// compensating action for failed business operations.
	IncrementUsage(ctx context.Context, userID, day string, event types.UsageEvent, cap int) (int, error)
	DecrementUsage(ctx context.Context, userID, day string, event types.UsageEvent) error
	GetUsage(ctx context.Context, userID, day string) (map[types.UsageEvent]int, error)
	RecentRecallLogs(ctx context.Context, limit int) ([]RecallLog, error)

	// Audit chain. AppendAuditEvent links the event to the project's chain
	// head under the write lock and returns the stored event.
	AppendAuditEvent(ctx context.Context, projectID, eventType, actor string, data map[string]string) (*types.AuditEvent, error)
	ListAuditEvents(ctx context.Context, projectID string) ([]*types.AuditEvent, error)

	// Job failures
	RecordJobFailure(ctx context.Context, failure *JobFailure) error
	ListJobFailures(ctx context.Context, limit int) ([]*JobFailure, error)

	// Statistics
	GetStatistics(ctx context.Context) (*Statistics, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
