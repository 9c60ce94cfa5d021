package sqlite

import (
	"context"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// IncrementUsage upserts the (user, day, event) counter row and increments
// it inside one transaction. If the incremented count would exceed cap
// (cap > 0), the transaction is rolled back and ErrQuotaExceeded returned,
// so the counter never advances past the cap. SQLite's single-writer model
// serializes concurrent increments on the same row.
func (s *Store) IncrementUsage(ctx context.Context, userID, day string, event types.UsageEvent, cap int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapDBError("begin usage tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO usage_days (user_id, day, event_type, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(user_id, day, event_type) DO UPDATE SET count = count + 1
		RETURNING count
	`, userID, day, event).Scan(&count)
	if err != nil {
		return 0, wrapDBError("increment usage", err)
	}

	if cap > 0 && count > cap {
		return 0, storage.ErrQuotaExceeded
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapDBError("commit usage increment", err)
	}
	return count, nil
}

// DecrementUsage compensates a reservation whose business operation failed.
// The counter never goes below zero.
func (s *Store) DecrementUsage(ctx context.Context, userID, day string, event types.UsageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE usage_days SET count = count - 1
		WHERE user_id = ? AND day = ? AND event_type = ? AND count > 0
	`, userID, day, event)
	if err != nil {
		return wrapDBError("decrement usage", err)
	}
	return nil
}

// GetUsage returns all counters for a user on a day.
func (s *Store) GetUsage(ctx context.Context, userID, day string) (map[types.UsageEvent]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, count FROM usage_days WHERE user_id = ? AND day = ?`,
		userID, day)
	if err != nil {
		return nil, wrapDBError("get usage", err)
	}
	defer func() { _ = rows.Close() }()

	usage := make(map[types.UsageEvent]int)
	for rows.Next() {
		var event types.UsageEvent
		var count int
		if err := rows.Scan(&event, &count); err != nil {
			return nil, wrapDBError("scan usage", err)
		}
		usage[event] = count
	}
	return usage, rows.Err()
}

// RecentRecallLogs returns the most recent recall usage rows joined with
// user emails, for admin inspection.
func (s *Store) RecentRecallLogs(ctx context.Context, limit int) ([]storage.RecallLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, d.day, d.count
		FROM usage_days d JOIN users u ON u.id = d.user_id
		WHERE d.event_type = ?
		ORDER BY d.day DESC, d.count DESC
		LIMIT ?
	`, types.UsageRecallQuery, limit)
	if err != nil {
		return nil, wrapDBError("list recall logs", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []storage.RecallLog
	for rows.Next() {
		var l storage.RecallLog
		if err := rows.Scan(&l.UserID, &l.Email, &l.Day, &l.Count); err != nil {
			return nil, wrapDBError("scan recall log", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
