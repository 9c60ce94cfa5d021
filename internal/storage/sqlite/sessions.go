package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// CreateSession stores a session row keyed by the token digest.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, session.ID, session.UserID, session.CreatedAt, session.ExpiresAt.UTC())
	if err != nil {
		return wrapDBError("create session", err)
	}
	return nil
}

// GetSession fetches a session by token digest.
func (s *Store) GetSession(ctx context.Context, tokenHash string) (*types.Session, error) {
	var sess types.Session
	var revoked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at, revoked_at FROM sessions WHERE id = ?`,
		tokenHash).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt, &revoked)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get session", err)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.RevokedAt = timePtr(revoked)
	return &sess, nil
}

// RevokeSession marks a session revoked. Idempotent.
func (s *Store) RevokeSession(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`,
		at.UTC(), tokenHash)
	if err != nil {
		return wrapDBError("revoke session", err)
	}
	return nil
}

// PurgeExpiredSessions deletes sessions that expired before the cutoff and
// returns the number removed. Run by the purge_expired_sessions job.
func (s *Store) PurgeExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, wrapDBError("purge sessions", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
