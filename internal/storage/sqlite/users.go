package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// CreateUser inserts a new user. Email is stored lowercase.
func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, is_admin, is_unlimited, is_disabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, user.Email, user.IsAdmin, user.IsUnlimited, user.IsDisabled, user.CreatedAt)
	if err != nil {
		return wrapDBError("create user", err)
	}
	return nil
}

const userColumns = `id, email, is_admin, is_unlimited, is_disabled, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*types.User, error) {
	var u types.User
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.IsAdmin, &u.IsUnlimited, &u.IsDisabled, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.LastLoginAt = timePtr(lastLogin)
	return &u, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get user", err)
	}
	return u, nil
}

// GetUserByEmail fetches a user by canonical (lowercase) email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get user by email", err)
	}
	return u, nil
}

// ListUsers returns users ordered by creation, newest first.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]*types.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, wrapDBError("list users", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapDBError("scan user", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserUnlimited toggles quota bypass for a user.
func (s *Store) SetUserUnlimited(ctx context.Context, id string, unlimited bool) error {
	return s.updateUserFlag(ctx, id, "is_unlimited", unlimited)
}

// SetUserDisabled toggles the disabled flag. Disabled users fail all
// authenticated calls.
func (s *Store) SetUserDisabled(ctx context.Context, id string, disabled bool) error {
	return s.updateUserFlag(ctx, id, "is_disabled", disabled)
}

// SetUserAdmin toggles the service-admin flag. Only reachable from the
// bootstrap command, never from the HTTP surface.
func (s *Store) SetUserAdmin(ctx context.Context, id string, admin bool) error {
	return s.updateUserFlag(ctx, id, "is_admin", admin)
}

func (s *Store) updateUserFlag(ctx context.Context, id, column string, value bool) error {
	// column is a compile-time constant, not user input
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = ? WHERE id = ?`, column), value, id)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", column, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TouchLastLogin opportunistically refreshes last_login_at.
func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return wrapDBError("touch last login", err)
	}
	return nil
}

// RecordLoginEvent stores a login IP and trims the per-user history to the
// retention cap.
func (s *Store) RecordLoginEvent(ctx context.Context, userID, ip string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin login event tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO login_events (user_id, ip, created_at) VALUES (?, ?, ?)`,
		userID, ip, at.UTC()); err != nil {
		return wrapDBError("record login event", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM login_events WHERE user_id = ? AND rowid NOT IN (
			SELECT rowid FROM login_events WHERE user_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		)
	`, userID, userID, types.MaxLoginEventsPerUser); err != nil {
		return wrapDBError("trim login events", err)
	}
	return tx.Commit()
}

// PurgeOldLoginEvents deletes login events older than the cutoff and returns
// the number removed. Run by the purge_old_login_events job.
func (s *Store) PurgeOldLoginEvents(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM login_events WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, wrapDBError("purge login events", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
