package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

const waitlistColumns = `id, email, name, company, use_case, source, status, created_at`

func scanWaitlistEntry(row interface{ Scan(...any) error }) (*types.WaitlistEntry, error) {
	var e types.WaitlistEntry
	if err := row.Scan(&e.ID, &e.Email, &e.Name, &e.Company, &e.UseCase,
		&e.Source, &e.Status, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// CreateWaitlistEntry inserts a signup. Re-joining with the same email is a
// no-op (the original row wins).
func (s *Store) CreateWaitlistEntry(ctx context.Context, entry *types.WaitlistEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = types.WaitlistPending
	}
	entry.Email = strings.ToLower(strings.TrimSpace(entry.Email))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO waitlist (`+waitlistColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO NOTHING
	`, entry.ID, entry.Email, entry.Name, entry.Company, entry.UseCase,
		entry.Source, entry.Status, entry.CreatedAt)
	if err != nil {
		return wrapDBError("create waitlist entry", err)
	}
	return nil
}

// GetWaitlistEntry fetches an entry by id.
func (s *Store) GetWaitlistEntry(ctx context.Context, id string) (*types.WaitlistEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist WHERE id = ?`, id)
	e, err := scanWaitlistEntry(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get waitlist entry", err)
	}
	return e, nil
}

// ListWaitlist returns entries, optionally filtered by status, oldest first
// (review order).
func (s *Store) ListWaitlist(ctx context.Context, status types.WaitlistStatus, limit, offset int) ([]*types.WaitlistEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + waitlistColumns + ` FROM waitlist`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list waitlist", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, wrapDBError("scan waitlist entry", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetWaitlistStatus updates the review state of an entry.
func (s *Store) SetWaitlistStatus(ctx context.Context, id string, status types.WaitlistStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE waitlist SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return wrapDBError("set waitlist status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
