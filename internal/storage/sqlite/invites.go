package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

const inviteColumns = `id, email, token_hash, created_by, notes, created_at, expires_at, accepted_at, revoked_at`

func scanInvite(row interface{ Scan(...any) error }) (*types.Invite, error) {
	var inv types.Invite
	var accepted, revoked sql.NullTime
	if err := row.Scan(&inv.ID, &inv.Email, &inv.TokenHash, &inv.CreatedBy, &inv.Notes,
		&inv.CreatedAt, &inv.ExpiresAt, &accepted, &revoked); err != nil {
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.ExpiresAt = inv.ExpiresAt.UTC()
	inv.AcceptedAt = timePtr(accepted)
	inv.RevokedAt = timePtr(revoked)
	return &inv, nil
}

// CreateInvite stores an invite row. Email is stored lowercase.
func (s *Store) CreateInvite(ctx context.Context, invite *types.Invite) error {
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	invite.Email = strings.ToLower(strings.TrimSpace(invite.Email))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invites (id, email, token_hash, created_by, notes, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, invite.ID, invite.Email, invite.TokenHash, invite.CreatedBy, invite.Notes,
		invite.CreatedAt, invite.ExpiresAt.UTC())
	if err != nil {
		return wrapDBError("create invite", err)
	}
	return nil
}

// GetInvite fetches an invite by id.
func (s *Store) GetInvite(ctx context.Context, id string) (*types.Invite, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE id = ?`, id)
	inv, err := scanInvite(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get invite", err)
	}
	return inv, nil
}

// GetInviteByTokenHash fetches an invite by the digest of its token.
func (s *Store) GetInviteByTokenHash(ctx context.Context, tokenHash string) (*types.Invite, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE token_hash = ?`, tokenHash)
	inv, err := scanInvite(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get invite by token", err)
	}
	return inv, nil
}

// ListInvites returns invites matching the filter, newest first. Status
// filtering is derived (expired = past expiry, not accepted/revoked).
func (s *Store) ListInvites(ctx context.Context, filter storage.InviteFilter) ([]*types.Invite, error) {
	where := []string{"1=1"}
	args := []any{}
	now := time.Now().UTC()
	switch filter.Status {
	case "pending":
		where = append(where, "accepted_at IS NULL AND revoked_at IS NULL AND expires_at > ?")
		args = append(args, now)
	case "accepted":
		where = append(where, "accepted_at IS NOT NULL")
	case "revoked":
		where = append(where, "revoked_at IS NOT NULL")
	case "expired":
		where = append(where, "accepted_at IS NULL AND revoked_at IS NULL AND expires_at <= ?")
		args = append(args, now)
	case "":
	default:
		return nil, types.Invalidf("status", "unknown invite status %q", filter.Status)
	}
	if filter.EmailQ != "" {
		where = append(where, "email LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.EmailQ)+"%")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inviteColumns+` FROM invites
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, wrapDBError("list invites", err)
	}
	defer func() { _ = rows.Close() }()

	var invites []*types.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, wrapDBError("scan invite", err)
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// RevokeInvite marks an invite revoked. Idempotent.
func (s *Store) RevokeInvite(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invites SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`,
		at.UTC(), id)
	if err != nil {
		return wrapDBError("revoke invite", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ConsumeInvite atomically accepts the invite and returns the user for its
// email, creating one if needed. The guarded UPDATE is the serialization
// point: concurrent consumers race on accepted_at and only one row update
// succeeds.
func (s *Store) ConsumeInvite(ctx context.Context, tokenHash string, at time.Time) (*types.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("begin invite tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE token_hash = ?`, tokenHash)
	inv, err := scanInvite(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("load invite", err)
	}
	if !inv.Consumable(at) {
		return nil, storage.ErrInviteNotConsumable
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE invites SET accepted_at = ?
		WHERE id = ? AND accepted_at IS NULL AND revoked_at IS NULL
	`, at.UTC(), inv.ID)
	if err != nil {
		return nil, wrapDBError("accept invite", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.ErrInviteNotConsumable
	}

	// Get-or-create the user for the invite's email.
	userRow := tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, inv.Email)
	user, err := scanUser(userRow)
	if err == sql.ErrNoRows {
		user = &types.User{
			ID:        uuid.NewString(),
			Email:     inv.Email,
			CreatedAt: at.UTC(),
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
		`, user.ID, user.Email, user.CreatedAt); err != nil {
			return nil, wrapDBError("create invited user", err)
		}
	} else if err != nil {
		return nil, wrapDBError("load invited user", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("commit invite consumption", err)
	}
	return user, nil
}
