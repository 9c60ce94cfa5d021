package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// CreateOrg inserts an organization and makes ownerUserID its admin member,
// atomically.
func (s *Store) CreateOrg(ctx context.Context, org *types.Organization, ownerUserID string) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin org tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orgs (id, name, created_at) VALUES (?, ?, ?)`,
		org.ID, org.Name, org.CreatedAt); err != nil {
		return wrapDBError("create org", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO org_members (user_id, org_id, role) VALUES (?, ?, ?)`,
		ownerUserID, org.ID, types.RoleAdmin); err != nil {
		return wrapDBError("create org membership", err)
	}
	return tx.Commit()
}

// GetOrg fetches an organization by id.
func (s *Store) GetOrg(ctx context.Context, id string) (*types.Organization, error) {
	var org types.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM orgs WHERE id = ?`, id).
		Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get org", err)
	}
	org.CreatedAt = org.CreatedAt.UTC()
	return &org, nil
}

// ListOrgsForUser returns the orgs a user belongs to, with their role in each.
func (s *Store) ListOrgsForUser(ctx context.Context, userID string) ([]*types.Organization, []types.OrgRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.name, o.created_at, m.role
		FROM orgs o JOIN org_members m ON m.org_id = o.id
		WHERE m.user_id = ?
		ORDER BY o.created_at, o.id
	`, userID)
	if err != nil {
		return nil, nil, wrapDBError("list orgs", err)
	}
	defer func() { _ = rows.Close() }()

	var orgs []*types.Organization
	var roles []types.OrgRole
	for rows.Next() {
		var org types.Organization
		var role types.OrgRole
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt, &role); err != nil {
			return nil, nil, wrapDBError("scan org", err)
		}
		org.CreatedAt = org.CreatedAt.UTC()
		orgs = append(orgs, &org)
		roles = append(roles, role)
	}
	return orgs, roles, rows.Err()
}

// GetMembership fetches the membership row linking a user to an org.
// Returns ErrNotFound when the user is not a member.
func (s *Store) GetMembership(ctx context.Context, userID, orgID string) (*types.OrgMembership, error) {
	var m types.OrgMembership
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, org_id, role FROM org_members WHERE user_id = ? AND org_id = ?`,
		userID, orgID).Scan(&m.UserID, &m.OrgID, &m.Role)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get membership", err)
	}
	return &m, nil
}
