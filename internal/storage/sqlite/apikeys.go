package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

const apiKeyColumns = `id, org_id, name, prefix, hash, created_at, expires_at, revoked_at, last_used_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*types.APIKey, error) {
	var k types.APIKey
	var expires, revoked, lastUsed sql.NullTime
	if err := row.Scan(&k.ID, &k.OrgID, &k.Name, &k.Prefix, &k.Hash,
		&k.CreatedAt, &expires, &revoked, &lastUsed); err != nil {
		return nil, err
	}
	k.CreatedAt = k.CreatedAt.UTC()
	k.ExpiresAt = timePtr(expires)
	k.RevokedAt = timePtr(revoked)
	k.LastUsedAt = timePtr(lastUsed)
	return &k, nil
}

// CreateAPIKey stores a new key row. The plaintext secret never reaches
// this layer; only the digest is persisted.
func (s *Store) CreateAPIKey(ctx context.Context, key *types.APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, org_id, name, prefix, hash, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.OrgID, key.Name, key.Prefix, key.Hash, key.CreatedAt, nullTime(key.ExpiresAt))
	if err != nil {
		return wrapDBError("create api key", err)
	}
	return nil
}

// GetAPIKeyByHash looks up a key by the digest of the presented secret.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*types.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE hash = ?`, hash)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get api key", err)
	}
	return k, nil
}

// ListAPIKeys returns an org's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, orgID string) ([]*types.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE org_id = ? ORDER BY created_at DESC, id`, orgID)
	if err != nil {
		return nil, wrapDBError("list api keys", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []*types.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, wrapDBError("scan api key", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey sets revoked_at. Idempotent: already-revoked keys keep their
// original revocation time.
func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`,
		at.UTC(), id)
	if err != nil {
		return wrapDBError("revoke api key", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TouchAPIKeyUsed updates last_used_at. Called asynchronously off the
// request path; errors are for the caller to log, not to fail on.
func (s *Store) TouchAPIKeyUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ? AND revoked_at IS NULL`,
		at.UTC(), id)
	if err != nil {
		return wrapDBError("touch api key", err)
	}
	return nil
}
