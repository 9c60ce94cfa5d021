// Package apikey manages org-scoped API keys. The plaintext secret is
// returned exactly once at creation; only its sha256 digest is stored.
package apikey

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// secretScheme prefixes every rendered secret so keys are recognizable in
// logs and scanners.
const secretScheme = "cc_"

// prefixLen is the human-readable label length stored alongside the key.
const prefixLen = 8

// Created is the one-time creation response carrying the plaintext.
type Created struct {
	ID        string     `json:"id"`
	Prefix    string     `json:"prefix"`
	Plaintext string     `json:"api_key"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Manager generates, lists, and revokes keys.
type Manager struct {
	store storage.Storage
}

// NewManager builds a key manager.
func NewManager(store storage.Storage) *Manager {
	return &Manager{store: store}
}

// Create mints a key for an org. expiresInDays <= 0 means no expiry.
func (m *Manager) Create(ctx context.Context, orgID, name string, expiresInDays int) (*Created, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > types.MaxKeyNameLen {
		return nil, types.Invalidf("name", "must be 1..%d characters", types.MaxKeyNameLen)
	}

	secret := secretScheme + auth.NewSecret()
	key := &types.APIKey{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Name:      name,
		Prefix:    secret[:prefixLen],
		Hash:      auth.HashSecret(secret),
		CreatedAt: time.Now().UTC(),
	}
	if expiresInDays > 0 {
		expires := time.Now().UTC().AddDate(0, 0, expiresInDays)
		key.ExpiresAt = &expires
	}
	if err := m.store.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	return &Created{
		ID:        key.ID,
		Prefix:    key.Prefix,
		Plaintext: secret,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// List returns an org's keys; metadata only, never digests or plaintext.
func (m *Manager) List(ctx context.Context, orgID string) ([]*types.APIKey, error) {
	keys, err := m.store.ListAPIKeys(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		k.Hash = ""
	}
	return keys, nil
}

// Revoke marks a key revoked. Idempotent. The key must belong to orgID.
func (m *Manager) Revoke(ctx context.Context, orgID, keyID string) error {
	keys, err := m.store.ListAPIKeys(ctx, orgID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			return m.store.RevokeAPIKey(ctx, keyID, time.Now().UTC())
		}
	}
	return storage.ErrNotFound
}
