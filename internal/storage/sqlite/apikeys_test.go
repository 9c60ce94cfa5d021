package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

func seedAPIKey(t *testing.T, store *Store, orgID string) (*types.APIKey, string) {
	t.Helper()
	secret := "cc_" + auth.NewSecret()
	key := &types.APIKey{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Name:      "test key",
		Prefix:    secret[:8],
		Hash:      auth.HashSecret(secret),
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("failed to create api key: %v", err)
	}
	return key, secret
}

func TestGetAPIKeyByHash(t *testing.T) {
	store := newTestStore(t)
	_, orgID, _ := seedProject(t, store)
	key, secret := seedAPIKey(t, store, orgID)

	got, err := store.GetAPIKeyByHash(context.Background(), auth.HashSecret(secret))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.ID != key.ID || got.OrgID != orgID {
		t.Errorf("wrong key returned: %s", got.ID)
	}

	_, err = store.GetAPIKeyByHash(context.Background(), auth.HashSecret("wrong"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown hash, got %v", err)
	}
}

func TestRevokeAPIKeyIdempotent(t *testing.T) {
	store := newTestStore(t)
	_, orgID, _ := seedProject(t, store)
	key, secret := seedAPIKey(t, store, orgID)
	ctx := context.Background()

	first := time.Now().UTC().Truncate(time.Second)
	if err := store.RevokeAPIKey(ctx, key.ID, first); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	// A later revoke must not move the original timestamp.
	if err := store.RevokeAPIKey(ctx, key.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}

	got, err := store.GetAPIKeyByHash(ctx, auth.HashSecret(secret))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.RevokedAt == nil || !got.RevokedAt.Equal(first) {
		t.Errorf("revoked_at moved: %v", got.RevokedAt)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	userID, _, _ := seedProject(t, store)
	ctx := context.Background()

	token := auth.NewSecret()
	sess := &types.Session{
		ID:        auth.HashSecret(token),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := store.GetSession(ctx, auth.HashSecret(token))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.UserID != userID {
		t.Errorf("wrong session user: %s", got.UserID)
	}

	if err := store.RevokeSession(ctx, auth.HashSecret(token), time.Now().UTC()); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	got, err = store.GetSession(ctx, auth.HashSecret(token))
	if err != nil {
		t.Fatalf("get after revoke failed: %v", err)
	}
	if got.Valid(time.Now().UTC()) {
		t.Error("revoked session must not be valid")
	}
}

func TestPurgeExpiredSessions(t *testing.T) {
	store := newTestStore(t)
	userID, _, _ := seedProject(t, store)
	ctx := context.Background()

	old := &types.Session{
		ID:        auth.HashSecret("old"),
		UserID:    userID,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-24 * time.Hour),
	}
	live := &types.Session{
		ID:        auth.HashSecret("live"),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	for _, s := range []*types.Session{old, live} {
		if err := store.CreateSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.PurgeExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged session, got %d", n)
	}
	if _, err := store.GetSession(ctx, auth.HashSecret("live")); err != nil {
		t.Errorf("live session purged: %v", err)
	}
}
