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

func seedInvite(t *testing.T, store *Store, email string, expiresAt time.Time) (inv *types.Invite, tokenHash string) {
	t.Helper()
	token := auth.NewSecret()
	tokenHash = auth.HashSecret(token)
	inv = &types.Invite{
		ID:        uuid.NewString(),
		Email:     email,
		TokenHash: tokenHash,
		CreatedBy: "admin",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := store.CreateInvite(context.Background(), inv); err != nil {
		t.Fatalf("failed to create invite: %v", err)
	}
	return inv, tokenHash
}

func TestConsumeInviteCreatesUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, tokenHash := seedInvite(t, store, "new@example.com", time.Now().UTC().Add(time.Hour))

	user, err := store.ConsumeInvite(ctx, tokenHash, time.Now().UTC())
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if user.Email != "new@example.com" {
		t.Errorf("wrong user email: %s", user.Email)
	}

	// The account must be findable afterwards.
	if _, err := store.GetUserByEmail(ctx, "new@example.com"); err != nil {
		t.Errorf("user not persisted: %v", err)
	}
}

func TestConsumeInviteReusesExistingUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	existing := &types.User{ID: uuid.NewString(), Email: "known@example.com"}
	if err := store.CreateUser(ctx, existing); err != nil {
		t.Fatal(err)
	}
	_, tokenHash := seedInvite(t, store, "known@example.com", time.Now().UTC().Add(time.Hour))

	user, err := store.ConsumeInvite(ctx, tokenHash, time.Now().UTC())
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if user.ID != existing.ID {
		t.Errorf("expected existing user %s, got %s", existing.ID, user.ID)
	}
}

func TestConsumeInviteSingleUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, tokenHash := seedInvite(t, store, "once@example.com", time.Now().UTC().Add(time.Hour))

	if _, err := store.ConsumeInvite(ctx, tokenHash, time.Now().UTC()); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	_, err := store.ConsumeInvite(ctx, tokenHash, time.Now().UTC())
	if !errors.Is(err, storage.ErrInviteNotConsumable) {
		t.Fatalf("second consume: expected ErrInviteNotConsumable, got %v", err)
	}
}

func TestConsumeInviteExpired(t *testing.T) {
	store := newTestStore(t)
	_, tokenHash := seedInvite(t, store, "late@example.com", time.Now().UTC().Add(-time.Minute))

	_, err := store.ConsumeInvite(context.Background(), tokenHash, time.Now().UTC())
	if !errors.Is(err, storage.ErrInviteNotConsumable) {
		t.Fatalf("expected ErrInviteNotConsumable for expired invite, got %v", err)
	}
}

func TestConsumeInviteRevoked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	inv, tokenHash := seedInvite(t, store, "revoked@example.com", time.Now().UTC().Add(time.Hour))

	if err := store.RevokeInvite(ctx, inv.ID, time.Now().UTC()); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	_, err := store.ConsumeInvite(ctx, tokenHash, time.Now().UTC())
	if !errors.Is(err, storage.ErrInviteNotConsumable) {
		t.Fatalf("expected ErrInviteNotConsumable for revoked invite, got %v", err)
	}
}

func TestConsumeInviteUnknownToken(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ConsumeInvite(context.Background(), auth.HashSecret("nope"), time.Now().UTC())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListInvitesStatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedInvite(t, store, "pending@example.com", time.Now().UTC().Add(time.Hour))
	seedInvite(t, store, "old@example.com", time.Now().UTC().Add(-time.Hour))

	pending, err := store.ListInvites(ctx, storage.InviteFilter{Status: "pending"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Email != "pending@example.com" {
		t.Errorf("pending filter wrong: %d rows", len(pending))
	}

	expired, err := store.ListInvites(ctx, storage.InviteFilter{Status: "expired"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(expired) != 1 || expired[0].Email != "old@example.com" {
		t.Errorf("expired filter wrong: %d rows", len(expired))
	}
}
