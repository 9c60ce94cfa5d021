package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"), Options{})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedProject creates a user, an org owned by that user, and a project,
// returning their ids.
func seedProject(t *testing.T, store *Store) (userID, orgID, projectID string) {
	t.Helper()
	ctx := context.Background()

	user := &types.User{ID: uuid.NewString(), Email: uuid.NewString() + "@example.com"}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	org := &types.Organization{ID: uuid.NewString(), Name: "org-" + user.ID[:8]}
	if err := store.CreateOrg(ctx, org, user.ID); err != nil {
		t.Fatalf("failed to create org: %v", err)
	}
	project := &types.Project{ID: uuid.NewString(), OrgID: org.ID, Name: "proj-" + user.ID[:8]}
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return user.ID, org.ID, project.ID
}

func seedMemory(t *testing.T, store *Store, projectID, content string, at time.Time) *types.Memory {
	t.Helper()
	m := &types.Memory{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Type:        types.TypeNote,
		Source:      types.SourceManual,
		Content:     content,
		ContentHash: types.ComputeContentHash(content),
		CreatedAt:   at,
		CreatedBy:   "test",
	}
	existing, err := store.InsertMemory(context.Background(), m)
	if err != nil {
		t.Fatalf("failed to insert memory: %v", err)
	}
	if existing != nil {
		t.Fatalf("seed content %q already present", content)
	}
	return m
}

func TestStoreOpenAndPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStoreCloseIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Error("ping after close should fail")
	}
}

func TestClosedStoreReportsUnavailable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, orgID, _ := seedProject(t, store)

	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Both the health probe and ordinary queries must carry the sentinel so
	// the HTTP layer answers 503 instead of 500.
	if err := store.Ping(ctx); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("ping after close: expected ErrUnavailable, got %v", err)
	}
	p := &types.Project{ID: uuid.NewString(), OrgID: orgID, Name: "late"}
	if err := store.CreateProject(ctx, p); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("create after close: expected ErrUnavailable, got %v", err)
	}
	if _, err := store.ListProjectsForOrg(ctx, orgID); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("list after close: expected ErrUnavailable, got %v", err)
	}
}

func TestMigrationsApplied(t *testing.T) {
	store := newTestStore(t)
	version, err := SchemaVersion(context.Background(), store.UnderlyingDB())
	if err != nil {
		t.Fatalf("failed to read schema version: %v", err)
	}
	want := migrations[len(migrations)-1].version
	if version != want {
		t.Errorf("expected schema version %d, got %d", want, version)
	}
}

func TestMigrationsRerunSafe(t *testing.T) {
	store := newTestStore(t)
	if err := RunMigrations(context.Background(), store.UnderlyingDB()); err != nil {
		t.Fatalf("re-running migrations should be a no-op: %v", err)
	}
}
