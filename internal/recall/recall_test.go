package recall_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextcache/contextcache/internal/pack"
	"github.com/contextcache/contextcache/internal/recall"
	"github.com/contextcache/contextcache/internal/storage/sqlite"
	"github.com/contextcache/contextcache/internal/types"
)

func newFixture(t *testing.T) (*sqlite.Store, *recall.Engine, string) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	user := &types.User{ID: uuid.NewString(), Email: "u@example.com"}
	require.NoError(t, store.CreateUser(ctx, user))
	org := &types.Organization{ID: uuid.NewString(), Name: "org"}
	require.NoError(t, store.CreateOrg(ctx, org, user.ID))
	project := &types.Project{ID: uuid.NewString(), OrgID: org.ID, Name: "proj"}
	require.NoError(t, store.CreateProject(ctx, project))

	return store, recall.NewEngine(store, pack.New(0)), project.ID
}

func addMemory(t *testing.T, store *sqlite.Store, projectID, content string, at time.Time) *types.Memory {
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
	require.NoError(t, err)
	require.Nil(t, existing)
	return m
}

func TestBuildMatchExpression(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"", ""},
		{"   ", ""},
		{"?!...", ""},
		{"postgres", `"postgres"`},
		{"Postgres POOLING", `"postgres" OR "pooling"`},
		{"go-routines leak", `"go" OR "routines" OR "leak"`},
		{"dup dup dup", `"dup"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, recall.BuildMatchExpression(tt.query), "query %q", tt.query)
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, recall.DefaultLimit, recall.ClampLimit(0))
	assert.Equal(t, 1, recall.ClampLimit(-5))
	assert.Equal(t, recall.MaxLimit, recall.ClampLimit(999))
	assert.Equal(t, 7, recall.ClampLimit(7))
}

func TestRecallEmptyQueryFallsBackToRecency(t *testing.T) {
	store, engine, projectID := newFixture(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	addMemory(t, store, projectID, "older entry", base)
	newer := addMemory(t, store, projectID, "newer entry", base.AddDate(0, 0, 1))

	result, err := engine.Recall(context.Background(), projectID, "", 10, pack.FormatText)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, newer.ID, result.Items[0].ID, "recency order, newest first")
	for _, item := range result.Items {
		assert.Nil(t, item.RankScore, "fallback rows carry no rank score")
	}
	assert.False(t, result.Truncated)
	assert.NotEmpty(t, result.Pack)
}

func TestRecallRankedWithRecencyTopUp(t *testing.T) {
	store, engine, projectID := newFixture(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	match := addMemory(t, store, projectID, "sqlite locking behavior", base)
	filler := addMemory(t, store, projectID, "team standup notes", base.AddDate(0, 0, 1))

	result, err := engine.Recall(context.Background(), projectID, "sqlite", 5, pack.FormatText)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	// The FTS match leads despite being older; the top-up follows.
	assert.Equal(t, match.ID, result.Items[0].ID)
	assert.NotNil(t, result.Items[0].RankScore)
	assert.Equal(t, filler.ID, result.Items[1].ID)
	assert.Nil(t, result.Items[1].RankScore)
}

func TestRecallRespectsLimit(t *testing.T) {
	store, engine, projectID := newFixture(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		addMemory(t, store, projectID, "entry "+string(rune('a'+i)), base.AddDate(0, 0, i))
	}

	result, err := engine.Recall(context.Background(), projectID, "", 3, pack.FormatText)
	require.NoError(t, err)
	assert.Len(t, result.Items, 3)
}

func TestRecallEmptyProject(t *testing.T) {
	_, engine, projectID := newFixture(t)
	result, err := engine.Recall(context.Background(), projectID, "anything", 10, pack.FormatText)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, "", result.Pack)
}

func TestRecallDeterministic(t *testing.T) {
	store, engine, projectID := newFixture(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	addMemory(t, store, projectID, "alpha fact about caching", at)
	addMemory(t, store, projectID, "beta fact about caching", at)

	a, err := engine.Recall(context.Background(), projectID, "caching", 10, pack.FormatToon)
	require.NoError(t, err)
	b, err := engine.Recall(context.Background(), projectID, "caching", 10, pack.FormatToon)
	require.NoError(t, err)
	assert.Equal(t, a.Pack, b.Pack, "identical queries must render identical packs")
}
