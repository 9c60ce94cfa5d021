package memorysvc_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/memorysvc"
	"github.com/contextcache/contextcache/internal/quota"
	"github.com/contextcache/contextcache/internal/storage/sqlite"
	"github.com/contextcache/contextcache/internal/types"
)

type fixture struct {
	store   *sqlite.Store
	ledger  *quota.Ledger
	svc     *memorysvc.Service
	caller  *auth.Caller
	project *types.Project
}

func newFixture(t *testing.T, limits quota.Limits) *fixture {
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

	perimeter := auth.NewPerimeter(store, nil)
	ledger := quota.NewLedger(store, limits, nil)
	return &fixture{
		store:   store,
		ledger:  ledger,
		svc:     memorysvc.New(store, perimeter, ledger, nil, nil),
		caller:  &auth.Caller{User: user, AuthKind: auth.KindSession},
		project: project,
	}
}

func TestCreateMemory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.svc.Create(ctx, f.caller, f.project.ID, &types.MemoryCard{
		Type:    types.TypeDecision,
		Content: "we use WAL mode",
		Tags:    []string{"SQLite"},
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, []string{"sqlite"}, result.Memory.Tags, "tags are canonicalized")
	assert.Equal(t, f.caller.SubjectID(), result.Memory.CreatedBy)

	// The insert is audited.
	events, err := f.store.ListAuditEvents(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.AuditMemoryCreated, events[0].EventType)
	assert.Equal(t, result.Memory.ID, events[0].EventData["memory_id"])
}

func TestCreateMemoryIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	card := func() *types.MemoryCard {
		return &types.MemoryCard{Type: types.TypeNote, Content: "same content"}
	}

	first, err := f.svc.Create(ctx, f.caller, f.project.ID, card())
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := f.svc.Create(ctx, f.caller, f.project.ID, card())
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Memory.ID, second.Memory.ID)

	// The duplicate neither consumes quota nor appends audit events.
	usage, err := f.ledger.Usage(ctx, f.caller.SubjectID())
	require.NoError(t, err)
	assert.Equal(t, 1, usage[types.UsageMemoryCreated])
	events, _ := f.store.ListAuditEvents(ctx, f.project.ID)
	assert.Len(t, events, 1)
}

func TestCreateMemoryWhitespaceVariantsDeduplicate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.caller, f.project.ID, &types.MemoryCard{
		Type: types.TypeNote, Content: "canonical content",
	})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, f.caller, f.project.ID, &types.MemoryCard{
		Type: types.TypeNote, Content: "  canonical content  ",
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Memory.ID, second.Memory.ID)
}

func TestCreateMemoryQuotaExceeded(t *testing.T) {
	f := newFixture(t, quota.Limits{types.UsageMemoryCreated: 1})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.caller, f.project.ID, &types.MemoryCard{
		Type: types.TypeNote, Content: "first",
	})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.caller, f.project.ID, &types.MemoryCard{
		Type: types.TypeNote, Content: "second",
	})
	var qe *quota.QuotaExceededError
	require.ErrorAs(t, err, &qe)

	// The rejected create leaves no row behind.
	memories, err := f.store.ListMemories(ctx, f.project.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, memories, 1)
}

func TestCreateMemoryValidationDoesNotConsumeQuota(t *testing.T) {
	f := newFixture(t, quota.Limits{types.UsageMemoryCreated: 5})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.caller, f.project.ID, &types.MemoryCard{
		Type: "bogus", Content: "x",
	})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)

	usage, err := f.ledger.Usage(ctx, f.caller.SubjectID())
	require.NoError(t, err)
	assert.Equal(t, 0, usage[types.UsageMemoryCreated])
}

func TestCreateMemoryUnknownProject(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Create(context.Background(), f.caller, uuid.NewString(), &types.MemoryCard{
		Type: types.TypeNote, Content: "x",
	})
	require.Error(t, err)
}

func TestListRequiresAccess(t *testing.T) {
	f := newFixture(t, nil)
	stranger := newFixture(t, nil)

	_, err := stranger.svc.List(context.Background(), stranger.caller, f.project.ID, 10, 0)
	require.Error(t, err, "cross-tenant listing must fail")
}
