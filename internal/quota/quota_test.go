package quota_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextcache/contextcache/internal/quota"
	"github.com/contextcache/contextcache/internal/storage/sqlite"
	"github.com/contextcache/contextcache/internal/types"
)

func newLedger(t *testing.T, limits quota.Limits) *quota.Ledger {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return quota.NewLedger(store, limits, time.UTC)
}

func TestReserveCommit(t *testing.T) {
	ledger := newLedger(t, quota.Limits{types.UsageMemoryCreated: 2})
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, "u1", types.UsageMemoryCreated, false)
	require.NoError(t, err)
	res.Commit()

	usage, err := ledger.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, usage[types.UsageMemoryCreated])
}

func TestReserveRollbackCompensates(t *testing.T) {
	ledger := newLedger(t, quota.Limits{types.UsageMemoryCreated: 2})
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, "u1", types.UsageMemoryCreated, false)
	require.NoError(t, err)
	res.Rollback(ctx)

	usage, err := ledger.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, usage[types.UsageMemoryCreated], "failed operations must not consume quota")

	// Rollback after Commit is a no-op.
	res, err = ledger.Reserve(ctx, "u1", types.UsageMemoryCreated, false)
	require.NoError(t, err)
	res.Commit()
	res.Rollback(ctx)
	usage, _ = ledger.Usage(ctx, "u1")
	assert.Equal(t, 1, usage[types.UsageMemoryCreated])
}

func TestReserveCapExceeded(t *testing.T) {
	ledger := newLedger(t, quota.Limits{types.UsageProjectCreated: 1})
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, "u1", types.UsageProjectCreated, false)
	require.NoError(t, err)
	res.Commit()

	_, err = ledger.Reserve(ctx, "u1", types.UsageProjectCreated, false)
	require.Error(t, err)
	var qe *quota.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, types.UsageProjectCreated, qe.Resource)
	assert.Equal(t, 1, qe.Cap)
}

func TestReserveUnlimitedBypassesCap(t *testing.T) {
	ledger := newLedger(t, quota.Limits{types.UsageMemoryCreated: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := ledger.Reserve(ctx, "admin", types.UsageMemoryCreated, true)
		require.NoError(t, err)
		res.Commit()
	}

	// Usage is still recorded for visibility.
	usage, err := ledger.Usage(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, 3, usage[types.UsageMemoryCreated])
}

func TestUsersIsolated(t *testing.T) {
	ledger := newLedger(t, quota.Limits{types.UsageRecallQuery: 1})
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, "u1", types.UsageRecallQuery, false)
	require.NoError(t, err)
	res.Commit()

	// u1 is at the cap; u2 is untouched.
	_, err = ledger.Reserve(ctx, "u1", types.UsageRecallQuery, false)
	require.Error(t, err)
	res, err = ledger.Reserve(ctx, "u2", types.UsageRecallQuery, false)
	require.NoError(t, err)
	res.Commit()
}

func TestMidnightIn(t *testing.T) {
	ledger := newLedger(t, nil)
	secs := ledger.MidnightIn()
	assert.Greater(t, secs, 0)
	assert.LessOrEqual(t, secs, 24*60*60+1)
}
