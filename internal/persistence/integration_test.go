package persistence_test

import (
	"context"
	"testing"
	"time"

	"PowerVault/internal/persistence"
	"PowerVault/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Against a real Postgres (INTEGRATION_TEST=1)
// ============================================================================

func TestIntegration_PriceTicksRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := persistence.NewPriceTickStore(db)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, persistence.PriceTick{Pool: "eth_quote", Timestamp: 100, Tick: 1}))
	require.NoError(t, store.Save(ctx, persistence.PriceTick{Pool: "eth_quote", Timestamp: 200, Tick: 2}))
	require.NoError(t, store.Save(ctx, persistence.PriceTick{Pool: "eth_quote", Timestamp: 200, Tick: 3}))
	require.NoError(t, store.Save(ctx, persistence.PriceTick{Pool: "powerperp_eth", Timestamp: 150, Tick: 9}))

	ticks, err := store.LoadSince(ctx, "eth_quote", 150)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, int32(3), ticks[0].Tick, "same (pool, ts) overwrites")
}

func TestIntegration_OnlyVerifiedSnapshotsLoad(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sm := persistence.NewSnapshotManager(db)
	ctx := context.Background()

	snap := &persistence.SnapshotData{
		Sequence:  12,
		StateHash: make([]byte, 32),
		Funding:   persistence.FundingSnap{Factor: "1000000000000000000", LastTimestamp: 1_700_000_000},
		Nonces:    map[string]uint64{},
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, sm.SaveSnapshot(ctx, snap))

	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "unverified snapshot must not be used for recovery")

	require.NoError(t, sm.MarkVerified(ctx, 12))
	loaded, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(12), loaded.Sequence)
	assert.Equal(t, "1000000000000000000", loaded.Funding.Factor)
}
