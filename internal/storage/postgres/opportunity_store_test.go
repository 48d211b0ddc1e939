package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"arb-edge/internal/domain"
	"arb-edge/internal/storage"
)

func testOpportunity(id string, chainID, ts int64) *domain.Opportunity {
	return &domain.Opportunity{
		ID:           id,
		ChainID:      chainID,
		DexIn:        "uniswap-v3",
		DexOut:       "sushiswap",
		BaseToken:    "0x1111111111111111111111111111111111111111",
		QuoteToken:   "0x2222222222222222222222222222222222222222",
		AmountIn:     "1250.000000000000000001",
		EstProfitUsd: 42.5,
		GasUsd:       3.25,
		Ts:           ts,
	}
}

func TestOpportunityStore_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewOpportunityStore(pool)

	o := testOpportunity("opp-1", 1, 1000)
	require.NoError(t, store.Upsert(ctx, o))

	got, err := store.GetByID(ctx, "opp-1")
	require.NoError(t, err)
	require.Equal(t, o, got)

	// Upsert overwrites in place.
	o.GasUsd = 7.75
	o.UpdatedAt = 2000
	require.NoError(t, store.Upsert(ctx, o))

	got, err = store.GetByID(ctx, "opp-1")
	require.NoError(t, err)
	require.Equal(t, 7.75, got.GasUsd)
	require.EqualValues(t, 2000, got.UpdatedAt)

	_, err = store.GetByID(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpportunityStore_BulkListDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewOpportunityStore(pool)

	require.NoError(t, store.UpsertBulk(ctx, []*domain.Opportunity{
		testOpportunity("a", 1, 300),
		testOpportunity("b", 1, 100),
		testOpportunity("c", 2, 200),
	}))

	got, err := store.List(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ID, "newest first")
	require.Equal(t, "b", got[1].ID)

	got, err = store.List(ctx, 0, 150)
	require.NoError(t, err)
	require.Len(t, got, 2)

	removed, err := store.DeleteOlderThan(ctx, 250)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	got, err = store.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].ID)
}
