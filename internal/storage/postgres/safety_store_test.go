package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"arb-edge/internal/domain"
	"arb-edge/internal/storage"
)

func TestAssetSafetyStore_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAssetSafetyStore(pool)

	rec := &domain.AssetSafety{
		Address: "0xAbCdEF1234567890abcdef1234567890ABCDEF12",
		Score:   73,
		Checks: domain.SafetyChecks{
			Liquidity:    domain.CheckResult{Passed: true, Score: 90},
			Verification: domain.CheckResult{Passed: true, Score: 100},
			Distribution: domain.CheckResult{Passed: false, Score: 0, Error: "provider timeout"},
			Volume:       domain.CheckResult{Passed: true, Score: 60},
			Blacklisted:  false,
			RugpullRisk:  domain.RiskLow,
		},
		UpdatedAt: 1000,
	}
	require.NoError(t, store.Upsert(ctx, rec))

	// Lookup by a differently cased spelling must hit the same row.
	got, err := store.GetByAddress(ctx, "0xabcdef1234567890abcdef1234567890abcdef12")
	require.NoError(t, err)
	require.Equal(t, 73, got.Score)
	require.Equal(t, rec.Checks, got.Checks)

	// Overwrite on re-evaluation.
	rec.Score = 0
	rec.Checks.Blacklisted = true
	rec.UpdatedAt = 2000
	require.NoError(t, store.Upsert(ctx, rec))

	got, err = store.GetByAddress(ctx, rec.Address)
	require.NoError(t, err)
	require.Equal(t, 0, got.Score)
	require.True(t, got.Checks.Blacklisted)

	_, err = store.GetByAddress(ctx, "0x9999999999999999999999999999999999999999")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAssetSafetyStore_GetByAddresses(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAssetSafetyStore(pool)

	a := "0x1111111111111111111111111111111111111111"
	b := "0x2222222222222222222222222222222222222222"
	require.NoError(t, store.Upsert(ctx, &domain.AssetSafety{Address: a, Score: 50, UpdatedAt: 1}))
	require.NoError(t, store.Upsert(ctx, &domain.AssetSafety{Address: b, Score: 60, UpdatedAt: 1}))

	got, err := store.GetByAddresses(ctx, []string{a, b, "0x3333333333333333333333333333333333333333"})
	require.NoError(t, err)
	require.Len(t, got, 2, "absent addresses are simply missing")
	require.Equal(t, 50, got[a].Score)
	require.Equal(t, 60, got[b].Score)
}
