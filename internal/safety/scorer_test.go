package safety

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"arb-edge/internal/domain"
	"arb-edge/internal/storage/memory"
)

const (
	addrClean = "0x1111111111111111111111111111111111111111"
	addrBad   = "0x2222222222222222222222222222222222222222"
)

// stubProvider returns configurable results per address.
type stubProvider struct {
	liquidity    map[string]domain.CheckResult
	verification map[string]domain.CheckResult
	distribution map[string]domain.CheckResult
	volume       map[string]domain.CheckResult
	blacklist    map[string]bool
	rugpull      map[string]domain.RiskLevel

	failLiquidity bool
	failBlacklist bool
	failRugpull   bool

	calls atomic.Int64
}

func (p *stubProvider) result(m map[string]domain.CheckResult, address string) (domain.CheckResult, error) {
	p.calls.Add(1)
	if r, ok := m[address]; ok {
		return r, nil
	}
	return domain.CheckResult{Passed: true, Score: 100}, nil
}

func (p *stubProvider) Liquidity(_ context.Context, address string, _ int64) (domain.CheckResult, error) {
	if p.failLiquidity {
		p.calls.Add(1)
		return domain.CheckResult{}, errors.New("liquidity provider unreachable")
	}
	return p.result(p.liquidity, address)
}

func (p *stubProvider) Verification(_ context.Context, address string, _ int64) (domain.CheckResult, error) {
	return p.result(p.verification, address)
}

func (p *stubProvider) Distribution(_ context.Context, address string, _ int64) (domain.CheckResult, error) {
	return p.result(p.distribution, address)
}

func (p *stubProvider) Volume(_ context.Context, address string, _ int64) (domain.CheckResult, error) {
	return p.result(p.volume, address)
}

func (p *stubProvider) Blacklisted(_ context.Context, address string) (bool, error) {
	p.calls.Add(1)
	if p.failBlacklist {
		return false, errors.New("blacklist provider unreachable")
	}
	return p.blacklist[address], nil
}

func (p *stubProvider) RugpullRisk(_ context.Context, address string, _ int64) (domain.RiskLevel, error) {
	p.calls.Add(1)
	if p.failRugpull {
		return "", errors.New("rugpull provider unreachable")
	}
	if r, ok := p.rugpull[address]; ok {
		return r, nil
	}
	return domain.RiskLow, nil
}

func TestScore_AllChecksPass(t *testing.T) {
	scorer := NewScorer(&stubProvider{}, ScorerOptions{})

	got, err := scorer.Score(context.Background(), []string{addrClean}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[addrClean]
	require.Equal(t, 100, rec.Score, "all perfect checks reduce to 100")
	require.True(t, rec.Checks.Liquidity.Passed)
	require.NotZero(t, rec.UpdatedAt)
}

func TestScore_WeightedReduction(t *testing.T) {
	provider := &stubProvider{
		liquidity:    map[string]domain.CheckResult{addrClean: {Passed: true, Score: 80}},
		verification: map[string]domain.CheckResult{addrClean: {Passed: true, Score: 100}},
		distribution: map[string]domain.CheckResult{addrClean: {Passed: true, Score: 60}},
		volume:       map[string]domain.CheckResult{addrClean: {Passed: true, Score: 40}},
		rugpull:      map[string]domain.RiskLevel{addrClean: domain.RiskMedium},
	}
	scorer := NewScorer(provider, ScorerOptions{})

	got, err := scorer.Score(context.Background(), []string{addrClean}, 1)
	require.NoError(t, err)

	// 0.25*80 + 0.15*100 + 0.20*60 + 0.20*40 + 0.20*50 = 65
	require.Equal(t, 65, got[addrClean].Score)
}

func TestScore_BlacklistShortCircuits(t *testing.T) {
	provider := &stubProvider{
		blacklist: map[string]bool{addrBad: true},
	}
	scorer := NewScorer(provider, ScorerOptions{})

	got, err := scorer.Score(context.Background(), []string{addrBad}, 1)
	require.NoError(t, err)

	rec := got[addrBad]
	require.Equal(t, 0, rec.Score, "blacklisted addresses score exactly 0")
	require.True(t, rec.Checks.Blacklisted)
	// Other checks are still reported for debuggability.
	require.Equal(t, 100, rec.Checks.Liquidity.Score)
}

func TestScore_ProviderFailureIsPessimisticNotFatal(t *testing.T) {
	provider := &stubProvider{failLiquidity: true}
	scorer := NewScorer(provider, ScorerOptions{})

	got, err := scorer.Score(context.Background(), []string{addrClean}, 1)
	require.NoError(t, err, "a failing provider must not fail the evaluation")

	rec := got[addrClean]
	require.False(t, rec.Checks.Liquidity.Passed)
	require.Equal(t, 0, rec.Checks.Liquidity.Score)
	require.NotEmpty(t, rec.Checks.Liquidity.Error)
	// 0.25*0 + 0.15*100 + 0.20*100 + 0.20*100 + 0.20*100 = 75
	require.Equal(t, 75, rec.Score)
}

func TestScore_RugpullFailureScoresAsUnknown(t *testing.T) {
	provider := &stubProvider{failRugpull: true}
	scorer := NewScorer(provider, ScorerOptions{})

	got, err := scorer.Score(context.Background(), []string{addrClean}, 1)
	require.NoError(t, err)

	rec := got[addrClean]
	require.Equal(t, domain.RiskUnknown, rec.Checks.RugpullRisk)
	// 0.25*100 + 0.15*100 + 0.20*100 + 0.20*100 + 0.20*0 = 80
	require.Equal(t, 80, rec.Score)
}

func TestScore_BlacklistFetchFailureDoesNotBlacklist(t *testing.T) {
	provider := &stubProvider{failBlacklist: true}
	scorer := NewScorer(provider, ScorerOptions{})

	got, err := scorer.Score(context.Background(), []string{addrClean}, 1)
	require.NoError(t, err)
	require.False(t, got[addrClean].Checks.Blacklisted)
	require.Equal(t, 100, got[addrClean].Score)
}

func TestScore_BoundsForAllInputs(t *testing.T) {
	provider := &stubProvider{
		liquidity: map[string]domain.CheckResult{addrClean: {Passed: true, Score: 500}},
		volume:    map[string]domain.CheckResult{addrClean: {Passed: true, Score: -50}},
	}
	scorer := NewScorer(provider, ScorerOptions{})

	got, err := scorer.Score(context.Background(), []string{addrClean}, 1)
	require.NoError(t, err)

	rec := got[addrClean]
	require.GreaterOrEqual(t, rec.Score, 0)
	require.LessOrEqual(t, rec.Score, 100)
	require.Equal(t, 100, rec.Checks.Liquidity.Score, "provider scores are clamped")
	require.Equal(t, 0, rec.Checks.Volume.Score)
}

func TestScore_PersistsToStore(t *testing.T) {
	store := memory.NewAssetSafetyStore()
	scorer := NewScorer(&stubProvider{}, ScorerOptions{Store: store})

	_, err := scorer.Score(context.Background(), []string{addrClean}, 1)
	require.NoError(t, err)

	rec, err := store.GetByAddress(context.Background(), addrClean)
	require.NoError(t, err)
	require.Equal(t, 100, rec.Score)
}

func TestResults_ServesStoredRecordsFirst(t *testing.T) {
	store := memory.NewAssetSafetyStore()
	require.NoError(t, store.Upsert(context.Background(), &domain.AssetSafety{
		Address: addrClean, Score: 42, UpdatedAt: 1,
	}))

	provider := &stubProvider{}
	scorer := NewScorer(provider, ScorerOptions{Store: store})

	got, err := scorer.Results(context.Background(), []string{addrClean, addrBad}, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 42, got[addrClean].Score, "stored record served without re-evaluation")
	require.Equal(t, 100, got[addrBad].Score, "missing address evaluated")

	// Only the missing address hit the provider: 6 checks for one address.
	require.EqualValues(t, 6, provider.calls.Load())
}

func TestLookup_ReturnsScoresKeyedByNormalizedAddress(t *testing.T) {
	scorer := NewScorer(&stubProvider{}, ScorerOptions{})

	got, err := scorer.Lookup(context.Background(), []string{"0x1111111111111111111111111111111111111111"}, 1)
	require.NoError(t, err)
	require.Equal(t, map[string]int{addrClean: 100}, got)
}

func TestReduce_WeightsSumToOne(t *testing.T) {
	sum := weightLiquidity + weightVerification + weightDistribution + weightVolume + weightRugpull
	require.InDelta(t, 1.0, sum, 1e-9)
}
