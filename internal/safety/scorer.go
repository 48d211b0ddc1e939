// Package safety computes per-address asset safety scores from parallel
// sub-checks with pessimistic failure defaults.
package safety

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arb-edge/internal/domain"
	"arb-edge/internal/observability"
	"arb-edge/internal/storage"
)

// DefaultBatchSize is the number of addresses evaluated concurrently.
const DefaultBatchSize = 20

// Reduction weights. Must sum to 1.0.
const (
	weightLiquidity    = 0.25
	weightVerification = 0.15
	weightDistribution = 0.20
	weightVolume       = 0.20
	weightRugpull      = 0.20
)

// CheckProvider supplies the six per-address sub-checks. The engine client
// is the production implementation.
type CheckProvider interface {
	Liquidity(ctx context.Context, address string, chainID int64) (domain.CheckResult, error)
	Verification(ctx context.Context, address string, chainID int64) (domain.CheckResult, error)
	Distribution(ctx context.Context, address string, chainID int64) (domain.CheckResult, error)
	Volume(ctx context.Context, address string, chainID int64) (domain.CheckResult, error)
	Blacklisted(ctx context.Context, address string) (bool, error)
	RugpullRisk(ctx context.Context, address string, chainID int64) (domain.RiskLevel, error)
}

// Scorer evaluates addresses in batches, fanning out all sub-checks
// concurrently per address. Provider failures degrade the affected check
// to a zero score; they never fail the evaluation.
type Scorer struct {
	provider  CheckProvider
	store     storage.AssetSafetyStore // optional; evaluations are persisted when set
	batchSize int
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// ScorerOptions configures a Scorer.
type ScorerOptions struct {
	// Store persists evaluations when non-nil. Persist failures are
	// logged and swallowed.
	Store storage.AssetSafetyStore
	// BatchSize is the per-batch address count; 0 means DefaultBatchSize.
	BatchSize int
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// Metrics is optional.
	Metrics *observability.Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewScorer creates a Scorer.
func NewScorer(provider CheckProvider, opts ScorerOptions) *Scorer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scorer{
		provider:  provider,
		store:     opts.Store,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// Score evaluates all addresses and returns a record per address, keyed by
// normalized address. Evaluations are persisted to the store when one is
// configured. The only returned error is context cancellation.
func (s *Scorer) Score(ctx context.Context, addresses []string, chainID int64) (map[string]*domain.AssetSafety, error) {
	out := make(map[string]*domain.AssetSafety, len(addresses))
	var mu sync.Mutex

	for start := 0; start < len(addresses); start += s.batchSize {
		end := start + s.batchSize
		if end > len(addresses) {
			end = len(addresses)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, addr := range addresses[start:end] {
			g.Go(func() error {
				rec := s.evaluate(gctx, addr, chainID)
				mu.Lock()
				out[rec.Address] = rec
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return out, err
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
	}

	s.persist(ctx, out)
	return out, nil
}

// Results returns safety records for addresses, serving persisted records
// from the store and evaluating only the missing ones.
func (s *Scorer) Results(ctx context.Context, addresses []string, chainID int64) (map[string]*domain.AssetSafety, error) {
	normalized := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		key := domain.NormalizeAddress(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, key)
	}

	known := make(map[string]*domain.AssetSafety, len(normalized))
	if s.store != nil {
		stored, err := s.store.GetByAddresses(ctx, normalized)
		if err != nil {
			s.logger.Warn("safety store lookup failed, evaluating all addresses", zap.Error(err))
		} else {
			known = stored
		}
	}

	var missing []string
	for _, addr := range normalized {
		if _, ok := known[addr]; !ok {
			missing = append(missing, addr)
		}
	}
	if len(missing) > 0 {
		evaluated, err := s.Score(ctx, missing, chainID)
		if err != nil {
			return known, err
		}
		for addr, rec := range evaluated {
			known[addr] = rec
		}
	}

	return known, nil
}

// Lookup returns just the scores for addresses, for the aggregator.
func (s *Scorer) Lookup(ctx context.Context, addresses []string, chainID int64) (map[string]int, error) {
	records, err := s.Results(ctx, addresses, chainID)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]int, len(records))
	for addr, rec := range records {
		scores[addr] = rec.Score
	}
	return scores, nil
}

// evaluate runs all six sub-checks for one address concurrently and
// reduces them to a single record.
func (s *Scorer) evaluate(ctx context.Context, address string, chainID int64) *domain.AssetSafety {
	var checks domain.SafetyChecks

	var wg sync.WaitGroup
	wg.Add(6)
	go func() {
		defer wg.Done()
		checks.Liquidity = s.runCheck(ctx, "liquidity", address, chainID, s.provider.Liquidity)
	}()
	go func() {
		defer wg.Done()
		checks.Verification = s.runCheck(ctx, "verification", address, chainID, s.provider.Verification)
	}()
	go func() {
		defer wg.Done()
		checks.Distribution = s.runCheck(ctx, "distribution", address, chainID, s.provider.Distribution)
	}()
	go func() {
		defer wg.Done()
		checks.Volume = s.runCheck(ctx, "volume", address, chainID, s.provider.Volume)
	}()
	go func() {
		defer wg.Done()
		blacklisted, err := s.provider.Blacklisted(ctx, address)
		if err != nil {
			// Failure to read the blacklist does not prove membership;
			// the weighted checks still carry their own pessimism.
			s.countFailure("blacklist")
			s.logger.Warn("blacklist check failed", zap.String("address", address), zap.Error(err))
			blacklisted = false
		}
		checks.Blacklisted = blacklisted
	}()
	go func() {
		defer wg.Done()
		risk, err := s.provider.RugpullRisk(ctx, address, chainID)
		if err != nil {
			s.countFailure("rugpull")
			s.logger.Warn("rugpull check failed", zap.String("address", address), zap.Error(err))
			risk = domain.RiskUnknown
		}
		checks.RugpullRisk = risk
	}()
	wg.Wait()

	if s.metrics != nil {
		s.metrics.SafetyEvaluations.Inc()
	}
	return &domain.AssetSafety{
		Address:   domain.NormalizeAddress(address),
		Score:     Reduce(checks),
		Checks:    checks,
		UpdatedAt: s.now().UnixMilli(),
	}
}

type checkFn func(ctx context.Context, address string, chainID int64) (domain.CheckResult, error)

// runCheck executes one weighted sub-check, substituting the pessimistic
// default on failure.
func (s *Scorer) runCheck(ctx context.Context, name, address string, chainID int64, fn checkFn) domain.CheckResult {
	result, err := fn(ctx, address, chainID)
	if err != nil {
		s.countFailure(name)
		s.logger.Warn("safety check failed",
			zap.String("check", name),
			zap.String("address", address),
			zap.Error(err))
		return domain.CheckResult{Passed: false, Score: 0, Error: err.Error()}
	}
	if result.Score < 0 {
		result.Score = 0
	} else if result.Score > 100 {
		result.Score = 100
	}
	return result
}

// Reduce collapses sub-check results into the final 0-100 score.
// Blacklist membership is authoritative: the score is 0 regardless of the
// other checks, though they remain reported.
func Reduce(checks domain.SafetyChecks) int {
	if checks.Blacklisted {
		return 0
	}
	weighted := weightLiquidity*float64(checks.Liquidity.Score) +
		weightVerification*float64(checks.Verification.Score) +
		weightDistribution*float64(checks.Distribution.Score) +
		weightVolume*float64(checks.Volume.Score) +
		weightRugpull*float64(RugpullScore(checks.RugpullRisk))
	return int(math.Round(weighted))
}

// RugpullScore maps the categorical risk to its numeric contribution.
// Unknown classifications score as pessimistically as high risk.
func RugpullScore(risk domain.RiskLevel) int {
	switch risk {
	case domain.RiskLow:
		return 100
	case domain.RiskMedium:
		return 50
	default: // high, unknown, or unrecognized
		return 0
	}
}

// persist writes evaluations to the store; failures are logged and
// swallowed, never surfaced to the scoring request.
func (s *Scorer) persist(ctx context.Context, records map[string]*domain.AssetSafety) {
	if s.store == nil {
		return
	}
	for _, rec := range records {
		if err := s.store.Upsert(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("persist safety record failed",
				zap.String("address", rec.Address),
				zap.Error(err))
		}
	}
}

func (s *Scorer) countFailure(check string) {
	if s.metrics != nil {
		s.metrics.SafetyCheckFailures.WithLabelValues(check).Inc()
	}
}
