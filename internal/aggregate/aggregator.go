// Package aggregate merges persisted and live opportunity records, then
// filters, scores, sorts, and paginates them for the query surface.
package aggregate

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"arb-edge/internal/domain"
)

// Scoring weights. Must sum to 1.0.
const (
	weightProfit    = 0.35
	weightGas       = 0.25
	weightSafety    = 0.25
	weightFreshness = 0.15
)

// neutralSafetyScore is assumed for addresses with no safety record:
// neither penalized nor rewarded.
const neutralSafetyScore = 50

// SafetySource resolves safety scores for token addresses.
type SafetySource interface {
	Lookup(ctx context.Context, addresses []string, chainID int64) (map[string]int, error)
}

// Result is the aggregation outcome. Total counts the filtered set before
// pagination.
type Result struct {
	Items []*domain.ScoredOpportunity `json:"items"`
	Total int                         `json:"total"`
}

// Aggregator runs the merge/filter/score/sort/paginate pipeline.
type Aggregator struct {
	safety SafetySource
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates an Aggregator. A nil logger defaults to zap.NewNop().
func NewAggregator(safety SafetySource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		safety: safety,
		logger: logger,
		now:    time.Now,
	}
}

// Aggregate merges persisted and live records and runs the full pipeline.
// A failing safety lookup degrades every address to the neutral default
// rather than failing the request.
func (a *Aggregator) Aggregate(ctx context.Context, persisted, live []*domain.Opportunity, q *domain.OpportunityQuery) (*Result, error) {
	nowMs := a.now().UnixMilli()

	merged := Merge(persisted, live, nowMs)

	filtered := merged[:0:0]
	for _, o := range merged {
		if matches(o, q) {
			filtered = append(filtered, o)
		}
	}

	safetyByAddr := a.lookupSafety(ctx, filtered, q.ChainID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scored := make([]*domain.ScoredOpportunity, len(filtered))
	for i, o := range filtered {
		scored[i] = scoreOne(o, safetyByAddr, nowMs)
	}

	sortItems(scored, q.SortBy, q.Order)

	total := len(scored)
	return &Result{Items: paginate(scored, q.Offset, q.Limit), Total: total}, nil
}

// Merge builds the union of persisted and live records keyed by id. Live
// records win on conflict: the whole record overlays the persisted one and
// UpdatedAt is stamped. Live-only records are inserted as-is. Input order
// is preserved (persisted first, then new live ids).
func Merge(persisted, live []*domain.Opportunity, nowMs int64) []*domain.Opportunity {
	index := make(map[string]int, len(persisted)+len(live))
	out := make([]*domain.Opportunity, 0, len(persisted)+len(live))

	insert := func(o *domain.Opportunity, overlayStamp bool) {
		if o == nil || o.ID == "" {
			return
		}
		cp := *o
		if i, ok := index[o.ID]; ok {
			if overlayStamp {
				cp.UpdatedAt = nowMs
			}
			out[i] = &cp
			return
		}
		index[o.ID] = len(out)
		out = append(out, &cp)
	}

	for _, o := range persisted {
		insert(o, false)
	}
	for _, o := range live {
		insert(o, true)
	}
	return out
}

// matches applies the AND-combined filter set. Absent filters constrain
// nothing.
func matches(o *domain.Opportunity, q *domain.OpportunityQuery) bool {
	if q.ChainID > 0 && o.ChainID != q.ChainID {
		return false
	}
	if !q.IncludeTestnet && o.IsTestnet {
		return false
	}
	if q.MinProfit != nil && o.EstProfitUsd < *q.MinProfit {
		return false
	}
	if q.MaxGas != nil && o.GasUsd > *q.MaxGas {
		return false
	}
	if q.Dex != "" && !containsFold(o.DexIn, q.Dex) && !containsFold(o.DexOut, q.Dex) {
		return false
	}
	if q.Token != "" && !containsFold(o.BaseToken, q.Token) && !containsFold(o.QuoteToken, q.Token) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// lookupSafety resolves scores for the union of token addresses referenced
// by the filtered set. Lookup failure degrades to an empty map; scoreOne
// then falls back to the neutral default per address.
func (a *Aggregator) lookupSafety(ctx context.Context, items []*domain.Opportunity, chainID int64) map[string]int {
	if a.safety == nil || len(items) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(items)*2)
	addresses := make([]string, 0, len(items)*2)
	for _, o := range items {
		for _, addr := range []string{o.BaseToken, o.QuoteToken} {
			key := domain.NormalizeAddress(addr)
			if _, dup := seen[key]; dup || key == "" {
				continue
			}
			seen[key] = struct{}{}
			addresses = append(addresses, key)
		}
	}

	scores, err := a.safety.Lookup(ctx, addresses, chainID)
	if err != nil {
		a.logger.Warn("safety lookup failed, scoring with neutral defaults",
			zap.Int("addresses", len(addresses)),
			zap.Error(err))
		return nil
	}
	return scores
}

// scoreOne computes the derived request-scoped scores for one record.
// All sub-scores are clamped to [0,100] and retained on the output for
// debuggability.
func scoreOne(o *domain.Opportunity, safetyByAddr map[string]int, nowMs int64) *domain.ScoredOpportunity {
	profitScore := clampScore(o.EstProfitUsd / 100 * 100)
	gasScore := clampScore(100 - o.GasUsd/50*100)

	baseScore := safetyFor(safetyByAddr, o.BaseToken)
	quoteScore := safetyFor(safetyByAddr, o.QuoteToken)
	safetyScore := int(math.Round(float64(baseScore+quoteScore) / 2))

	ageMinutes := float64(nowMs-o.Ts) / 60000
	freshnessScore := clampScore(100 - ageMinutes*10)

	total := int(math.Round(weightProfit*float64(profitScore) +
		weightGas*float64(gasScore) +
		weightSafety*float64(safetyScore) +
		weightFreshness*float64(freshnessScore)))

	return &domain.ScoredOpportunity{
		Opportunity:    *o,
		Score:          total,
		SafetyScore:    safetyScore,
		ProfitScore:    profitScore,
		GasScore:       gasScore,
		FreshnessScore: freshnessScore,
	}
}

func safetyFor(safetyByAddr map[string]int, address string) int {
	if score, ok := safetyByAddr[domain.NormalizeAddress(address)]; ok {
		return score
	}
	return neutralSafetyScore
}

func clampScore(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

// sortItems sorts stably so equal keys preserve relative input order.
func sortItems(items []*domain.ScoredOpportunity, key domain.SortKey, order domain.SortOrder) {
	less := func(i, j *domain.ScoredOpportunity) bool {
		switch key {
		case domain.SortProfit:
			return i.EstProfitUsd < j.EstProfitUsd
		case domain.SortGas:
			return i.GasUsd < j.GasUsd
		case domain.SortTimestamp:
			return i.Ts < j.Ts
		default: // score
			return i.Score < j.Score
		}
	}

	sort.SliceStable(items, func(a, b int) bool {
		if order == domain.OrderAsc {
			return less(items[a], items[b])
		}
		return less(items[b], items[a])
	})
}

// paginate returns the [offset, offset+limit) window. Out-of-range offsets
// yield an empty slice.
func paginate(items []*domain.ScoredOpportunity, offset, limit int) []*domain.ScoredOpportunity {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []*domain.ScoredOpportunity{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
