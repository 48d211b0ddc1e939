package clickhouse

import (
	"context"
	"fmt"

	"arb-edge/internal/domain"
	"arb-edge/internal/storage"
)

// OpportunityHistoryStore implements storage.OpportunityHistoryStore using
// ClickHouse. Append-only; MergeTree does not enforce uniqueness, and the
// archive deliberately keeps every snapshot.
type OpportunityHistoryStore struct {
	conn *Conn
}

// NewOpportunityHistoryStore creates a new OpportunityHistoryStore.
func NewOpportunityHistoryStore(conn *Conn) *OpportunityHistoryStore {
	return &OpportunityHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.OpportunityHistoryStore = (*OpportunityHistoryStore)(nil)

// InsertBatch appends a batch of scored snapshots.
func (s *OpportunityHistoryStore) InsertBatch(ctx context.Context, items []*domain.ScoredOpportunity) error {
	if len(items) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO opportunity_history (
			id, chain_id, dex_in, dex_out, base_token, quote_token,
			est_profit_usd, gas_usd,
			score, safety_score, profit_score, gas_score, freshness_score, ts
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare history batch: %w", err)
	}

	for _, item := range items {
		if item == nil {
			return storage.ErrInvalidInput
		}
		err := batch.Append(
			item.ID, item.ChainID, item.DexIn, item.DexOut, item.BaseToken, item.QuoteToken,
			item.EstProfitUsd, item.GasUsd,
			int32(item.Score), int32(item.SafetyScore), int32(item.ProfitScore),
			int32(item.GasScore), int32(item.FreshnessScore), item.Ts,
		)
		if err != nil {
			return fmt.Errorf("append history row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send history batch: %w", err)
	}
	return nil
}

// CountSince returns the number of archived snapshots with ts >= since.
func (s *OpportunityHistoryStore) CountSince(ctx context.Context, since int64) (uint64, error) {
	row := s.conn.QueryRow(ctx, `SELECT count() FROM opportunity_history WHERE ts >= ?`, since)

	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return count, nil
}
