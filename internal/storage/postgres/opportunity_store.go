package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"arb-edge/internal/domain"
	"arb-edge/internal/storage"
)

// OpportunityStore implements storage.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OpportunityStore = (*OpportunityStore)(nil)

const upsertOpportunitySQL = `
	INSERT INTO opportunities (
		id, chain_id, dex_in, dex_out, base_token, quote_token,
		amount_in, est_profit_usd, gas_usd, ts, is_testnet, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		chain_id = EXCLUDED.chain_id,
		dex_in = EXCLUDED.dex_in,
		dex_out = EXCLUDED.dex_out,
		base_token = EXCLUDED.base_token,
		quote_token = EXCLUDED.quote_token,
		amount_in = EXCLUDED.amount_in,
		est_profit_usd = EXCLUDED.est_profit_usd,
		gas_usd = EXCLUDED.gas_usd,
		ts = EXCLUDED.ts,
		is_testnet = EXCLUDED.is_testnet,
		updated_at = EXCLUDED.updated_at
`

// Upsert inserts or overwrites the record keyed by id.
func (s *OpportunityStore) Upsert(ctx context.Context, o *domain.Opportunity) error {
	if o == nil || o.ID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, upsertOpportunitySQL,
		o.ID, o.ChainID, o.DexIn, o.DexOut, o.BaseToken, o.QuoteToken,
		o.AmountIn, o.EstProfitUsd, o.GasUsd, o.Ts, o.IsTestnet, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert opportunity: %w", err)
	}
	return nil
}

// UpsertBulk inserts or overwrites multiple records in one batch round trip.
func (s *OpportunityStore) UpsertBulk(ctx context.Context, opportunities []*domain.Opportunity) error {
	if len(opportunities) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, o := range opportunities {
		if o == nil || o.ID == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(upsertOpportunitySQL,
			o.ID, o.ChainID, o.DexIn, o.DexOut, o.BaseToken, o.QuoteToken,
			o.AmountIn, o.EstProfitUsd, o.GasUsd, o.Ts, o.IsTestnet, o.UpdatedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range opportunities {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert opportunity batch: %w", err)
		}
	}
	return nil
}

// GetByID retrieves an opportunity by its ID. Returns ErrNotFound if not exists.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (*domain.Opportunity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, chain_id, dex_in, dex_out, base_token, quote_token,
		       amount_in, est_profit_usd, gas_usd, ts, is_testnet, updated_at
		FROM opportunities WHERE id = $1
	`, id)

	o, err := scanOpportunity(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get opportunity by id: %w", err)
	}
	return o, nil
}

// List retrieves opportunities, newest first.
func (s *OpportunityStore) List(ctx context.Context, chainID int64, since int64) ([]*domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chain_id, dex_in, dex_out, base_token, quote_token,
		       amount_in, est_profit_usd, gas_usd, ts, is_testnet, updated_at
		FROM opportunities
		WHERE ($1 = 0 OR chain_id = $1) AND ts >= $2
		ORDER BY ts DESC, id ASC
	`, chainID, since)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	var result []*domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate opportunities: %w", err)
	}
	return result, nil
}

// DeleteOlderThan removes records with ts < cutoff.
func (s *OpportunityStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOpportunity(row pgx.Row) (*domain.Opportunity, error) {
	var o domain.Opportunity
	err := row.Scan(
		&o.ID, &o.ChainID, &o.DexIn, &o.DexOut, &o.BaseToken, &o.QuoteToken,
		&o.AmountIn, &o.EstProfitUsd, &o.GasUsd, &o.Ts, &o.IsTestnet, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
