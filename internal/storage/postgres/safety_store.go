package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"arb-edge/internal/domain"
	"arb-edge/internal/storage"
)

// AssetSafetyStore implements storage.AssetSafetyStore using PostgreSQL.
// Sub-check results are stored as JSONB.
type AssetSafetyStore struct {
	pool *Pool
}

// NewAssetSafetyStore creates a new AssetSafetyStore.
func NewAssetSafetyStore(pool *Pool) *AssetSafetyStore {
	return &AssetSafetyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AssetSafetyStore = (*AssetSafetyStore)(nil)

// Upsert inserts or overwrites the record keyed by address.
func (s *AssetSafetyStore) Upsert(ctx context.Context, rec *domain.AssetSafety) error {
	if rec == nil || rec.Address == "" {
		return storage.ErrInvalidInput
	}

	checks, err := json.Marshal(rec.Checks)
	if err != nil {
		return fmt.Errorf("marshal safety checks: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO asset_safety (address, score, checks, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			score = EXCLUDED.score,
			checks = EXCLUDED.checks,
			updated_at = EXCLUDED.updated_at
	`, domain.NormalizeAddress(rec.Address), rec.Score, checks, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert asset safety: %w", err)
	}
	return nil
}

// GetByAddress retrieves a record by address. Returns ErrNotFound if not exists.
func (s *AssetSafetyStore) GetByAddress(ctx context.Context, address string) (*domain.AssetSafety, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, score, checks, updated_at
		FROM asset_safety WHERE address = $1
	`, domain.NormalizeAddress(address))

	var rec domain.AssetSafety
	var checks []byte
	if err := row.Scan(&rec.Address, &rec.Score, &checks, &rec.UpdatedAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset safety: %w", err)
	}
	if err := json.Unmarshal(checks, &rec.Checks); err != nil {
		return nil, fmt.Errorf("unmarshal safety checks: %w", err)
	}
	return &rec, nil
}

// GetByAddresses retrieves all present records for the given addresses.
func (s *AssetSafetyStore) GetByAddresses(ctx context.Context, addresses []string) (map[string]*domain.AssetSafety, error) {
	if len(addresses) == 0 {
		return map[string]*domain.AssetSafety{}, nil
	}

	normalized := make([]string, len(addresses))
	for i, a := range addresses {
		normalized[i] = domain.NormalizeAddress(a)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT address, score, checks, updated_at
		FROM asset_safety WHERE address = ANY($1)
	`, normalized)
	if err != nil {
		return nil, fmt.Errorf("get asset safety batch: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*domain.AssetSafety, len(addresses))
	for rows.Next() {
		var rec domain.AssetSafety
		var checks []byte
		if err := rows.Scan(&rec.Address, &rec.Score, &checks, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan asset safety: %w", err)
		}
		if err := json.Unmarshal(checks, &rec.Checks); err != nil {
			return nil, fmt.Errorf("unmarshal safety checks: %w", err)
		}
		result[rec.Address] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset safety: %w", err)
	}
	return result, nil
}
