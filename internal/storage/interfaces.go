package storage

import (
	"context"

	"arb-edge/internal/domain"
)

// OpportunityStore provides access to opportunities storage.
type OpportunityStore interface {
	// Upsert inserts or overwrites the record keyed by id.
	Upsert(ctx context.Context, o *domain.Opportunity) error

	// UpsertBulk inserts or overwrites multiple records.
	UpsertBulk(ctx context.Context, opportunities []*domain.Opportunity) error

	// GetByID retrieves an opportunity by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Opportunity, error)

	// List retrieves opportunities, newest first. chainID 0 means all chains;
	// since 0 means no lower bound on ts.
	List(ctx context.Context, chainID int64, since int64) ([]*domain.Opportunity, error)

	// DeleteOlderThan removes records with ts < cutoff. Returns the count removed.
	DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error)
}

// AssetSafetyStore provides access to asset_safety storage.
type AssetSafetyStore interface {
	// Upsert inserts or overwrites the record keyed by address.
	Upsert(ctx context.Context, s *domain.AssetSafety) error

	// GetByAddress retrieves a record by address. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.AssetSafety, error)

	// GetByAddresses retrieves all present records for the given addresses.
	// Absent addresses are simply missing from the result map.
	GetByAddresses(ctx context.Context, addresses []string) (map[string]*domain.AssetSafety, error)
}

// OpportunityHistoryStore provides access to the analytics archive of
// scored opportunity snapshots.
type OpportunityHistoryStore interface {
	// InsertBatch appends a batch of scored snapshots.
	InsertBatch(ctx context.Context, items []*domain.ScoredOpportunity) error

	// CountSince returns the number of archived snapshots with ts >= since.
	CountSince(ctx context.Context, since int64) (uint64, error)
}
