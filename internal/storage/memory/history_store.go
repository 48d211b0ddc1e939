package memory

import (
	"context"
	"sync"

	"arb-edge/internal/domain"
	"arb-edge/internal/storage"
)

// OpportunityHistoryStore is an in-memory implementation of
// storage.OpportunityHistoryStore. Append-only, like the ClickHouse backend.
type OpportunityHistoryStore struct {
	mu   sync.RWMutex
	rows []*domain.ScoredOpportunity
}

// NewOpportunityHistoryStore creates a new in-memory history store.
func NewOpportunityHistoryStore() *OpportunityHistoryStore {
	return &OpportunityHistoryStore{}
}

// Compile-time interface check.
var _ storage.OpportunityHistoryStore = (*OpportunityHistoryStore)(nil)

// InsertBatch appends a batch of scored snapshots.
func (s *OpportunityHistoryStore) InsertBatch(_ context.Context, items []*domain.ScoredOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if item == nil {
			return storage.ErrInvalidInput
		}
		cp := *item
		s.rows = append(s.rows, &cp)
	}
	return nil
}

// CountSince returns the number of archived snapshots with ts >= since.
func (s *OpportunityHistoryStore) CountSince(_ context.Context, since int64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n uint64
	for _, row := range s.rows {
		if row.Ts >= since {
			n++
		}
	}
	return n, nil
}
