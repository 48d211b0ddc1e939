package memory

import (
	"context"
	"sort"
	"sync"

	"arb-edge/internal/domain"
	"arb-edge/internal/storage"
)

// OpportunityStore is an in-memory implementation of storage.OpportunityStore.
type OpportunityStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Opportunity // keyed by id
}

// NewOpportunityStore creates a new in-memory opportunity store.
func NewOpportunityStore() *OpportunityStore {
	return &OpportunityStore{
		data: make(map[string]*domain.Opportunity),
	}
}

// Compile-time interface check.
var _ storage.OpportunityStore = (*OpportunityStore)(nil)

// Upsert inserts or overwrites the record keyed by id.
func (s *OpportunityStore) Upsert(_ context.Context, o *domain.Opportunity) error {
	if o == nil || o.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	cp := *o
	s.data[o.ID] = &cp
	return nil
}

// UpsertBulk inserts or overwrites multiple records.
func (s *OpportunityStore) UpsertBulk(ctx context.Context, opportunities []*domain.Opportunity) error {
	for _, o := range opportunities {
		if err := s.Upsert(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves an opportunity by its ID. Returns ErrNotFound if not exists.
func (s *OpportunityStore) GetByID(_ context.Context, id string) (*domain.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *o
	return &cp, nil
}

// List retrieves opportunities, newest first.
func (s *OpportunityStore) List(_ context.Context, chainID int64, since int64) ([]*domain.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Opportunity
	for _, o := range s.data {
		if chainID != 0 && o.ChainID != chainID {
			continue
		}
		if since != 0 && o.Ts < since {
			continue
		}
		cp := *o
		result = append(result, &cp)
	}

	// Sort by ts DESC, id ASC for determinism
	sort.Slice(result, func(i, j int) bool {
		if result[i].Ts != result[j].Ts {
			return result[i].Ts > result[j].Ts
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// DeleteOlderThan removes records with ts < cutoff.
func (s *OpportunityStore) DeleteOlderThan(_ context.Context, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, o := range s.data {
		if o.Ts < cutoff {
			delete(s.data, id)
			removed++
		}
	}
	return removed, nil
}
