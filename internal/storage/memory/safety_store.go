package memory

import (
	"context"
	"sync"

	"arb-edge/internal/domain"
	"arb-edge/internal/storage"
)

// AssetSafetyStore is an in-memory implementation of storage.AssetSafetyStore.
type AssetSafetyStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AssetSafety // keyed by normalized address
}

// NewAssetSafetyStore creates a new in-memory asset safety store.
func NewAssetSafetyStore() *AssetSafetyStore {
	return &AssetSafetyStore{
		data: make(map[string]*domain.AssetSafety),
	}
}

// Compile-time interface check.
var _ storage.AssetSafetyStore = (*AssetSafetyStore)(nil)

// Upsert inserts or overwrites the record keyed by address.
func (s *AssetSafetyStore) Upsert(_ context.Context, rec *domain.AssetSafety) error {
	if rec == nil || rec.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	cp.Address = domain.NormalizeAddress(rec.Address)
	s.data[cp.Address] = &cp
	return nil
}

// GetByAddress retrieves a record by address. Returns ErrNotFound if not exists.
func (s *AssetSafetyStore) GetByAddress(_ context.Context, address string) (*domain.AssetSafety, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[domain.NormalizeAddress(address)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *rec
	return &cp, nil
}

// GetByAddresses retrieves all present records for the given addresses.
func (s *AssetSafetyStore) GetByAddresses(_ context.Context, addresses []string) (map[string]*domain.AssetSafety, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.AssetSafety, len(addresses))
	for _, addr := range addresses {
		key := domain.NormalizeAddress(addr)
		if rec, exists := s.data[key]; exists {
			cp := *rec
			result[key] = &cp
		}
	}
	return result, nil
}
