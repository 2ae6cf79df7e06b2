package memory

import (
	"context"
	"sort"
	"sync"

	"candle-lab/internal/domain"
	"candle-lab/internal/idhash"
	"candle-lab/internal/storage"
)

// ResultStore is an in-memory implementation of storage.ResultStore.
type ResultStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SimulationResult // keyed by (asset, spec_id, entry_timestamp)
}

// NewResultStore creates a new in-memory simulation result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		data: make(map[string]*domain.SimulationResult),
	}
}

// resultKey generates a unique key for a result.
func resultKey(r *domain.SimulationResult) string {
	return idhash.ComputeResultID(r.Asset, r.SpecID, r.EntryTimestamp)
}

// Insert adds a result. Returns ErrDuplicateKey if the key exists.
func (s *ResultStore) Insert(_ context.Context, r *domain.SimulationResult) error {
	if r == nil || r.Asset == "" || r.SpecID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := resultKey(r)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	resultCopy := *r
	s.data[key] = &resultCopy
	return nil
}

// InsertBulk adds multiple results. Fails the entire batch on any duplicate.
func (s *ResultStore) InsertBulk(_ context.Context, results []*domain.SimulationResult) error {
	if len(results) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r == nil || r.Asset == "" || r.SpecID == "" {
			return storage.ErrInvalidInput
		}
		key := resultKey(r)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range results {
		resultCopy := *r
		s.data[resultKey(r)] = &resultCopy
	}
	return nil
}

// GetBySpecID retrieves all results for a strategy spec, ordered by entry
// timestamp ASC.
func (s *ResultStore) GetBySpecID(_ context.Context, specID string) ([]*domain.SimulationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SimulationResult
	for _, r := range s.data {
		if r.SpecID == specID {
			resultCopy := *r
			result = append(result, &resultCopy)
		}
	}
	sortResults(result)
	return result, nil
}

// GetByAsset retrieves all results for an asset, ordered by entry
// timestamp ASC.
func (s *ResultStore) GetByAsset(_ context.Context, asset string) ([]*domain.SimulationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SimulationResult
	for _, r := range s.data {
		if r.Asset == asset {
			resultCopy := *r
			result = append(result, &resultCopy)
		}
	}
	sortResults(result)
	return result, nil
}

// sortResults orders by (entry_timestamp ASC, asset ASC, spec_id ASC).
func sortResults(results []*domain.SimulationResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].EntryTimestamp != results[j].EntryTimestamp {
			return results[i].EntryTimestamp < results[j].EntryTimestamp
		}
		if results[i].Asset != results[j].Asset {
			return results[i].Asset < results[j].Asset
		}
		return results[i].SpecID < results[j].SpecID
	})
}

var _ storage.ResultStore = (*ResultStore)(nil)
