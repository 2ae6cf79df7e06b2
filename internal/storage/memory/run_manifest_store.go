package memory

import (
	"context"
	"sort"
	"sync"

	"candle-lab/internal/domain"
	"candle-lab/internal/storage"
)

// RunManifestStore is an in-memory implementation of storage.RunManifestStore.
type RunManifestStore struct {
	mu   sync.RWMutex
	data map[string]*domain.IngestionRunManifest // keyed by run_id
}

// NewRunManifestStore creates a new in-memory run manifest store.
func NewRunManifestStore() *RunManifestStore {
	return &RunManifestStore{
		data: make(map[string]*domain.IngestionRunManifest),
	}
}

// Insert adds a new manifest. Returns ErrDuplicateKey if run_id exists.
func (s *RunManifestStore) Insert(_ context.Context, m *domain.IngestionRunManifest) error {
	if m == nil || m.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	manifestCopy := *m
	s.data[m.RunID] = &manifestCopy
	return nil
}

// Finish applies the single terminal transition with final counts.
func (s *RunManifestStore) Finish(_ context.Context, m *domain.IngestionRunManifest) error {
	if m == nil || m.RunID == "" {
		return storage.ErrInvalidInput
	}
	if !m.Status.IsTerminal() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data[m.RunID]
	if !exists {
		return storage.ErrNotFound
	}
	if existing.Status.IsTerminal() {
		return storage.ErrManifestTerminal
	}

	manifestCopy := *m
	s.data[m.RunID] = &manifestCopy
	return nil
}

// GetByID retrieves a manifest by run ID.
func (s *RunManifestStore) GetByID(_ context.Context, runID string) (*domain.IngestionRunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	manifestCopy := *m
	return &manifestCopy, nil
}

// GetByStatus retrieves all manifests with the given status, ordered by
// started_at ASC.
func (s *RunManifestStore) GetByStatus(_ context.Context, status domain.RunStatus) ([]*domain.IngestionRunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.IngestionRunManifest
	for _, m := range s.data {
		if m.Status == status {
			manifestCopy := *m
			result = append(result, &manifestCopy)
		}
	}
	sortManifests(result)
	return result, nil
}

// GetByTimeRange retrieves manifests started within [start, end] inclusive.
func (s *RunManifestStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.IngestionRunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.IngestionRunManifest
	for _, m := range s.data {
		if m.StartedAt >= start && m.StartedAt <= end {
			manifestCopy := *m
			result = append(result, &manifestCopy)
		}
	}
	sortManifests(result)
	return result, nil
}

// FindFaulty returns terminal runs whose error rate or zero-volume rate
// exceeds the given thresholds. Rates are relative to candles fetched;
// runs that fetched nothing are faulty only when failed outright.
func (s *RunManifestStore) FindFaulty(_ context.Context, maxErrorRate, maxZeroVolumeRate float64) ([]*domain.IngestionRunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.IngestionRunManifest
	for _, m := range s.data {
		if !m.Status.IsTerminal() {
			continue
		}
		if isFaulty(m, maxErrorRate, maxZeroVolumeRate) {
			manifestCopy := *m
			result = append(result, &manifestCopy)
		}
	}
	sortManifests(result)
	return result, nil
}

// isFaulty applies the faulty-run heuristic to a terminal manifest.
func isFaulty(m *domain.IngestionRunManifest, maxErrorRate, maxZeroVolumeRate float64) bool {
	if m.Status == domain.RunStatusFailed {
		return true
	}
	if m.CandlesFetched == 0 {
		return false
	}
	fetched := float64(m.CandlesFetched)
	if float64(m.ErrorsCount)/fetched > maxErrorRate {
		return true
	}
	if float64(m.ZeroVolumeCount)/fetched > maxZeroVolumeRate {
		return true
	}
	return false
}

// sortManifests orders by (started_at ASC, run_id ASC) for deterministic output.
func sortManifests(manifests []*domain.IngestionRunManifest) {
	sort.Slice(manifests, func(i, j int) bool {
		if manifests[i].StartedAt != manifests[j].StartedAt {
			return manifests[i].StartedAt < manifests[j].StartedAt
		}
		return manifests[i].RunID < manifests[j].RunID
	})
}

var _ storage.RunManifestStore = (*RunManifestStore)(nil)
