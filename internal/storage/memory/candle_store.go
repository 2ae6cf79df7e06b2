package memory

import (
	"context"
	"sort"
	"sync"

	"candle-lab/internal/domain"
	"candle-lab/internal/quality"
	"candle-lab/internal/storage"
)

// candleVersion is one stored write of a candle, with its provenance.
type candleVersion struct {
	candle     domain.Candle
	score      domain.QualityScore
	ingestedAt int64
	runID      string
}

// CandleStore is an in-memory implementation of storage.CandleStore.
// All versions sharing a DedupKey are retained until Compact; reads apply
// the quality reduction inline so visibility never depends on sweep timing.
type CandleStore struct {
	mu   sync.RWMutex
	data map[domain.DedupKey][]candleVersion
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[domain.DedupKey][]candleVersion),
	}
}

// winnerIndex returns the index of the visible version: highest quality
// score, ties broken by latest ingestion time, then by latest write order.
func winnerIndex(versions []candleVersion) int {
	best := 0
	for i := 1; i < len(versions); i++ {
		v, w := versions[i], versions[best]
		if v.score > w.score || (v.score == w.score && v.ingestedAt >= w.ingestedAt) {
			best = i
		}
	}
	return best
}

// UpsertCandles writes a batch for one (asset, chain, interval) series.
func (s *CandleStore) UpsertCandles(_ context.Context, asset, chain string, interval domain.Interval, candles []domain.Candle, opts storage.UpsertOptions) (*storage.UpsertResult, error) {
	if asset == "" || chain == "" || !interval.IsValid() {
		return nil, storage.ErrInvalidInput
	}
	if opts.ValidationMode != "" && !opts.ValidationMode.IsValid() {
		return nil, storage.ErrInvalidInput
	}
	mode := opts.ValidationMode
	if mode == "" {
		mode = quality.ValidationStrict
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &storage.UpsertResult{}
	for _, c := range candles {
		if mode == quality.ValidationStrict {
			if err := quality.ValidateStrict(c); err != nil {
				result.Rejected++
				continue
			}
		}

		version := candleVersion{
			candle:     c,
			score:      quality.Score(c, opts.SourceTier),
			ingestedAt: opts.IngestedAt,
			runID:      opts.RunID,
		}

		key := c.Key(asset, chain, interval)
		existing := s.data[key]
		s.data[key] = append(existing, version)

		// A write that does not change the visible candle is a dedup, not
		// an insert.
		if len(existing) > 0 && winnerIndex(s.data[key]) != len(existing) {
			result.Deduplicated++
		} else {
			result.Inserted++
		}
	}

	return result, nil
}

// visibleSeries returns the winning version per key for one series,
// ordered by timestamp ASC.
func (s *CandleStore) visibleSeries(asset, chain string, interval domain.Interval) []domain.Candle {
	var result []domain.Candle
	for key, versions := range s.data {
		if key.Asset != asset || key.Chain != chain || key.IntervalSeconds != interval.Seconds() {
			continue
		}
		result = append(result, versions[winnerIndex(versions)].candle)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result
}

// GetCandlesAtTime returns visible candles with closeTime <= simTime and
// timestamp >= simTime-lookback, ordered by timestamp ASC.
func (s *CandleStore) GetCandlesAtTime(_ context.Context, asset, chain string, interval domain.Interval, simTime, lookback int64) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Candle
	for _, c := range s.visibleSeries(asset, chain, interval) {
		if c.CloseTime(interval) > simTime {
			break
		}
		if c.Timestamp < simTime-lookback {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

// GetLastClosedCandle returns the most recent visible candle closed at
// simTime. Returns ErrNotFound when none exists.
func (s *CandleStore) GetLastClosedCandle(_ context.Context, asset, chain string, interval domain.Interval, simTime int64) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.visibleSeries(asset, chain, interval)
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].CloseTime(interval) <= simTime {
			c := series[i]
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetSeries returns the full visible series ordered by timestamp ASC.
func (s *CandleStore) GetSeries(_ context.Context, asset, chain string, interval domain.Interval) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.visibleSeries(asset, chain, interval), nil
}

// Compact physically removes superseded versions. Idempotent; the visible
// candle per key never changes.
func (s *CandleStore) Compact(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, versions := range s.data {
		if len(versions) <= 1 {
			continue
		}
		winner := versions[winnerIndex(versions)]
		removed += len(versions) - 1
		s.data[key] = []candleVersion{winner}
	}
	return removed, nil
}

// VersionCount returns the number of stored versions for a key. Used by
// compaction tests.
func (s *CandleStore) VersionCount(key domain.DedupKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[key])
}

var _ storage.CandleStore = (*CandleStore)(nil)
