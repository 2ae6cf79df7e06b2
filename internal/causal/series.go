package causal

import (
	"context"
	"sort"

	"candle-lab/internal/domain"
)

// SeriesAccessor wraps a pre-sorted in-memory candle sequence and applies
// the causality and lookback filters on every call. It recomputes instead
// of caching: the filters are cheap and freedom from caching bugs matters
// more here than speed.
type SeriesAccessor struct {
	candles  []domain.Candle
	interval domain.Interval
}

// NewSeriesAccessor creates an accessor over the given candles. The input
// is copied and sorted by timestamp; the caller keeps ownership of its
// slice.
func NewSeriesAccessor(candles []domain.Candle, interval domain.Interval) *SeriesAccessor {
	sorted := make([]domain.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	return &SeriesAccessor{candles: sorted, interval: interval}
}

// Interval returns the bar interval of the series.
func (a *SeriesAccessor) Interval() domain.Interval {
	return a.interval
}

// CandlesAt returns candles with closeTime <= simTime and
// timestamp >= simTime-lookback, ordered by timestamp ASC.
func (a *SeriesAccessor) CandlesAt(_ context.Context, simTime, lookback int64) ([]domain.Candle, error) {
	var result []domain.Candle
	earliest := simTime - lookback
	for _, c := range a.candles {
		if c.Timestamp < earliest {
			continue
		}
		if c.CloseTime(a.interval) > simTime {
			// Candles are sorted; everything after closes even later.
			break
		}
		result = append(result, c)
	}
	return result, nil
}

// LastClosedAt returns the most recent candle closed at simTime.
func (a *SeriesAccessor) LastClosedAt(_ context.Context, simTime int64) (domain.Candle, bool, error) {
	for i := len(a.candles) - 1; i >= 0; i-- {
		if a.candles[i].CloseTime(a.interval) <= simTime {
			return a.candles[i], true, nil
		}
	}
	return domain.Candle{}, false, nil
}

var _ Accessor = (*SeriesAccessor)(nil)
