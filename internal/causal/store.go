package causal

import (
	"context"
	"errors"
	"fmt"

	"candle-lab/internal/domain"
	"candle-lab/internal/storage"
)

// StoreAccessor adapts a storage.CandleStore to the Accessor contract for
// one (asset, chain, interval) series. The store already filters by close
// time; the accessor re-verifies every returned row and raises
// ErrCausalityViolation if a future candle leaks through, since that class
// of bug corrupts every downstream result.
type StoreAccessor struct {
	store    storage.CandleStore
	asset    string
	chain    string
	interval domain.Interval
}

// NewStoreAccessor creates a store-backed accessor.
func NewStoreAccessor(store storage.CandleStore, asset, chain string, interval domain.Interval) *StoreAccessor {
	return &StoreAccessor{store: store, asset: asset, chain: chain, interval: interval}
}

// Interval returns the bar interval of the series.
func (a *StoreAccessor) Interval() domain.Interval {
	return a.interval
}

// CandlesAt returns candles with closeTime <= simTime and
// timestamp >= simTime-lookback, ordered by timestamp ASC.
func (a *StoreAccessor) CandlesAt(ctx context.Context, simTime, lookback int64) ([]domain.Candle, error) {
	candles, err := a.store.GetCandlesAtTime(ctx, a.asset, a.chain, a.interval, simTime, lookback)
	if err != nil {
		return nil, fmt.Errorf("get candles at time: %w", err)
	}
	for _, c := range candles {
		if c.CloseTime(a.interval) > simTime {
			return nil, fmt.Errorf("%w: candle at %d closes %d > query %d",
				ErrCausalityViolation, c.Timestamp, c.CloseTime(a.interval), simTime)
		}
	}
	return candles, nil
}

// LastClosedAt returns the most recent candle closed at simTime.
func (a *StoreAccessor) LastClosedAt(ctx context.Context, simTime int64) (domain.Candle, bool, error) {
	c, err := a.store.GetLastClosedCandle(ctx, a.asset, a.chain, a.interval, simTime)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Candle{}, false, nil
		}
		return domain.Candle{}, false, fmt.Errorf("get last closed candle: %w", err)
	}
	if c.CloseTime(a.interval) > simTime {
		return domain.Candle{}, false, fmt.Errorf("%w: candle at %d closes %d > query %d",
			ErrCausalityViolation, c.Timestamp, c.CloseTime(a.interval), simTime)
	}
	return *c, true, nil
}

var _ Accessor = (*StoreAccessor)(nil)
