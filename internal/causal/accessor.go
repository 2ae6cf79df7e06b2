// Package causal provides time-gated candle access for simulation runs.
// By construction of the interface it is impossible to obtain a candle
// whose close time exceeds the query time: every accessor applies the
// close-time filter on every call, and a row that would violate it is a
// fatal internal error, never silently corrected.
package causal

import (
	"context"
	"errors"

	"candle-lab/internal/domain"
)

// ErrCausalityViolation indicates an internal invariant breach: a storage
// row with a close time in the future of the query time reached an
// accessor. It is a look-ahead bug and must be treated as fatal.
var ErrCausalityViolation = errors.New("causality violation: candle closes after query time")

// Accessor returns only candles whose close time has elapsed at the given
// simulation time.
type Accessor interface {
	// CandlesAt returns exactly the candles with closeTime <= simTime and
	// timestamp >= simTime-lookback, ordered by timestamp ASC. simTime and
	// lookback are Unix seconds.
	CandlesAt(ctx context.Context, simTime, lookback int64) ([]domain.Candle, error)

	// LastClosedAt returns the single most recent closed candle at simTime,
	// or ok=false when none has closed yet.
	LastClosedAt(ctx context.Context, simTime int64) (domain.Candle, bool, error)

	// Interval returns the bar interval of the underlying series.
	Interval() domain.Interval
}
