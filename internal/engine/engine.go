// Package engine runs strategy specs against candle series. A run is
// single-threaded and synchronous: candles are processed strictly in
// timestamp order behind the causal accessor, driven by a clock created
// once per run. Identical candle input and spec produce byte-identical
// results.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"candle-lab/internal/causal"
	"candle-lab/internal/domain"
	"candle-lab/internal/observability"
	"candle-lab/internal/simclock"
)

// Engine executes simulation runs.
type Engine struct {
	accessor causal.Accessor
	logger   *log.Logger
	metrics  *observability.Metrics
}

// Options contains configuration for creating an Engine.
type Options struct {
	Accessor causal.Accessor
	Logger   *log.Logger

	// Metrics is optional; when nil no metrics are recorded.
	Metrics *observability.Metrics
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)
	}
	return &Engine{
		accessor: opts.Accessor,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// RunInput identifies one simulation run.
type RunInput struct {
	Asset  string
	SpecID string
	Spec   domain.StrategySpec

	// Start and End bound the observation window in Unix seconds,
	// inclusive. A candle participates once its close time falls inside
	// the window.
	Start int64
	End   int64
}

// Run replays the candle series through the spec's state machine.
// Expected data conditions (gaps, no entry trigger, no candles at all)
// produce a well-defined result, never an error; errors are reserved for
// malformed specs and invariant breaches.
func (e *Engine) Run(ctx context.Context, input RunInput) (*domain.SimulationResult, error) {
	if err := input.Spec.Validate(); err != nil {
		return nil, err
	}
	if input.End < input.Start {
		return nil, fmt.Errorf("%w: run window end %d before start %d",
			domain.ErrInvalidSpec, input.End, input.Start)
	}

	clock, err := simclock.New(input.Start, simclock.ResolutionSecond)
	if err != nil {
		return nil, fmt.Errorf("create run clock: %w", err)
	}
	started := time.Now()

	run := newRunState(input.Spec)
	step := e.accessor.Interval().Seconds()

	// A candle participates only once its close time falls inside the
	// window. Seeding the cursor here keeps stale pre-window candles that
	// LastClosedAt may surface at the first tick out of the run; a candle
	// closing exactly at Start still participates.
	lastSeen := input.Start - step - 1

	for {
		now := clock.Now()

		candle, ok, err := e.accessor.LastClosedAt(ctx, now)
		if err != nil {
			return nil, err
		}
		if ok && candle.Timestamp > lastSeen {
			lastSeen = candle.Timestamp
			run.processCandle(candle)
			if run.done {
				break
			}
		}

		if now >= input.End {
			break
		}
		next := now + step
		if next > input.End {
			next = input.End
		}
		if err := clock.AdvanceTo(next); err != nil {
			return nil, err
		}
	}

	result := run.finish(input.Asset, input.SpecID)

	if e.metrics != nil {
		e.metrics.SimulationDuration.Observe(time.Since(started).Seconds())
		e.metrics.CandlesProcessed.Add(float64(result.TotalCandles))
		terminal := result.Terminal
		if terminal == "" {
			terminal = "NO_ENTRY"
		}
		e.metrics.SimulationRunsTotal.WithLabelValues(terminal).Inc()
		for _, event := range result.Events {
			e.metrics.EventsEmitted.WithLabelValues(string(event.Type)).Inc()
		}
	}

	return result, nil
}
