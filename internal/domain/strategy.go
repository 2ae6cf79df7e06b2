package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidSpec is returned when a strategy spec fails validation.
var ErrInvalidSpec = errors.New("invalid strategy spec")

// EntryPolicy selects how a position is opened.
type EntryPolicy string

// Entry policy constants.
const (
	EntryImmediate   EntryPolicy = "IMMEDIATE"    // enter at the first candle's open
	EntryInitialDrop EntryPolicy = "INITIAL_DROP" // wait for a configured drop from start price
	EntryTrailing    EntryPolicy = "TRAILING"     // track the running low, enter on rebound
	EntrySignal      EntryPolicy = "SIGNAL"       // enter when the indicator condition first holds
)

// IsValid checks if the policy is a known value.
func (p EntryPolicy) IsValid() bool {
	switch p {
	case EntryImmediate, EntryInitialDrop, EntryTrailing, EntrySignal:
		return true
	default:
		return false
	}
}

// EntryConfig parameterizes entry detection.
type EntryConfig struct {
	Policy EntryPolicy `json:"policy"`

	// INITIAL_DROP: trigger when price falls DropPct (fraction, e.g. 0.30)
	// below the starting price.
	DropPct *float64 `json:"dropPct,omitempty"`

	// TRAILING: trigger on a ReboundPct rebound from the running low.
	ReboundPct *float64 `json:"reboundPct,omitempty"`

	// SIGNAL: fast/slow SMA cross windows, in candles.
	SignalFastWindow *int `json:"signalFastWindow,omitempty"`
	SignalSlowWindow *int `json:"signalSlowWindow,omitempty"`

	// MaxWaitCandles bounds how long any policy may wait for its trigger.
	// Zero means no bound. An unmet trigger within the window produces a
	// non-entry outcome, never a forced entry.
	MaxWaitCandles int `json:"maxWaitCandles,omitempty"`
}

// ExitTarget is one rung of a ladder exit.
type ExitTarget struct {
	// PositionPct is the fraction of the original position closed at this
	// target (e.g. 0.33).
	PositionPct float64 `json:"positionPct"`
	// Multiplier is the target price as a multiple of entry price (e.g. 1.5).
	Multiplier float64 `json:"multiplier"`
}

// StopLossConfig parameterizes stop-loss behavior.
type StopLossConfig struct {
	// InitialPct is the drop from entry that triggers the stop (e.g. 0.30).
	InitialPct float64 `json:"initialPct"`
	// TrailingPct, if set, re-anchors the stop TrailingPct below the
	// running high once the position is open.
	TrailingPct *float64 `json:"trailingPct,omitempty"`
}

// ReEntryConfig allows re-entering after a full exit.
type ReEntryConfig struct {
	// MaxReEntries bounds how many times the position may be reopened.
	MaxReEntries int `json:"maxReEntries"`
	// DropPct is the drop from the last exit price that re-triggers entry.
	DropPct float64 `json:"dropPct"`
}

// CostConfig holds fee and slippage parameters in basis points.
type CostConfig struct {
	TakerFeeBps      float64 `json:"takerFeeBps"`
	EntrySlippageBps float64 `json:"entrySlippageBps"`
	ExitSlippageBps  float64 `json:"exitSlippageBps"`
}

// EntryFeeDecimal returns the total entry cost as a fraction.
func (c CostConfig) EntryFeeDecimal() float64 {
	return (c.TakerFeeBps + c.EntrySlippageBps) / 10000
}

// ExitFeeDecimal returns the total exit cost as a fraction.
func (c CostConfig) ExitFeeDecimal() float64 {
	return (c.TakerFeeBps + c.ExitSlippageBps) / 10000
}

// StrategySpec is the immutable input to a simulation run. It round-trips
// through JSON with no loss of precision for percent/multiplier fields.
type StrategySpec struct {
	Entry       EntryConfig    `json:"entry"`
	ExitTargets []ExitTarget   `json:"exitTargets,omitempty"` // ascending by Multiplier
	StopLoss    StopLossConfig `json:"stopLoss"`
	ReEntry     *ReEntryConfig `json:"reEntry,omitempty"`
	Cost        CostConfig     `json:"cost"`
}

// Validate checks spec consistency before a run.
func (s *StrategySpec) Validate() error {
	if !s.Entry.Policy.IsValid() {
		return fmt.Errorf("%w: unknown entry policy %q", ErrInvalidSpec, s.Entry.Policy)
	}
	switch s.Entry.Policy {
	case EntryInitialDrop:
		if s.Entry.DropPct == nil || *s.Entry.DropPct <= 0 || *s.Entry.DropPct >= 1 {
			return fmt.Errorf("%w: INITIAL_DROP requires dropPct in (0,1)", ErrInvalidSpec)
		}
	case EntryTrailing:
		if s.Entry.ReboundPct == nil || *s.Entry.ReboundPct <= 0 {
			return fmt.Errorf("%w: TRAILING requires positive reboundPct", ErrInvalidSpec)
		}
	case EntrySignal:
		if s.Entry.SignalFastWindow == nil || s.Entry.SignalSlowWindow == nil {
			return fmt.Errorf("%w: SIGNAL requires fast and slow windows", ErrInvalidSpec)
		}
		if *s.Entry.SignalFastWindow <= 0 || *s.Entry.SignalSlowWindow <= *s.Entry.SignalFastWindow {
			return fmt.Errorf("%w: SIGNAL windows must satisfy 0 < fast < slow", ErrInvalidSpec)
		}
	}

	if s.StopLoss.InitialPct < 0 || s.StopLoss.InitialPct >= 1 {
		return fmt.Errorf("%w: stop-loss initialPct must be in [0,1)", ErrInvalidSpec)
	}
	if s.StopLoss.TrailingPct != nil && (*s.StopLoss.TrailingPct <= 0 || *s.StopLoss.TrailingPct >= 1) {
		return fmt.Errorf("%w: stop-loss trailingPct must be in (0,1)", ErrInvalidSpec)
	}

	var totalPct float64
	prevMultiplier := 1.0
	for i, target := range s.ExitTargets {
		if target.PositionPct <= 0 || target.PositionPct > 1 {
			return fmt.Errorf("%w: target %d positionPct must be in (0,1]", ErrInvalidSpec, i)
		}
		if target.Multiplier <= prevMultiplier {
			return fmt.Errorf("%w: target multipliers must be ascending and above 1", ErrInvalidSpec)
		}
		prevMultiplier = target.Multiplier
		totalPct += target.PositionPct
	}
	if totalPct > 1.0000001 {
		return fmt.Errorf("%w: target position fractions sum to %v > 1", ErrInvalidSpec, totalPct)
	}

	if s.ReEntry != nil {
		if s.ReEntry.MaxReEntries <= 0 {
			return fmt.Errorf("%w: reEntry.maxReEntries must be positive", ErrInvalidSpec)
		}
		if s.ReEntry.DropPct <= 0 || s.ReEntry.DropPct >= 1 {
			return fmt.Errorf("%w: reEntry.dropPct must be in (0,1)", ErrInvalidSpec)
		}
	}

	if s.Cost.TakerFeeBps < 0 || s.Cost.EntrySlippageBps < 0 || s.Cost.ExitSlippageBps < 0 {
		return fmt.Errorf("%w: cost basis points must be non-negative", ErrInvalidSpec)
	}

	return nil
}
