// Package optimize expands strategy-parameter grids, runs each resulting
// spec through the engine across a shared call set, and ranks surviving
// policies by a configured objective.
package optimize

import (
	"fmt"

	"candle-lab/internal/domain"
	"candle-lab/internal/idhash"
)

// GridConfig is the declarative sweep configuration: parameter axes,
// constraints, and the objective name. It is opaque to the engine; the
// engine only ever sees the expanded StrategySpec instances.
type GridConfig struct {
	// Entry and Cost are shared by every expanded spec.
	Entry domain.EntryConfig `json:"entry"`
	Cost  domain.CostConfig  `json:"cost"`

	// StopLossPcts is one axis. Required, at least one value.
	StopLossPcts []float64 `json:"stopLossPcts"`

	// TrailingPcts is one axis; the value 0 disables the trailing stop
	// for that grid point. Empty means trailing disabled everywhere.
	TrailingPcts []float64 `json:"trailingPcts,omitempty"`

	// TargetLadders is one axis; each entry is a complete ladder. Empty
	// means no target exits anywhere.
	TargetLadders [][]domain.ExitTarget `json:"targetLadders,omitempty"`

	// ReEntry, when set, is applied to every expanded spec.
	ReEntry *domain.ReEntryConfig `json:"reEntry,omitempty"`

	Objective   ObjectiveName `json:"objective"`
	Constraints Constraints   `json:"constraints"`
}

// GridSpec is one expanded grid point with its deterministic ID.
type GridSpec struct {
	SpecID string
	Spec   domain.StrategySpec
}

// Expand produces the cartesian product of the configured axes. Every
// expanded spec is validated; expansion order is fixed (stop-loss outer,
// trailing middle, ladder inner) so spec lists are reproducible.
func (g GridConfig) Expand() ([]GridSpec, error) {
	if len(g.StopLossPcts) == 0 {
		return nil, fmt.Errorf("grid requires at least one stop-loss value")
	}
	if !g.Objective.IsValid() {
		return nil, fmt.Errorf("unknown objective: %q", g.Objective)
	}

	trailings := g.TrailingPcts
	if len(trailings) == 0 {
		trailings = []float64{0}
	}
	ladders := g.TargetLadders
	if len(ladders) == 0 {
		ladders = [][]domain.ExitTarget{nil}
	}

	specs := make([]GridSpec, 0, len(g.StopLossPcts)*len(trailings)*len(ladders))
	seen := make(map[string]bool)
	for _, stopPct := range g.StopLossPcts {
		for _, trailingPct := range trailings {
			for _, ladder := range ladders {
				spec := domain.StrategySpec{
					Entry:    g.Entry,
					StopLoss: domain.StopLossConfig{InitialPct: stopPct},
					Cost:     g.Cost,
				}
				if trailingPct > 0 {
					t := trailingPct
					spec.StopLoss.TrailingPct = &t
				}
				if len(ladder) > 0 {
					spec.ExitTargets = append([]domain.ExitTarget(nil), ladder...)
				}
				if g.ReEntry != nil {
					r := *g.ReEntry
					spec.ReEntry = &r
				}

				if err := spec.Validate(); err != nil {
					return nil, fmt.Errorf("grid point stop=%v trailing=%v: %w", stopPct, trailingPct, err)
				}

				specID, err := idhash.ComputeSpecID(spec)
				if err != nil {
					return nil, err
				}
				if seen[specID] {
					return nil, fmt.Errorf("duplicate grid point (spec %s)", specID)
				}
				seen[specID] = true

				specs = append(specs, GridSpec{SpecID: specID, Spec: spec})
			}
		}
	}

	return specs, nil
}
