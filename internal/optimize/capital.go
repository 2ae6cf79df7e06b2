package optimize

import (
	"fmt"
	"sort"

	"candle-lab/internal/domain"
)

// CapitalConfig parameterizes the capital-aware mode: finite capital with
// a fixed position fraction allocated per entry opportunity.
type CapitalConfig struct {
	InitialCapital   float64 `json:"initialCapital"`
	PositionFraction float64 `json:"positionFraction"` // fraction of free capital per trade
}

// CapitalOutcome reports a policy's return under capital contention.
// Overlapping trades compete for the same capital, so the outcome can be
// far below the per-trade mean for policies with clustered entries.
type CapitalOutcome struct {
	FinalCapital  float64 `json:"finalCapital"`
	Return        float64 `json:"return"` // FinalCapital/InitialCapital - 1
	TradesTaken   int     `json:"tradesTaken"`
	TradesSkipped int     `json:"tradesSkipped"`
}

// position is capital locked in an open trade until its exit time.
type position struct {
	exitTS int64
	value  float64 // allocation already multiplied by the trade's net multiple
}

// SimulateCapital replays one policy's entered results chronologically
// against finite capital. Capital is released at each trade's exit time;
// an opportunity arriving with no free capital is skipped and counted.
func SimulateCapital(cfg CapitalConfig, results []*domain.SimulationResult) (*CapitalOutcome, error) {
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive")
	}
	if cfg.PositionFraction <= 0 || cfg.PositionFraction > 1 {
		return nil, fmt.Errorf("position fraction must be in (0,1]")
	}

	entered := make([]*domain.SimulationResult, 0, len(results))
	for _, r := range results {
		if r.Entered {
			entered = append(entered, r)
		}
	}
	sort.Slice(entered, func(i, j int) bool {
		if entered[i].EntryTimestamp != entered[j].EntryTimestamp {
			return entered[i].EntryTimestamp < entered[j].EntryTimestamp
		}
		return entered[i].Asset < entered[j].Asset
	})

	outcome := &CapitalOutcome{}
	cash := cfg.InitialCapital
	var open []position

	release := func(until int64) {
		kept := open[:0]
		for _, p := range open {
			if p.exitTS <= until {
				cash += p.value
			} else {
				kept = append(kept, p)
			}
		}
		open = kept
	}

	for _, r := range entered {
		release(r.EntryTimestamp)

		alloc := cash * cfg.PositionFraction
		if alloc <= 0 {
			outcome.TradesSkipped++
			continue
		}

		cash -= alloc
		open = append(open, position{
			exitTS: r.ExitTimestamp,
			value:  alloc * r.NetMultiple,
		})
		outcome.TradesTaken++
	}

	for _, p := range open {
		cash += p.value
	}

	outcome.FinalCapital = cash
	outcome.Return = cash/cfg.InitialCapital - 1
	return outcome, nil
}
