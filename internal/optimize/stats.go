package optimize

import (
	"math"
	"sort"

	"candle-lab/internal/domain"
)

// PolicyStats aggregates the outcomes of one strategy spec across an
// eligible-call set. Returns are netMultiple-1 per entered run.
type PolicyStats struct {
	SpecID string `json:"specId"`

	TotalRuns int     `json:"totalRuns"`
	Entered   int     `json:"entered"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	WinRate   float64 `json:"winRate"`

	ReturnMean   float64 `json:"returnMean"`
	ReturnMedian float64 `json:"returnMedian"`
	ReturnP10    float64 `json:"returnP10"`
	ReturnP25    float64 `json:"returnP25"`
	ReturnP75    float64 `json:"returnP75"`
	ReturnP90    float64 `json:"returnP90"`
	ReturnMin    float64 `json:"returnMin"`
	ReturnMax    float64 `json:"returnMax"`
	ReturnStddev float64 `json:"returnStddev"`

	// MaxDrawdown is the worst per-run drawdown across all entered runs.
	MaxDrawdown float64 `json:"maxDrawdown"`

	MaxConsecutiveLosses int `json:"maxConsecutiveLosses"`

	// ProfitFactor is the sum of gains over the absolute sum of losses.
	// With no losing runs it degrades to the sum of gains so the value
	// stays finite and JSON-encodable.
	ProfitFactor float64 `json:"profitFactor"`
}

// ComputeStats aggregates results for one spec. Results are re-sorted by
// (entryTimestamp, asset) so order-dependent metrics do not depend on
// completion order.
func ComputeStats(specID string, results []*domain.SimulationResult) *PolicyStats {
	stats := &PolicyStats{
		SpecID:    specID,
		TotalRuns: len(results),
	}

	entered := make([]*domain.SimulationResult, 0, len(results))
	for _, r := range results {
		if r.Entered {
			entered = append(entered, r)
		}
	}
	stats.Entered = len(entered)
	if len(entered) == 0 {
		return stats
	}

	sort.Slice(entered, func(i, j int) bool {
		if entered[i].EntryTimestamp != entered[j].EntryTimestamp {
			return entered[i].EntryTimestamp < entered[j].EntryTimestamp
		}
		return entered[i].Asset < entered[j].Asset
	})

	returns := make([]float64, len(entered))
	gains, lossSum := 0.0, 0.0
	streak := 0
	for i, r := range entered {
		ret := r.NetMultiple - 1
		returns[i] = ret

		if ret > 0 {
			stats.Wins++
			gains += ret
			streak = 0
		} else {
			stats.Losses++
			lossSum += -ret
			streak++
			if streak > stats.MaxConsecutiveLosses {
				stats.MaxConsecutiveLosses = streak
			}
		}
		if r.MaxDrawdown > stats.MaxDrawdown {
			stats.MaxDrawdown = r.MaxDrawdown
		}
	}
	stats.WinRate = float64(stats.Wins) / float64(len(entered))

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	stats.ReturnMean = mean(returns)
	stats.ReturnMedian = percentile(sorted, 0.50)
	stats.ReturnP10 = percentile(sorted, 0.10)
	stats.ReturnP25 = percentile(sorted, 0.25)
	stats.ReturnP75 = percentile(sorted, 0.75)
	stats.ReturnP90 = percentile(sorted, 0.90)
	stats.ReturnMin = sorted[0]
	stats.ReturnMax = sorted[len(sorted)-1]
	stats.ReturnStddev = stddev(returns, stats.ReturnMean)

	switch {
	case lossSum > 0:
		stats.ProfitFactor = gains / lossSum
	default:
		stats.ProfitFactor = gains
	}

	return stats
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the sample standard deviation (n-1 denominator).
func stddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// percentile uses linear interpolation over a pre-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
