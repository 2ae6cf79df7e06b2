package optimize

import "fmt"

// ObjectiveName selects the ranking objective for a sweep.
type ObjectiveName string

// Objective constants.
const (
	// ObjectiveCapturedReturn ranks by mean return per entered run.
	ObjectiveCapturedReturn ObjectiveName = "CAPTURED_RETURN"

	// ObjectiveSharpe ranks by mean return over sample stddev. With fewer
	// than two entered runs the stddev is zero and the mean is used as-is.
	ObjectiveSharpe ObjectiveName = "SHARPE"

	// ObjectiveProfitFactor ranks by gains over losses.
	ObjectiveProfitFactor ObjectiveName = "PROFIT_FACTOR"
)

// IsValid checks if the objective is a known value.
func (o ObjectiveName) IsValid() bool {
	switch o {
	case ObjectiveCapturedReturn, ObjectiveSharpe, ObjectiveProfitFactor:
		return true
	default:
		return false
	}
}

// Evaluate computes the objective value for a policy's aggregate stats.
// A policy with no entered runs always scores the worst possible value
// through the constraint layer, but Evaluate itself returns 0 for it.
func (o ObjectiveName) Evaluate(stats *PolicyStats) (float64, error) {
	switch o {
	case ObjectiveCapturedReturn:
		return stats.ReturnMean, nil
	case ObjectiveSharpe:
		if stats.ReturnStddev == 0 {
			return stats.ReturnMean, nil
		}
		return stats.ReturnMean / stats.ReturnStddev, nil
	case ObjectiveProfitFactor:
		return stats.ProfitFactor, nil
	default:
		return 0, fmt.Errorf("unknown objective: %q", o)
	}
}
