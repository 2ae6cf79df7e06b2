package optimize

import "fmt"

// Constraints filter policies out of the ranking before the objective is
// applied. Zero values leave a constraint unset.
type Constraints struct {
	// MaxDrawdown rejects policies whose worst per-run drawdown exceeds
	// the bound (fraction, e.g. 0.5).
	MaxDrawdown *float64 `json:"maxDrawdown,omitempty"`

	// MinTrades rejects policies with fewer entered runs.
	MinTrades int `json:"minTrades,omitempty"`

	// MinWinRate rejects policies below the bound (fraction).
	MinWinRate *float64 `json:"minWinRate,omitempty"`
}

// Check returns an empty string when the stats pass, or the reason the
// policy was filtered out.
func (c Constraints) Check(stats *PolicyStats) string {
	if c.MinTrades > 0 && stats.Entered < c.MinTrades {
		return fmt.Sprintf("entered %d < min trades %d", stats.Entered, c.MinTrades)
	}
	if c.MaxDrawdown != nil && stats.MaxDrawdown > *c.MaxDrawdown {
		return fmt.Sprintf("max drawdown %.4f > bound %.4f", stats.MaxDrawdown, *c.MaxDrawdown)
	}
	if c.MinWinRate != nil && stats.WinRate < *c.MinWinRate {
		return fmt.Sprintf("win rate %.4f < bound %.4f", stats.WinRate, *c.MinWinRate)
	}
	return ""
}
