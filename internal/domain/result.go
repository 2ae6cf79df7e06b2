package domain

// EventType classifies a discrete fill during a simulation run.
type EventType string

// Event type constants.
const (
	EventEntry        EventType = "ENTRY"
	EventTargetExit   EventType = "TARGET_EXIT"
	EventStopExit     EventType = "STOP_EXIT"
	EventTrailingExit EventType = "TRAILING_EXIT"
	EventFinalExit    EventType = "FINAL_EXIT" // end-of-data close at last candle's close
)

// Terminal state constants for a simulation run.
const (
	TerminalFullyExited = "FULLY_EXITED"
	TerminalEndOfData   = "END_OF_DATA"
)

// Non-entry reason codes.
const (
	NoEntryNoData        = "NO_DATA"
	NoEntryWindowExpired = "WINDOW_EXPIRED"
)

// SimulationEvent is a discrete fill (entry, partial exit, stop, target hit).
// Events are append-only and owned by a single run.
type SimulationEvent struct {
	Timestamp    int64     `json:"timestamp"` // Unix seconds
	Price        float64   `json:"price"`
	Type         EventType `json:"type"`
	SizeFraction float64   `json:"sizeFraction"` // fraction of original position
}

// SimulationResult is the immutable, serializable outcome of one run.
// All timestamps are Unix seconds; no language-native date types.
type SimulationResult struct {
	Asset  string `json:"asset"`
	SpecID string `json:"specId"`

	// Entered is false when no entry trigger fired; NoEntryReason then
	// carries NO_DATA or WINDOW_EXPIRED. Absence of data is an expected
	// outcome in this domain, not an error.
	Entered       bool   `json:"entered"`
	NoEntryReason string `json:"noEntryReason,omitempty"`

	EntryTimestamp int64   `json:"entryTimestamp,omitempty"`
	EntryPrice     float64 `json:"entryPrice,omitempty"`

	// ExitPrice is the size-weighted average over all partial fills.
	ExitTimestamp int64   `json:"exitTimestamp,omitempty"`
	ExitPrice     float64 `json:"exitPrice,omitempty"`

	// NetMultiple = exitPrice*(1-exitFee) / (entryPrice*(1+entryFee)).
	NetMultiple float64 `json:"netMultiple,omitempty"`

	Events []SimulationEvent `json:"events,omitempty"`

	// Extremes are measured on candle highs/lows, never closes.
	ATHPrice     float64 `json:"athPrice,omitempty"`
	ATHTimestamp int64   `json:"athTimestamp,omitempty"`
	ATLPrice     float64 `json:"atlPrice,omitempty"`
	ATLTimestamp int64   `json:"atlTimestamp,omitempty"`

	// MaxDrawdown is the worst peak-to-trough fraction on highs/lows.
	MaxDrawdown float64 `json:"maxDrawdown"`

	TotalCandles int    `json:"totalCandles"`
	Terminal     string `json:"terminal,omitempty"` // FULLY_EXITED | END_OF_DATA
}
