package domain

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

// Run status constants. A manifest gets exactly one terminal transition.
const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether the status is a terminal state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// SourceTier classifies where/how a candle was obtained. It feeds quality
// scoring and faulty-run detection.
type SourceTier string

// Source tier constants, ordered by trust.
const (
	TierExchange  SourceTier = "EXCHANGE"  // venue-native feed
	TierAggregate SourceTier = "AGGREGATE" // third-party aggregator
	TierBackfill  SourceTier = "BACKFILL"  // historical backfill import
)

// IsValid checks if the tier is a known value.
func (t SourceTier) IsValid() bool {
	return t == TierExchange || t == TierAggregate || t == TierBackfill
}

// IngestionRunManifest is the append-only audit record of one ingestion run.
// Created at run start, mutated only by the owning run, never deleted.
// Corresponds to the ingestion_run_manifests table in PostgreSQL.
type IngestionRunManifest struct {
	RunID       string     // PRIMARY KEY, uuid
	StartedAt   int64      // Unix seconds
	CompletedAt *int64     // nil while running
	Status      RunStatus
	SourceTier  SourceTier
	ScriptVersion string
	InputHash     string // deterministic hash of the input description

	CandlesFetched      int
	CandlesInserted     int
	CandlesRejected     int
	CandlesDeduplicated int
	ErrorsCount         int
	ZeroVolumeCount     int
}
