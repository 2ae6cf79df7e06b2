package storage

import (
	"context"

	"candle-lab/internal/domain"
	"candle-lab/internal/quality"
)

// UpsertOptions carries provenance and validation settings for a candle
// write. Every write is attributed to an ingestion run.
type UpsertOptions struct {
	// RunID is the ingestion run manifest this write belongs to.
	RunID string

	// SourceTier feeds quality scoring.
	SourceTier domain.SourceTier

	// ValidationMode selects strict rejection or permissive low-score
	// storage for invalid candles.
	ValidationMode quality.ValidationMode

	// IngestedAt is the write time in Unix seconds, supplied by the caller
	// so that dedup tie-breaks stay deterministic under replay.
	IngestedAt int64
}

// UpsertResult reports the outcome of a bulk candle write.
type UpsertResult struct {
	Inserted     int
	Rejected     int
	Deduplicated int
}

// CandleStore persists quality-scored candles and resolves overlapping
// writes to a single winning version per DedupKey. All read methods apply
// the dedup reduction inline: callers only ever observe the winner
// (highest quality score, ties broken by latest ingestion time).
type CandleStore interface {
	// UpsertCandles writes a batch for one (asset, chain, interval) series.
	// Invalid candles are rejected (strict) or stored with a low quality
	// score (permissive); exact duplicates of an equal-or-better stored
	// version count as deduplicated.
	UpsertCandles(ctx context.Context, asset, chain string, interval domain.Interval, candles []domain.Candle, opts UpsertOptions) (*UpsertResult, error)

	// GetCandlesAtTime returns candles with closeTime <= simTime and
	// timestamp >= simTime-lookback, ordered by timestamp ASC.
	GetCandlesAtTime(ctx context.Context, asset, chain string, interval domain.Interval, simTime, lookback int64) ([]domain.Candle, error)

	// GetLastClosedCandle returns the most recent candle whose close time
	// has elapsed at simTime. Returns ErrNotFound when none exists.
	GetLastClosedCandle(ctx context.Context, asset, chain string, interval domain.Interval, simTime int64) (*domain.Candle, error)

	// GetSeries returns the full visible series ordered by timestamp ASC.
	GetSeries(ctx context.Context, asset, chain string, interval domain.Interval) ([]domain.Candle, error)

	// Compact physically removes superseded versions. It never changes
	// what readers observe, is idempotent, and is safe to run concurrently
	// with ingestion. Returns the number of rows removed.
	Compact(ctx context.Context) (int, error)
}

// RunManifestStore persists ingestion run manifests as an append-only
// audit trail keyed by run ID.
type RunManifestStore interface {
	// Insert adds a new manifest. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, m *domain.IngestionRunManifest) error

	// Finish applies the single terminal transition, writing final counts
	// and status. Returns ErrManifestTerminal if already terminal and
	// ErrNotFound if the run does not exist.
	Finish(ctx context.Context, m *domain.IngestionRunManifest) error

	// GetByID retrieves a manifest by run ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.IngestionRunManifest, error)

	// GetByStatus retrieves all manifests with the given status,
	// ordered by started_at ASC.
	GetByStatus(ctx context.Context, status domain.RunStatus) ([]*domain.IngestionRunManifest, error)

	// GetByTimeRange retrieves manifests started within [start, end]
	// (inclusive, Unix seconds), ordered by started_at ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.IngestionRunManifest, error)

	// FindFaulty returns completed or failed runs whose error rate or
	// zero-volume rate exceeds the given thresholds.
	FindFaulty(ctx context.Context, maxErrorRate, maxZeroVolumeRate float64) ([]*domain.IngestionRunManifest, error)
}

// ResultStore persists simulation results.
type ResultStore interface {
	// Insert adds a result. Returns ErrDuplicateKey if the
	// (asset, spec_id, entry_timestamp) key exists.
	Insert(ctx context.Context, r *domain.SimulationResult) error

	// InsertBulk adds multiple results. Fails the entire batch on any duplicate.
	InsertBulk(ctx context.Context, results []*domain.SimulationResult) error

	// GetBySpecID retrieves all results for a strategy spec,
	// ordered by entry timestamp ASC.
	GetBySpecID(ctx context.Context, specID string) ([]*domain.SimulationResult, error)

	// GetByAsset retrieves all results for an asset,
	// ordered by entry timestamp ASC.
	GetByAsset(ctx context.Context, asset string) ([]*domain.SimulationResult, error)
}
