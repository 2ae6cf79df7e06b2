package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"candle-lab/internal/assetid"
	"candle-lab/internal/domain"
	"candle-lab/internal/idhash"
	"candle-lab/internal/observability"
	"candle-lab/internal/quality"
	"candle-lab/internal/storage"
)

// ErrorMode controls how the runner reacts to chunk fetch failures.
type ErrorMode string

// Error mode constants.
const (
	// ErrorModeCollect records the failure on the manifest and continues
	// with the next chunk.
	ErrorModeCollect ErrorMode = "COLLECT"

	// ErrorModeFailFast fails the whole run on the first exhausted chunk.
	ErrorModeFailFast ErrorMode = "FAIL_FAST"
)

const (
	defaultMaxRetries     = 3
	defaultBaseRetryDelay = 500 * time.Millisecond
	defaultChunkBars      = 500
)

// Runner executes one ingestion run end to end: manifest creation,
// chunked fetching with retries, scored upserts, and the terminal
// manifest transition.
type Runner struct {
	source    CandleSource
	candles   storage.CandleStore
	manifests storage.RunManifestStore

	sourceTier     domain.SourceTier
	validationMode quality.ValidationMode
	scriptVersion  string
	errorMode      ErrorMode
	maxRetries     int
	baseRetryDelay time.Duration
	chunkBars      int64
	now            func() int64
	logger         *log.Logger
	metrics        *observability.Metrics
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source        CandleSource
	CandleStore   storage.CandleStore
	ManifestStore storage.RunManifestStore

	SourceTier     domain.SourceTier
	ValidationMode quality.ValidationMode
	ScriptVersion  string

	// ErrorMode defaults to ErrorModeCollect.
	ErrorMode ErrorMode

	// MaxRetries per chunk fetch. Default: 3.
	MaxRetries int

	// BaseRetryDelay for exponential backoff. Default: 500ms.
	BaseRetryDelay time.Duration

	// ChunkBars is the fetch chunk size in bars. Default: 500.
	ChunkBars int64

	// Now supplies the current Unix time; injectable for deterministic
	// replay of a run. Default: time.Now().Unix.
	Now func() int64

	Logger *log.Logger

	// Metrics is optional; when nil no metrics are recorded.
	Metrics *observability.Metrics
}

// NewRunner creates an ingestion runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if opts.CandleStore == nil || opts.ManifestStore == nil {
		return nil, fmt.Errorf("candle store and manifest store are required")
	}
	if !opts.SourceTier.IsValid() {
		return nil, fmt.Errorf("invalid source tier: %q", opts.SourceTier)
	}

	errorMode := opts.ErrorMode
	if errorMode == "" {
		errorMode = ErrorModeCollect
	}
	if errorMode != ErrorModeCollect && errorMode != ErrorModeFailFast {
		return nil, fmt.Errorf("invalid error mode: %q", errorMode)
	}

	validationMode := opts.ValidationMode
	if validationMode == "" {
		validationMode = quality.ValidationStrict
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	baseRetryDelay := opts.BaseRetryDelay
	if baseRetryDelay <= 0 {
		baseRetryDelay = defaultBaseRetryDelay
	}
	chunkBars := opts.ChunkBars
	if chunkBars <= 0 {
		chunkBars = defaultChunkBars
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ingest] ", log.LstdFlags)
	}

	return &Runner{
		source:         opts.Source,
		candles:        opts.CandleStore,
		manifests:      opts.ManifestStore,
		sourceTier:     opts.SourceTier,
		validationMode: validationMode,
		scriptVersion:  opts.ScriptVersion,
		errorMode:      errorMode,
		maxRetries:     maxRetries,
		baseRetryDelay: baseRetryDelay,
		chunkBars:      chunkBars,
		now:            now,
		logger:         logger,
		metrics:        opts.Metrics,
	}, nil
}

// IngestInput identifies one series and window to ingest.
type IngestInput struct {
	Asset    string
	Chain    string
	Interval domain.Interval
	From     int64 // bar open, Unix seconds, inclusive
	To       int64 // bar open, Unix seconds, inclusive
}

// Run executes one ingestion run. The returned manifest is always in a
// terminal state; a non-nil error means the run FAILED (the manifest
// still records what happened up to the failure).
func (r *Runner) Run(ctx context.Context, input IngestInput) (*domain.IngestionRunManifest, error) {
	if err := assetid.Validate(input.Asset, input.Chain); err != nil {
		return nil, err
	}
	if !input.Interval.IsValid() {
		return nil, fmt.Errorf("invalid interval: %d", input.Interval)
	}
	if input.From > input.To {
		return nil, fmt.Errorf("invalid window [%d, %d]", input.From, input.To)
	}

	manifest := &domain.IngestionRunManifest{
		RunID:         uuid.NewString(),
		StartedAt:     r.now(),
		Status:        domain.RunStatusRunning,
		SourceTier:    r.sourceTier,
		ScriptVersion: r.scriptVersion,
		InputHash:     idhash.ComputeInputHash(input.Asset, input.Chain, input.Interval, r.source.Describe()),
	}
	if err := r.manifests.Insert(ctx, manifest); err != nil {
		return nil, fmt.Errorf("insert manifest: %w", err)
	}
	r.logger.Printf("run %s started: asset=%s chain=%s interval=%ds window=[%d, %d]",
		manifest.RunID, input.Asset, input.Chain, input.Interval.Seconds(), input.From, input.To)

	runErr := r.ingest(ctx, manifest, input)

	completedAt := r.now()
	manifest.CompletedAt = &completedAt
	if runErr != nil {
		manifest.Status = domain.RunStatusFailed
	} else {
		manifest.Status = domain.RunStatusCompleted
	}
	if err := r.manifests.Finish(ctx, manifest); err != nil {
		return nil, fmt.Errorf("finish manifest: %w", err)
	}

	if r.metrics != nil {
		r.metrics.CandlesFetched.Add(float64(manifest.CandlesFetched))
		r.metrics.CandlesInserted.Add(float64(manifest.CandlesInserted))
		r.metrics.CandlesRejected.Add(float64(manifest.CandlesRejected))
		r.metrics.CandlesDeduplicated.Add(float64(manifest.CandlesDeduplicated))
		r.metrics.ZeroVolumeCandles.Add(float64(manifest.ZeroVolumeCount))
		r.metrics.IngestionRunsTotal.WithLabelValues(string(manifest.Status)).Inc()
		if manifest.Status == domain.RunStatusCompleted {
			r.metrics.LastSuccessfulIngestion.Set(float64(*manifest.CompletedAt))
		}
	}

	r.logger.Printf("run %s %s: fetched=%d inserted=%d rejected=%d deduplicated=%d errors=%d zero_volume=%d",
		manifest.RunID, manifest.Status, manifest.CandlesFetched, manifest.CandlesInserted,
		manifest.CandlesRejected, manifest.CandlesDeduplicated, manifest.ErrorsCount, manifest.ZeroVolumeCount)
	return manifest, runErr
}

// ingest fetches and stores the window chunk by chunk, accumulating
// counts on the manifest.
func (r *Runner) ingest(ctx context.Context, manifest *domain.IngestionRunManifest, input IngestInput) error {
	step := input.Interval.Seconds()
	chunkSpan := r.chunkBars * step

	for from := input.From; from <= input.To; from += chunkSpan {
		to := from + chunkSpan - step
		if to > input.To {
			to = input.To
		}

		candles, err := r.fetchWithRetry(ctx, input, from, to)
		if err != nil {
			manifest.ErrorsCount++
			if r.metrics != nil {
				r.metrics.IngestionErrors.WithLabelValues(sourceKindLabel(r.source)).Inc()
			}
			if r.errorMode == ErrorModeFailFast || ctx.Err() != nil {
				return fmt.Errorf("fetch chunk [%d, %d]: %w", from, to, err)
			}
			r.logger.Printf("run %s: chunk [%d, %d] failed after %d attempts: %v",
				manifest.RunID, from, to, r.maxRetries, err)
			continue
		}

		manifest.CandlesFetched += len(candles)
		for _, c := range candles {
			if c.Volume == 0 {
				manifest.ZeroVolumeCount++
			}
		}
		if len(candles) == 0 {
			continue
		}

		result, err := r.candles.UpsertCandles(ctx, input.Asset, input.Chain, input.Interval, candles, storage.UpsertOptions{
			RunID:          manifest.RunID,
			SourceTier:     r.sourceTier,
			ValidationMode: r.validationMode,
			IngestedAt:     r.now(),
		})
		if err != nil {
			manifest.ErrorsCount++
			return fmt.Errorf("upsert chunk [%d, %d]: %w", from, to, err)
		}
		manifest.CandlesInserted += result.Inserted
		manifest.CandlesRejected += result.Rejected
		manifest.CandlesDeduplicated += result.Deduplicated
	}

	return nil
}

// sourceKindLabel reduces a source description to its kind prefix so that
// metric label cardinality stays bounded.
func sourceKindLabel(source CandleSource) string {
	desc := source.Describe()
	for i := 0; i < len(desc); i++ {
		if desc[i] == ':' {
			return desc[:i]
		}
	}
	return desc
}

// fetchWithRetry fetches one chunk with exponential backoff.
func (r *Runner) fetchWithRetry(ctx context.Context, input IngestInput, from, to int64) ([]domain.Candle, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		candles, err := r.source.Fetch(ctx, input.Asset, input.Chain, input.Interval, from, to)
		if err == nil {
			return candles, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == r.maxRetries-1 {
			break
		}

		delay := r.baseRetryDelay * time.Duration(1<<attempt)
		r.logger.Printf("retry %d/%d for chunk [%d, %d] after %v: %v",
			attempt+1, r.maxRetries, from, to, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
