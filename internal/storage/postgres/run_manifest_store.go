package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"candle-lab/internal/domain"
	"candle-lab/internal/storage"
)

// RunManifestStore implements storage.RunManifestStore using PostgreSQL.
type RunManifestStore struct {
	pool *Pool
}

// NewRunManifestStore creates a new RunManifestStore.
func NewRunManifestStore(pool *Pool) *RunManifestStore {
	return &RunManifestStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunManifestStore = (*RunManifestStore)(nil)

const manifestColumns = `
	run_id, started_at, completed_at, status, source_tier,
	script_version, input_hash,
	candles_fetched, candles_inserted, candles_rejected, candles_deduplicated,
	errors_count, zero_volume_count
`

// Insert adds a new manifest. Returns ErrDuplicateKey if run_id exists.
func (s *RunManifestStore) Insert(ctx context.Context, m *domain.IngestionRunManifest) error {
	if m == nil || m.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO ingestion_run_manifests (` + manifestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		m.RunID, m.StartedAt, m.CompletedAt, m.Status, m.SourceTier,
		m.ScriptVersion, m.InputHash,
		m.CandlesFetched, m.CandlesInserted, m.CandlesRejected, m.CandlesDeduplicated,
		m.ErrorsCount, m.ZeroVolumeCount,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run manifest: %w", err)
	}
	return nil
}

// Finish applies the single terminal transition with final counts. The
// status guard in the WHERE clause makes the transition atomic: a manifest
// already terminal matches no row.
func (s *RunManifestStore) Finish(ctx context.Context, m *domain.IngestionRunManifest) error {
	if m == nil || m.RunID == "" {
		return storage.ErrInvalidInput
	}
	if !m.Status.IsTerminal() {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE ingestion_run_manifests SET
			completed_at = $2, status = $3,
			candles_fetched = $4, candles_inserted = $5,
			candles_rejected = $6, candles_deduplicated = $7,
			errors_count = $8, zero_volume_count = $9
		WHERE run_id = $1 AND status = $10
	`

	tag, err := s.pool.Exec(ctx, query,
		m.RunID, m.CompletedAt, m.Status,
		m.CandlesFetched, m.CandlesInserted,
		m.CandlesRejected, m.CandlesDeduplicated,
		m.ErrorsCount, m.ZeroVolumeCount,
		domain.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish run manifest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the run does not exist or it is already terminal.
		var status domain.RunStatus
		err := s.pool.QueryRow(ctx,
			"SELECT status FROM ingestion_run_manifests WHERE run_id = $1", m.RunID,
		).Scan(&status)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check run manifest status: %w", err)
		}
		return storage.ErrManifestTerminal
	}
	return nil
}

// GetByID retrieves a manifest by run ID. Returns ErrNotFound if not exists.
func (s *RunManifestStore) GetByID(ctx context.Context, runID string) (*domain.IngestionRunManifest, error) {
	query := `
		SELECT ` + manifestColumns + `
		FROM ingestion_run_manifests
		WHERE run_id = $1
	`

	row := s.pool.QueryRow(ctx, query, runID)
	m, err := scanManifest(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run manifest by id: %w", err)
	}
	return m, nil
}

// GetByStatus retrieves all manifests with the given status,
// ordered by started_at ASC.
func (s *RunManifestStore) GetByStatus(ctx context.Context, status domain.RunStatus) ([]*domain.IngestionRunManifest, error) {
	query := `
		SELECT ` + manifestColumns + `
		FROM ingestion_run_manifests
		WHERE status = $1
		ORDER BY started_at ASC, run_id ASC
	`

	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("get run manifests by status: %w", err)
	}
	defer rows.Close()

	return scanManifests(rows)
}

// GetByTimeRange retrieves manifests started within [start, end] inclusive.
func (s *RunManifestStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.IngestionRunManifest, error) {
	query := `
		SELECT ` + manifestColumns + `
		FROM ingestion_run_manifests
		WHERE started_at >= $1 AND started_at <= $2
		ORDER BY started_at ASC, run_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get run manifests by time range: %w", err)
	}
	defer rows.Close()

	return scanManifests(rows)
}

// FindFaulty returns terminal runs whose error rate or zero-volume rate
// exceeds the given thresholds. Failed runs are always faulty; rates only
// apply to runs that fetched candles.
func (s *RunManifestStore) FindFaulty(ctx context.Context, maxErrorRate, maxZeroVolumeRate float64) ([]*domain.IngestionRunManifest, error) {
	query := `
		SELECT ` + manifestColumns + `
		FROM ingestion_run_manifests
		WHERE status IN ($1, $2)
		  AND (
			status = $2
			OR (candles_fetched > 0 AND errors_count::float8 / candles_fetched > $3)
			OR (candles_fetched > 0 AND zero_volume_count::float8 / candles_fetched > $4)
		  )
		ORDER BY started_at ASC, run_id ASC
	`

	rows, err := s.pool.Query(ctx, query,
		domain.RunStatusCompleted, domain.RunStatusFailed,
		maxErrorRate, maxZeroVolumeRate,
	)
	if err != nil {
		return nil, fmt.Errorf("find faulty run manifests: %w", err)
	}
	defer rows.Close()

	return scanManifests(rows)
}

// scanManifest scans a single row into an IngestionRunManifest.
func scanManifest(row pgx.Row) (*domain.IngestionRunManifest, error) {
	var m domain.IngestionRunManifest

	err := row.Scan(
		&m.RunID, &m.StartedAt, &m.CompletedAt, &m.Status, &m.SourceTier,
		&m.ScriptVersion, &m.InputHash,
		&m.CandlesFetched, &m.CandlesInserted, &m.CandlesRejected, &m.CandlesDeduplicated,
		&m.ErrorsCount, &m.ZeroVolumeCount,
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// scanManifests scans multiple rows into a slice.
func scanManifests(rows pgx.Rows) ([]*domain.IngestionRunManifest, error) {
	var manifests []*domain.IngestionRunManifest

	for rows.Next() {
		var m domain.IngestionRunManifest
		err := rows.Scan(
			&m.RunID, &m.StartedAt, &m.CompletedAt, &m.Status, &m.SourceTier,
			&m.ScriptVersion, &m.InputHash,
			&m.CandlesFetched, &m.CandlesInserted, &m.CandlesRejected, &m.CandlesDeduplicated,
			&m.ErrorsCount, &m.ZeroVolumeCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run manifest row: %w", err)
		}
		manifests = append(manifests, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run manifest rows: %w", err)
	}

	return manifests, nil
}
