package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"candle-lab/internal/domain"
	"candle-lab/internal/storage"
)

// ResultStore implements storage.ResultStore using PostgreSQL. The event
// ladder is stored as a JSONB column; everything queried on gets its own
// column.
type ResultStore struct {
	pool *Pool
}

// NewResultStore creates a new ResultStore.
func NewResultStore(pool *Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ResultStore = (*ResultStore)(nil)

const resultColumns = `
	asset, spec_id, entered, no_entry_reason,
	entry_timestamp, entry_price, exit_timestamp, exit_price, net_multiple,
	events,
	ath_price, ath_timestamp, atl_price, atl_timestamp,
	max_drawdown, total_candles, terminal
`

const resultInsertQuery = `
	INSERT INTO simulation_results (` + resultColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

// Insert adds a result. Returns ErrDuplicateKey if the
// (asset, spec_id, entry_timestamp) key exists.
func (s *ResultStore) Insert(ctx context.Context, r *domain.SimulationResult) error {
	if r == nil || r.Asset == "" || r.SpecID == "" {
		return storage.ErrInvalidInput
	}

	args, err := resultArgs(r)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, resultInsertQuery, args...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert simulation result: %w", err)
	}
	return nil
}

// InsertBulk adds multiple results atomically. Fails entire batch on any duplicate.
func (s *ResultStore) InsertBulk(ctx context.Context, results []*domain.SimulationResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range results {
		if r == nil || r.Asset == "" || r.SpecID == "" {
			return storage.ErrInvalidInput
		}
		args, err := resultArgs(r)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, resultInsertQuery, args...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert simulation result in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetBySpecID retrieves all results for a strategy spec,
// ordered by entry timestamp ASC.
func (s *ResultStore) GetBySpecID(ctx context.Context, specID string) ([]*domain.SimulationResult, error) {
	query := `
		SELECT ` + resultColumns + `
		FROM simulation_results
		WHERE spec_id = $1
		ORDER BY entry_timestamp ASC, asset ASC
	`

	rows, err := s.pool.Query(ctx, query, specID)
	if err != nil {
		return nil, fmt.Errorf("get simulation results by spec id: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// GetByAsset retrieves all results for an asset,
// ordered by entry timestamp ASC.
func (s *ResultStore) GetByAsset(ctx context.Context, asset string) ([]*domain.SimulationResult, error) {
	query := `
		SELECT ` + resultColumns + `
		FROM simulation_results
		WHERE asset = $1
		ORDER BY entry_timestamp ASC, spec_id ASC
	`

	rows, err := s.pool.Query(ctx, query, asset)
	if err != nil {
		return nil, fmt.Errorf("get simulation results by asset: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// resultArgs builds the insert argument list, serializing the event ladder.
func resultArgs(r *domain.SimulationResult) ([]any, error) {
	events, err := json.Marshal(r.Events)
	if err != nil {
		return nil, fmt.Errorf("marshal simulation events: %w", err)
	}

	return []any{
		r.Asset, r.SpecID, r.Entered, r.NoEntryReason,
		r.EntryTimestamp, r.EntryPrice, r.ExitTimestamp, r.ExitPrice, r.NetMultiple,
		events,
		r.ATHPrice, r.ATHTimestamp, r.ATLPrice, r.ATLTimestamp,
		r.MaxDrawdown, r.TotalCandles, r.Terminal,
	}, nil
}

// scanResults scans multiple rows into a slice.
func scanResults(rows pgx.Rows) ([]*domain.SimulationResult, error) {
	var results []*domain.SimulationResult

	for rows.Next() {
		var r domain.SimulationResult
		var events []byte

		err := rows.Scan(
			&r.Asset, &r.SpecID, &r.Entered, &r.NoEntryReason,
			&r.EntryTimestamp, &r.EntryPrice, &r.ExitTimestamp, &r.ExitPrice, &r.NetMultiple,
			&events,
			&r.ATHPrice, &r.ATHTimestamp, &r.ATLPrice, &r.ATLTimestamp,
			&r.MaxDrawdown, &r.TotalCandles, &r.Terminal,
		)
		if err != nil {
			return nil, fmt.Errorf("scan simulation result row: %w", err)
		}

		if len(events) > 0 {
			if err := json.Unmarshal(events, &r.Events); err != nil {
				return nil, fmt.Errorf("unmarshal simulation events: %w", err)
			}
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate simulation result rows: %w", err)
	}

	return results, nil
}
