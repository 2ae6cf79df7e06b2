package clickhouse

import (
	"context"
	"fmt"

	"candle-lab/internal/domain"
	"candle-lab/internal/quality"
	"candle-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
//
// Every write is stored as its own version row; the table is a
// ReplacingMergeTree keyed by (asset, chain, interval_seconds, timestamp)
// with a version column encoding (quality_score, ingested_at). Background
// merges eventually collapse superseded versions, but every read applies
// the argMax reduction inline, so visibility never depends on merge timing.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// encodeVersion packs (quality_score, ingested_at) into the single version
// column ReplacingMergeTree requires. Score occupies the high bits so it
// dominates; ingested_at must fit 32 bits (Unix seconds, good until 2106).
func encodeVersion(score domain.QualityScore, ingestedAt int64) uint64 {
	return uint64(uint32(score))<<32 | uint64(uint32(ingestedAt))
}

// UpsertCandles writes a batch for one (asset, chain, interval) series.
func (s *CandleStore) UpsertCandles(ctx context.Context, asset, chain string, interval domain.Interval, candles []domain.Candle, opts storage.UpsertOptions) (*storage.UpsertResult, error) {
	if asset == "" || chain == "" || !interval.IsValid() {
		return nil, storage.ErrInvalidInput
	}
	if opts.ValidationMode != "" && !opts.ValidationMode.IsValid() {
		return nil, storage.ErrInvalidInput
	}
	mode := opts.ValidationMode
	if mode == "" {
		mode = quality.ValidationStrict
	}

	result := &storage.UpsertResult{}

	type versioned struct {
		candle  domain.Candle
		score   domain.QualityScore
		version uint64
	}
	var accepted []versioned
	timestamps := make([]int64, 0, len(candles))
	for _, c := range candles {
		if mode == quality.ValidationStrict {
			if err := quality.ValidateStrict(c); err != nil {
				result.Rejected++
				continue
			}
		}
		score := quality.Score(c, opts.SourceTier)
		accepted = append(accepted, versioned{
			candle:  c,
			score:   score,
			version: encodeVersion(score, opts.IngestedAt),
		})
		timestamps = append(timestamps, c.Timestamp)
	}
	if len(accepted) == 0 {
		return result, nil
	}

	// Classify inserts vs dedups against the current winners before writing.
	winners, err := s.maxVersions(ctx, asset, chain, interval, timestamps)
	if err != nil {
		return nil, fmt.Errorf("load current versions: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			asset, chain, interval_seconds, timestamp,
			open, high, low, close, volume,
			quality_score, ingested_at, run_id, version
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}

	for _, v := range accepted {
		c := v.candle
		err = batch.Append(
			asset, chain, interval.Seconds(), c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume,
			v.score, opts.IngestedAt, opts.RunID, v.version,
		)
		if err != nil {
			return nil, fmt.Errorf("append to batch: %w", err)
		}

		// A write that does not displace the visible version is a dedup.
		if prev, exists := winners[c.Timestamp]; exists && prev > v.version {
			result.Deduplicated++
		} else {
			result.Inserted++
			winners[c.Timestamp] = v.version
		}
	}

	if err := batch.Send(); err != nil {
		return nil, fmt.Errorf("send batch: %w", err)
	}

	return result, nil
}

// maxVersions returns the highest stored version per timestamp.
func (s *CandleStore) maxVersions(ctx context.Context, asset, chain string, interval domain.Interval, timestamps []int64) (map[int64]uint64, error) {
	query := `
		SELECT timestamp, max(version)
		FROM candles
		WHERE asset = ? AND chain = ? AND interval_seconds = ? AND timestamp IN (?)
		GROUP BY timestamp
	`

	rows, err := s.conn.Query(ctx, query, asset, chain, interval.Seconds(), timestamps)
	if err != nil {
		return nil, fmt.Errorf("query max versions: %w", err)
	}
	defer rows.Close()

	winners := make(map[int64]uint64)
	for rows.Next() {
		var ts int64
		var version uint64
		if err := rows.Scan(&ts, &version); err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		winners[ts] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version rows: %w", err)
	}
	return winners, nil
}

// visibleQuery is the inline dedup reduction: one winning row per
// timestamp, regardless of merge state.
const visibleQuery = `
	SELECT
		timestamp,
		argMax(open, version), argMax(high, version), argMax(low, version),
		argMax(close, version), argMax(volume, version)
	FROM candles
	WHERE asset = ? AND chain = ? AND interval_seconds = ?
`

// GetCandlesAtTime returns visible candles with closeTime <= simTime and
// timestamp >= simTime-lookback, ordered by timestamp ASC.
func (s *CandleStore) GetCandlesAtTime(ctx context.Context, asset, chain string, interval domain.Interval, simTime, lookback int64) ([]domain.Candle, error) {
	query := visibleQuery + `
		AND timestamp + interval_seconds <= ?
		AND timestamp >= ?
		GROUP BY timestamp
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, asset, chain, interval.Seconds(), simTime, simTime-lookback)
	if err != nil {
		return nil, fmt.Errorf("query candles at time: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetLastClosedCandle returns the most recent visible candle closed at
// simTime. Returns ErrNotFound when none exists.
func (s *CandleStore) GetLastClosedCandle(ctx context.Context, asset, chain string, interval domain.Interval, simTime int64) (*domain.Candle, error) {
	query := visibleQuery + `
		AND timestamp + interval_seconds <= ?
		GROUP BY timestamp
		ORDER BY timestamp DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, asset, chain, interval.Seconds(), simTime)
	if err != nil {
		return nil, fmt.Errorf("query last closed candle: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, storage.ErrNotFound
	}
	return &candles[0], nil
}

// GetSeries returns the full visible series ordered by timestamp ASC.
func (s *CandleStore) GetSeries(ctx context.Context, asset, chain string, interval domain.Interval) ([]domain.Candle, error) {
	query := visibleQuery + `
		GROUP BY timestamp
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, asset, chain, interval.Seconds())
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// Compact forces the ReplacingMergeTree merge, physically dropping
// superseded versions. Visible data never changes; returns the number of
// rows removed.
func (s *CandleStore) Compact(ctx context.Context) (int, error) {
	before, err := s.rowCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("count before compact: %w", err)
	}

	if err := s.conn.Exec(ctx, "OPTIMIZE TABLE candles FINAL"); err != nil {
		return 0, fmt.Errorf("optimize candles: %w", err)
	}

	after, err := s.rowCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("count after compact: %w", err)
	}
	return int(before - after), nil
}

func (s *CandleStore) rowCount(ctx context.Context) (uint64, error) {
	var count uint64
	if err := s.conn.QueryRow(ctx, "SELECT count(*) FROM candles").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanCandles scans multiple rows.
func scanCandles(rows chRows) ([]domain.Candle, error) {
	var candles []domain.Candle

	for rows.Next() {
		var c domain.Candle
		err := rows.Scan(
			&c.Timestamp,
			&c.Open, &c.High, &c.Low,
			&c.Close, &c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
