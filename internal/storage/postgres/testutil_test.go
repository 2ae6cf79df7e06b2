package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL container for testing and applies the
// schema. Returns a cleanup function that must be called after tests
// complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	createSchema(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// createSchema applies the table schemas. Mirrors the embedded migrations
// in storage/migrations/postgres; kept inline because importing the
// migrations package from here would be an import cycle.
func createSchema(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ingestion_run_manifests (
			run_id               TEXT PRIMARY KEY,
			started_at           BIGINT NOT NULL,
			completed_at         BIGINT,
			status               TEXT NOT NULL,
			source_tier          TEXT NOT NULL,
			script_version       TEXT NOT NULL DEFAULT '',
			input_hash           TEXT NOT NULL DEFAULT '',
			candles_fetched      INTEGER NOT NULL DEFAULT 0,
			candles_inserted     INTEGER NOT NULL DEFAULT 0,
			candles_rejected     INTEGER NOT NULL DEFAULT 0,
			candles_deduplicated INTEGER NOT NULL DEFAULT 0,
			errors_count         INTEGER NOT NULL DEFAULT 0,
			zero_volume_count    INTEGER NOT NULL DEFAULT 0
		)
	`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS simulation_results (
			asset           TEXT NOT NULL,
			spec_id         TEXT NOT NULL,
			entered         BOOLEAN NOT NULL,
			no_entry_reason TEXT NOT NULL DEFAULT '',
			entry_timestamp BIGINT NOT NULL DEFAULT 0,
			entry_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
			exit_timestamp  BIGINT NOT NULL DEFAULT 0,
			exit_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
			net_multiple    DOUBLE PRECISION NOT NULL DEFAULT 0,
			events          JSONB NOT NULL DEFAULT 'null',
			ath_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
			ath_timestamp   BIGINT NOT NULL DEFAULT 0,
			atl_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
			atl_timestamp   BIGINT NOT NULL DEFAULT 0,
			max_drawdown    DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_candles   INTEGER NOT NULL DEFAULT 0,
			terminal        TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (asset, spec_id, entry_timestamp)
		)
	`)
	require.NoError(t, err)
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}
