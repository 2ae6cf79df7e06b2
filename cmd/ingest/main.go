package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"candle-lab/internal/domain"
	"candle-lab/internal/ingestion"
	"candle-lab/internal/observability"
	"candle-lab/internal/quality"
	"candle-lab/internal/storage"
	chstore "candle-lab/internal/storage/clickhouse"
	"candle-lab/internal/storage/memory"
	"candle-lab/internal/storage/migrations"
	pgstore "candle-lab/internal/storage/postgres"
)

func main() {
	// Series selection
	asset := flag.String("asset", "", "Asset identifier (required)")
	chain := flag.String("chain", "solana", "Chain name")
	intervalSec := flag.Int64("interval", 60, "Bar interval in seconds")
	from := flag.Int64("from", 0, "Window start, Unix seconds (required)")
	to := flag.Int64("to", 0, "Window end, Unix seconds (required)")

	// Source
	sourceKind := flag.String("source", "csv", "Source kind: csv, synthetic, ws")
	csvPath := flag.String("csv-path", "", "CSV file path for --source=csv")
	wsURL := flag.String("ws-url", "", "Websocket endpoint for --source=ws")
	seed := flag.Int64("seed", 1, "Seed for --source=synthetic")
	startPrice := flag.Float64("start-price", 1.0, "Start price for --source=synthetic")

	// Run configuration
	tier := flag.String("tier", "EXCHANGE", "Source tier: EXCHANGE, AGGREGATE, BACKFILL")
	validation := flag.String("validation", "STRICT", "Validation mode: STRICT, PERMISSIVE")
	errorMode := flag.String("error-mode", "COLLECT", "Error mode: COLLECT, FAIL_FAST")
	maxRetries := flag.Int("max-retries", 3, "Fetch retries per chunk")
	scriptVersion := flag.String("script-version", "dev", "Script version recorded on the manifest")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (run manifests)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (candles)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	migrate := flag.Bool("migrate", false, "Run migrations before ingesting")

	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	outputJSON := flag.Bool("json", false, "Output manifest as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[ingest] ", log.LstdFlags)

	if *asset == "" {
		logger.Fatal("--asset is required")
	}
	if *from == 0 || *to == 0 {
		logger.Fatal("--from and --to are required")
	}
	interval := domain.Interval(*intervalSec)
	if !interval.IsValid() {
		logger.Fatalf("Invalid interval: %d seconds", *intervalSec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Create stores
	var candleStore storage.CandleStore = memory.NewCandleStore()
	var manifestStore storage.RunManifestStore = memory.NewRunManifestStore()

	if !*useMemory {
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required when not using --use-memory (run manifests)")
		}
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required when not using --use-memory (candles)")
		}

		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()

		if *migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				logger.Fatalf("postgres migrations: %v", err)
			}
		}
		manifestStore = pgstore.NewRunManifestStore(pool)

		var conn *chstore.Conn
		if *migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		} else {
			conn, err = chstore.NewConn(ctx, *clickhouseDSN)
		}
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()

		candleStore = chstore.NewCandleStore(conn)
	}

	source, err := buildSource(*sourceKind, *csvPath, *wsURL, *seed, *startPrice)
	if err != nil {
		logger.Fatal(err)
	}

	var metrics *observability.Metrics
	if *metricsAddr != "" {
		metrics = observability.NewMetrics("")
		go func() {
			logger.Printf("Serving metrics on %s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, observability.Handler()); err != nil {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	runner, err := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:         source,
		CandleStore:    candleStore,
		ManifestStore:  manifestStore,
		SourceTier:     domain.SourceTier(strings.ToUpper(*tier)),
		ValidationMode: quality.ValidationMode(strings.ToUpper(*validation)),
		ScriptVersion:  *scriptVersion,
		ErrorMode:      ingestion.ErrorMode(strings.ToUpper(*errorMode)),
		MaxRetries:     *maxRetries,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		logger.Fatalf("create runner: %v", err)
	}

	manifest, runErr := runner.Run(ctx, ingestion.IngestInput{
		Asset:    *asset,
		Chain:    *chain,
		Interval: interval,
		From:     *from,
		To:       *to,
	})
	if manifest == nil {
		logger.Fatalf("ingestion failed: %v", runErr)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(manifest, "", "  ")
		fmt.Println(string(output))
	} else {
		printManifest(manifest)
	}

	if runErr != nil {
		logger.Fatalf("ingestion failed: %v", runErr)
	}
}

// buildSource resolves the source kind and its parameters.
func buildSource(kind, csvPath, wsURL string, seed int64, startPrice float64) (ingestion.CandleSource, error) {
	switch strings.ToLower(kind) {
	case "csv":
		if csvPath == "" {
			return nil, fmt.Errorf("--csv-path is required for --source=csv")
		}
		return ingestion.NewSource(ingestion.SourceConfig{Kind: ingestion.SourceCSV, Path: csvPath})
	case "ws":
		if wsURL == "" {
			return nil, fmt.Errorf("--ws-url is required for --source=ws")
		}
		return ingestion.NewSource(ingestion.SourceConfig{Kind: ingestion.SourceWebsocket, URL: wsURL})
	case "synthetic":
		return ingestion.NewSource(ingestion.SourceConfig{Kind: ingestion.SourceSynthetic, Seed: seed, StartPrice: startPrice})
	default:
		return nil, fmt.Errorf("invalid source kind: %s. Must be csv, synthetic, or ws", kind)
	}
}

// printManifest outputs a human-readable run summary.
func printManifest(m *domain.IngestionRunManifest) {
	fmt.Println()
	fmt.Println("=== Ingestion Run ===")
	fmt.Printf("Run ID:          %s\n", m.RunID)
	fmt.Printf("Status:          %s\n", m.Status)
	fmt.Printf("Source Tier:     %s\n", m.SourceTier)
	fmt.Printf("Started:         %s\n", time.Unix(m.StartedAt, 0).UTC().Format(time.RFC3339))
	if m.CompletedAt != nil {
		fmt.Printf("Completed:       %s\n", time.Unix(*m.CompletedAt, 0).UTC().Format(time.RFC3339))
	}
	fmt.Printf("Input Hash:      %s\n", m.InputHash)
	fmt.Println()
	fmt.Printf("Fetched:         %d\n", m.CandlesFetched)
	fmt.Printf("Inserted:        %d\n", m.CandlesInserted)
	fmt.Printf("Rejected:        %d\n", m.CandlesRejected)
	fmt.Printf("Deduplicated:    %d\n", m.CandlesDeduplicated)
	fmt.Printf("Errors:          %d\n", m.ErrorsCount)
	fmt.Printf("Zero Volume:     %d\n", m.ZeroVolumeCount)
}
