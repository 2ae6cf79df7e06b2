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

	"candle-lab/internal/domain"
	"candle-lab/internal/observability"
	"candle-lab/internal/optimize"
	"candle-lab/internal/storage"
	chstore "candle-lab/internal/storage/clickhouse"
	pgstore "candle-lab/internal/storage/postgres"
)

func main() {
	// Grid definition
	gridFile := flag.String("grid-file", "", "Path to a GridConfig JSON file (required)")

	// Series selection
	assets := flag.String("assets", "", "Comma-separated asset identifiers (required)")
	chain := flag.String("chain", "solana", "Chain name")
	intervalSec := flag.Int64("interval", 60, "Bar interval in seconds")
	start := flag.Int64("start", 0, "Window start, Unix seconds (required)")
	end := flag.Int64("end", 0, "Window end, Unix seconds (required)")

	// Sweep configuration
	workers := flag.Int("workers", 0, "Parallel run workers (0 = GOMAXPROCS)")
	errorMode := flag.String("error-mode", "COLLECT", "Error mode: COLLECT, FAIL_FAST")
	initialCapital := flag.Float64("initial-capital", 0, "Initial capital (0 disables the capital-aware mode)")
	positionFraction := flag.Float64("position-fraction", 0.1, "Fraction of free capital per trade")

	// Storage
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (required)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (for --persist)")
	persistResults := flag.Bool("persist", false, "Persist per-run results of ranked policies")

	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	topN := flag.Int("top", 10, "Number of ranked policies to print")
	outputJSON := flag.Bool("json", false, "Output report as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[optimize] ", log.LstdFlags)

	if *gridFile == "" {
		logger.Fatal("--grid-file is required")
	}
	if *assets == "" {
		logger.Fatal("--assets is required")
	}
	if *start == 0 || *end == 0 {
		logger.Fatal("--start and --end are required")
	}
	if *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required")
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

	grid, err := loadGrid(*gridFile)
	if err != nil {
		logger.Fatal(err)
	}

	conn, err := chstore.NewConn(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("connect to clickhouse: %v", err)
	}
	defer conn.Close()
	candleStore := chstore.NewCandleStore(conn)

	var resultStore storage.ResultStore
	if *persistResults {
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required with --persist")
		}
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()
		resultStore = pgstore.NewResultStore(pool)
	}

	calls, err := buildCalls(ctx, candleStore, strings.Split(*assets, ","), *chain, interval, *start, *end)
	if err != nil {
		logger.Fatal(err)
	}

	var capital *optimize.CapitalConfig
	if *initialCapital > 0 {
		capital = &optimize.CapitalConfig{
			InitialCapital:   *initialCapital,
			PositionFraction: *positionFraction,
		}
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

	runner, err := optimize.NewRunner(optimize.RunnerOptions{
		Interval:  interval,
		Workers:   *workers,
		ErrorMode: optimize.SweepErrorMode(strings.ToUpper(*errorMode)),
		Capital:   capital,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		logger.Fatalf("create runner: %v", err)
	}

	report, err := runner.Sweep(ctx, *grid, calls)
	if err != nil {
		logger.Fatalf("sweep failed: %v", err)
	}

	if resultStore != nil {
		persisted := 0
		for _, policy := range report.Ranked {
			if err := resultStore.InsertBulk(ctx, policy.Results); err != nil {
				logger.Fatalf("persist results for spec %s: %v", policy.SpecID, err)
			}
			persisted += len(policy.Results)
		}
		logger.Printf("Persisted %d results across %d policies", persisted, len(report.Ranked))
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
	} else {
		printReport(report, *topN)
	}
}

// loadGrid reads and parses the grid configuration file.
func loadGrid(path string) (*optimize.GridConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grid file: %w", err)
	}
	var grid optimize.GridConfig
	if err := json.Unmarshal(data, &grid); err != nil {
		return nil, fmt.Errorf("parse grid file: %w", err)
	}
	return &grid, nil
}

// buildCalls loads one call per asset from the candle store, clipped to
// the sweep window. Assets with no candles in the window are skipped.
func buildCalls(ctx context.Context, store storage.CandleStore, assets []string, chain string, interval domain.Interval, start, end int64) ([]optimize.Call, error) {
	var calls []optimize.Call
	for _, asset := range assets {
		asset = strings.TrimSpace(asset)
		if asset == "" {
			continue
		}
		series, err := store.GetSeries(ctx, asset, chain, interval)
		if err != nil {
			return nil, fmt.Errorf("load series for %s: %w", asset, err)
		}
		var candles []domain.Candle
		for _, c := range series {
			if c.Timestamp >= start && c.Timestamp <= end {
				candles = append(candles, c)
			}
		}
		if len(candles) == 0 {
			continue
		}
		calls = append(calls, optimize.Call{
			Asset:   asset,
			Candles: candles,
			Start:   start,
			End:     end,
		})
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("no candles found for any asset in [%d, %d]", start, end)
	}
	return calls, nil
}

// printReport outputs a human-readable ranking.
func printReport(report *optimize.SweepReport, topN int) {
	fmt.Println()
	fmt.Println("=== Sweep Report ===")
	fmt.Printf("Ranked:     %d\n", len(report.Ranked))
	fmt.Printf("Filtered:   %d\n", len(report.Filtered))
	fmt.Printf("Failures:   %d\n", len(report.Failures))
	fmt.Println()

	n := len(report.Ranked)
	if topN > 0 && topN < n {
		n = topN
	}
	for i := 0; i < n; i++ {
		policy := report.Ranked[i]
		fmt.Printf("#%d  %s\n", i+1, policy.SpecID)
		fmt.Printf("    Objective:     %.4f\n", policy.Objective)
		fmt.Printf("    Stop:          %.2f", policy.Spec.StopLoss.InitialPct)
		if policy.Spec.StopLoss.TrailingPct != nil {
			fmt.Printf("  Trailing: %.2f", *policy.Spec.StopLoss.TrailingPct)
		}
		fmt.Println()
		fmt.Printf("    Entered:       %d/%d  WinRate: %.2f%%\n",
			policy.Stats.Entered, policy.Stats.TotalRuns, policy.Stats.WinRate*100)
		fmt.Printf("    Return:        mean %.4f  median %.4f  p10 %.4f  p90 %.4f\n",
			policy.Stats.ReturnMean, policy.Stats.ReturnMedian, policy.Stats.ReturnP10, policy.Stats.ReturnP90)
		fmt.Printf("    Max Drawdown:  %.2f%%  Consecutive Losses: %d\n",
			policy.Stats.MaxDrawdown*100, policy.Stats.MaxConsecutiveLosses)
		if policy.Capital != nil {
			fmt.Printf("    Capital:       final %.2f  return %.2f%%  taken %d  skipped %d\n",
				policy.Capital.FinalCapital, policy.Capital.Return*100,
				policy.Capital.TradesTaken, policy.Capital.TradesSkipped)
		}
		fmt.Println()
	}

	if len(report.Filtered) > 0 {
		fmt.Println("Filtered policies:")
		for specID, reason := range report.Filtered {
			fmt.Printf("  %s: %s\n", specID, reason)
		}
	}
}
