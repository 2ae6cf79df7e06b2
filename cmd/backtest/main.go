package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"candle-lab/internal/causal"
	"candle-lab/internal/domain"
	"candle-lab/internal/engine"
	"candle-lab/internal/execution"
	"candle-lab/internal/idhash"
	"candle-lab/internal/storage"
	chstore "candle-lab/internal/storage/clickhouse"
	pgstore "candle-lab/internal/storage/postgres"
)

func main() {
	// Series selection
	asset := flag.String("asset", "", "Asset identifier (required)")
	chain := flag.String("chain", "solana", "Chain name")
	intervalSec := flag.Int64("interval", 60, "Bar interval in seconds")
	start := flag.Int64("start", 0, "Window start, Unix seconds (required)")
	end := flag.Int64("end", 0, "Window end, Unix seconds (required)")

	// Strategy: either a spec file or inline flags
	specFile := flag.String("spec-file", "", "Path to a StrategySpec JSON file")
	entryPolicy := flag.String("entry", "IMMEDIATE", "Entry policy: IMMEDIATE, INITIAL_DROP, TRAILING, SIGNAL")
	dropPct := flag.Float64("drop-pct", 0.30, "Drop fraction for INITIAL_DROP")
	reboundPct := flag.Float64("rebound-pct", 0.10, "Rebound fraction for TRAILING")
	stopPct := flag.Float64("stop-pct", 0.30, "Initial stop-loss fraction")
	trailingPct := flag.Float64("trailing-pct", 0, "Trailing stop fraction (0 disables)")
	takerFeeBps := flag.Float64("taker-fee-bps", 100, "Taker fee in basis points")
	slippageBps := flag.Float64("slippage-bps", 50, "Entry and exit slippage in basis points")

	// Execution timing annotation
	venueName := flag.String("venue", "aggregator", "Execution venue: aggregator, direct")
	congestion := flag.Float64("congestion", 0, "Congestion level in [0,1]")
	latencySeed := flag.Int64("latency-seed", 1, "Latency sampler seed")

	// Storage
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (required)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (for --persist)")
	persistResult := flag.Bool("persist", false, "Persist the simulation result")

	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	if *asset == "" {
		logger.Fatal("--asset is required")
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

	spec, err := buildSpec(*specFile, *entryPolicy, *dropPct, *reboundPct, *stopPct, *trailingPct, *takerFeeBps, *slippageBps)
	if err != nil {
		logger.Fatal(err)
	}
	specID, err := idhash.ComputeSpecID(*spec)
	if err != nil {
		logger.Fatalf("compute spec id: %v", err)
	}

	venue, err := venueByName(*venueName)
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
	if *persistResult {
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

	eng := engine.New(engine.Options{
		Accessor: causal.NewStoreAccessor(candleStore, *asset, *chain, interval),
		Logger:   logger,
	})

	logger.Printf("Running backtest: asset=%s spec=%s window=[%d, %d]", *asset, specID, *start, *end)

	result, err := eng.Run(ctx, engine.RunInput{
		Asset:  *asset,
		SpecID: specID,
		Spec:   *spec,
		Start:  *start,
		End:    *end,
	})
	if err != nil {
		logger.Fatalf("backtest failed: %v", err)
	}

	if resultStore != nil {
		if err := resultStore.Insert(ctx, result); err != nil {
			logger.Fatalf("persist result: %v", err)
		}
		logger.Printf("Result persisted for spec %s", specID)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
	} else {
		sampler := execution.NewSampler(venue, *latencySeed)
		printResult(result, sampler, *congestion)
	}
}

// buildSpec loads the spec file or assembles a spec from flags.
func buildSpec(specFile, entryPolicy string, dropPct, reboundPct, stopPct, trailingPct, takerFeeBps, slippageBps float64) (*domain.StrategySpec, error) {
	if specFile != "" {
		data, err := os.ReadFile(specFile)
		if err != nil {
			return nil, fmt.Errorf("read spec file: %w", err)
		}
		var spec domain.StrategySpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse spec file: %w", err)
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		return &spec, nil
	}

	spec := domain.StrategySpec{
		Entry:    domain.EntryConfig{Policy: domain.EntryPolicy(strings.ToUpper(entryPolicy))},
		StopLoss: domain.StopLossConfig{InitialPct: stopPct},
		Cost: domain.CostConfig{
			TakerFeeBps:      takerFeeBps,
			EntrySlippageBps: slippageBps,
			ExitSlippageBps:  slippageBps,
		},
	}
	switch spec.Entry.Policy {
	case domain.EntryInitialDrop:
		spec.Entry.DropPct = &dropPct
	case domain.EntryTrailing:
		spec.Entry.ReboundPct = &reboundPct
	}
	if trailingPct > 0 {
		spec.StopLoss.TrailingPct = &trailingPct
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// venueByName returns the predefined venue config by name.
func venueByName(name string) (domain.VenueConfig, error) {
	switch strings.ToLower(name) {
	case "aggregator":
		return domain.VenueConfigAggregator, nil
	case "direct":
		return domain.VenueConfigDirect, nil
	default:
		return domain.VenueConfig{}, fmt.Errorf("invalid venue: %s. Must be aggregator or direct", name)
	}
}

// printResult outputs a human-readable result with estimated fill times.
func printResult(r *domain.SimulationResult, sampler *execution.Sampler, congestion float64) {
	fmt.Println()
	fmt.Println("=== Backtest Result ===")
	fmt.Printf("Asset:              %s\n", r.Asset)
	fmt.Printf("Spec ID:            %s\n", r.SpecID)
	fmt.Println()

	if !r.Entered {
		fmt.Printf("No entry:           %s\n", r.NoEntryReason)
		fmt.Printf("Candles Processed:  %d\n", r.TotalCandles)
		return
	}

	fmt.Println("Position:")
	fmt.Printf("  Entry Time:       %s\n", time.Unix(r.EntryTimestamp, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  Entry Price:      %.8f\n", r.EntryPrice)
	fmt.Printf("  Exit Time:        %s\n", time.Unix(r.ExitTimestamp, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  Exit Price:       %.8f\n", r.ExitPrice)
	fmt.Printf("  Net Multiple:     %.4f\n", r.NetMultiple)
	fmt.Printf("  Terminal:         %s\n", r.Terminal)
	fmt.Println()

	fmt.Println("Extremes:")
	fmt.Printf("  ATH:              %.8f @ %s\n", r.ATHPrice, time.Unix(r.ATHTimestamp, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  ATL:              %.8f @ %s\n", r.ATLPrice, time.Unix(r.ATLTimestamp, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  Max Drawdown:     %.2f%%\n", r.MaxDrawdown*100)
	fmt.Println()

	fmt.Printf("Events (%d, with estimated fill delay):\n", len(r.Events))
	for _, event := range r.Events {
		latency, err := sampler.TotalLatencyMs(congestion)
		if err != nil {
			latency = 0
		}
		fmt.Printf("  %-13s %.8f x%.2f @ %s (+%.0fms)\n",
			event.Type, event.Price, event.SizeFraction,
			time.Unix(event.Timestamp, 0).UTC().Format(time.RFC3339), latency)
	}
}
