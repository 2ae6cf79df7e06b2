package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	chstore "candle-lab/internal/storage/clickhouse"
)

func main() {
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (required)")
	flag.Parse()

	logger := log.New(os.Stderr, "[compact] ", log.LstdFlags)

	if *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required")
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

	conn, err := chstore.NewConn(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("connect to clickhouse: %v", err)
	}
	defer conn.Close()
	store := chstore.NewCandleStore(conn)

	logger.Println("Compaction started")
	started := time.Now()

	removed, err := store.Compact(ctx)
	if err != nil {
		logger.Fatalf("compaction failed: %v", err)
	}

	logger.Printf("Compaction finished in %v: %d superseded rows removed", time.Since(started).Round(time.Millisecond), removed)
}
