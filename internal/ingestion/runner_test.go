package ingestion

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"candle-lab/internal/domain"
	"candle-lab/internal/quality"
	"candle-lab/internal/storage/memory"
)

const (
	testAsset = "So11111111111111111111111111111111111111112"
	testChain = "solana"
	testStart = int64(1700000100) // multiple of 60
)

// fakeSource serves a fixed candle slice, optionally failing the first
// few Fetch calls.
type fakeSource struct {
	candles  []domain.Candle
	failures int
	calls    int
	failFrom int64 // when set, chunks starting here always fail
}

func (s *fakeSource) Fetch(_ context.Context, _, _ string, _ domain.Interval, from, to int64) ([]domain.Candle, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("transient source error")
	}
	if s.failFrom != 0 && from == s.failFrom {
		return nil, errors.New("permanent source error")
	}

	var out []domain.Candle
	for _, c := range s.candles {
		if c.Timestamp >= from && c.Timestamp <= to {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeSource) Describe() string { return "fake" }

func barsFrom(start int64, n int) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := range candles {
		candles[i] = domain.Candle{
			Timestamp: start + int64(i)*60,
			Open:      1.0,
			High:      1.2,
			Low:       0.9,
			Close:     1.1,
			Volume:    float64(100 + i),
		}
	}
	return candles
}

func newTestRunner(t *testing.T, opts RunnerOptions) (*Runner, *memory.CandleStore, *memory.RunManifestStore) {
	t.Helper()

	candleStore := memory.NewCandleStore()
	manifestStore := memory.NewRunManifestStore()

	opts.CandleStore = candleStore
	opts.ManifestStore = manifestStore
	if opts.SourceTier == "" {
		opts.SourceTier = domain.TierExchange
	}
	if opts.BaseRetryDelay == 0 {
		opts.BaseRetryDelay = time.Millisecond
	}
	if opts.Now == nil {
		clock := testStart
		opts.Now = func() int64 { clock++; return clock }
	}
	opts.Logger = log.New(io.Discard, "", 0)

	runner, err := NewRunner(opts)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return runner, candleStore, manifestStore
}

func TestRunner_CompletedRunRecordsCounts(t *testing.T) {
	candles := barsFrom(testStart, 10)
	candles[3].Volume = 0 // zero-volume bar, rejected under strict validation
	source := &fakeSource{candles: candles}

	runner, candleStore, manifestStore := newTestRunner(t, RunnerOptions{
		Source:        source,
		ScriptVersion: "v1",
	})

	manifest, err := runner.Run(context.Background(), IngestInput{
		Asset:    testAsset,
		Chain:    testChain,
		Interval: domain.Interval1Min,
		From:     testStart,
		To:       testStart + 9*60,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if manifest.Status != domain.RunStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", manifest.Status)
	}
	if manifest.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if manifest.CandlesFetched != 10 {
		t.Errorf("fetched = %d, want 10", manifest.CandlesFetched)
	}
	if manifest.CandlesInserted != 9 {
		t.Errorf("inserted = %d, want 9", manifest.CandlesInserted)
	}
	if manifest.CandlesRejected != 1 {
		t.Errorf("rejected = %d, want 1", manifest.CandlesRejected)
	}
	if manifest.ZeroVolumeCount != 1 {
		t.Errorf("zero_volume = %d, want 1", manifest.ZeroVolumeCount)
	}
	if manifest.InputHash == "" || manifest.ScriptVersion != "v1" {
		t.Error("manifest provenance incomplete")
	}

	stored, err := manifestStore.GetByID(context.Background(), manifest.RunID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != domain.RunStatusCompleted {
		t.Errorf("stored status = %s, want COMPLETED", stored.Status)
	}

	series, err := candleStore.GetSeries(context.Background(), testAsset, testChain, domain.Interval1Min)
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}
	if len(series) != 9 {
		t.Errorf("stored series has %d candles, want 9", len(series))
	}
}

func TestRunner_RetriesTransientFailures(t *testing.T) {
	source := &fakeSource{candles: barsFrom(testStart, 5), failures: 2}

	runner, _, _ := newTestRunner(t, RunnerOptions{
		Source:     source,
		MaxRetries: 3,
	})

	manifest, err := runner.Run(context.Background(), IngestInput{
		Asset:    testAsset,
		Chain:    testChain,
		Interval: domain.Interval1Min,
		From:     testStart,
		To:       testStart + 4*60,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if manifest.Status != domain.RunStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", manifest.Status)
	}
	if manifest.CandlesFetched != 5 {
		t.Errorf("fetched = %d, want 5", manifest.CandlesFetched)
	}
	if source.calls != 3 {
		t.Errorf("source called %d times, want 3", source.calls)
	}
}

func TestRunner_FailFastMarksRunFailed(t *testing.T) {
	source := &fakeSource{candles: barsFrom(testStart, 5), failures: 100}

	runner, _, manifestStore := newTestRunner(t, RunnerOptions{
		Source:     source,
		ErrorMode:  ErrorModeFailFast,
		MaxRetries: 2,
	})

	manifest, err := runner.Run(context.Background(), IngestInput{
		Asset:    testAsset,
		Chain:    testChain,
		Interval: domain.Interval1Min,
		From:     testStart,
		To:       testStart + 4*60,
	})
	if err == nil {
		t.Fatal("expected run error")
	}
	if manifest == nil {
		t.Fatal("manifest should be returned even on failure")
	}
	if manifest.Status != domain.RunStatusFailed {
		t.Errorf("status = %s, want FAILED", manifest.Status)
	}
	if manifest.ErrorsCount != 1 {
		t.Errorf("errors = %d, want 1", manifest.ErrorsCount)
	}

	stored, err := manifestStore.GetByID(context.Background(), manifest.RunID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != domain.RunStatusFailed {
		t.Errorf("stored status = %s, want FAILED", stored.Status)
	}
}

func TestRunner_CollectModeSkipsFailedChunk(t *testing.T) {
	// Three 2-bar chunks; the middle chunk fails permanently.
	source := &fakeSource{
		candles:  barsFrom(testStart, 6),
		failFrom: testStart + 2*60,
	}

	runner, candleStore, _ := newTestRunner(t, RunnerOptions{
		Source:     source,
		ErrorMode:  ErrorModeCollect,
		MaxRetries: 2,
		ChunkBars:  2,
	})

	manifest, err := runner.Run(context.Background(), IngestInput{
		Asset:    testAsset,
		Chain:    testChain,
		Interval: domain.Interval1Min,
		From:     testStart,
		To:       testStart + 5*60,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if manifest.Status != domain.RunStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", manifest.Status)
	}
	if manifest.ErrorsCount != 1 {
		t.Errorf("errors = %d, want 1", manifest.ErrorsCount)
	}
	if manifest.CandlesFetched != 4 {
		t.Errorf("fetched = %d, want 4", manifest.CandlesFetched)
	}

	series, err := candleStore.GetSeries(context.Background(), testAsset, testChain, domain.Interval1Min)
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}
	if len(series) != 4 {
		t.Errorf("stored series has %d candles, want 4", len(series))
	}
}

func TestRunner_ReingestLowerTierDeduplicates(t *testing.T) {
	candles := barsFrom(testStart, 5)

	first, candleStore, manifestStore := newTestRunner(t, RunnerOptions{
		Source:     &fakeSource{candles: candles},
		SourceTier: domain.TierExchange,
	})
	input := IngestInput{
		Asset:    testAsset,
		Chain:    testChain,
		Interval: domain.Interval1Min,
		From:     testStart,
		To:       testStart + 4*60,
	}
	if _, err := first.Run(context.Background(), input); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	second, err := NewRunner(RunnerOptions{
		Source:         &fakeSource{candles: candles},
		CandleStore:    candleStore,
		ManifestStore:  manifestStore,
		SourceTier:     domain.TierBackfill,
		BaseRetryDelay: time.Millisecond,
		Logger:         log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	manifest, err := second.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if manifest.CandlesDeduplicated != 5 {
		t.Errorf("deduplicated = %d, want 5", manifest.CandlesDeduplicated)
	}
	if manifest.CandlesInserted != 0 {
		t.Errorf("inserted = %d, want 0", manifest.CandlesInserted)
	}

	series, err := candleStore.GetSeries(context.Background(), testAsset, testChain, domain.Interval1Min)
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}
	if len(series) != 5 {
		t.Errorf("visible series has %d candles, want 5", len(series))
	}
}

func TestRunner_RejectsInvalidInput(t *testing.T) {
	runner, _, _ := newTestRunner(t, RunnerOptions{
		Source: &fakeSource{},
	})

	cases := []struct {
		name  string
		input IngestInput
	}{
		{"bad asset", IngestInput{Asset: "not-base58-0OIl", Chain: testChain, Interval: domain.Interval1Min, From: 0, To: 60}},
		{"bad interval", IngestInput{Asset: testAsset, Chain: testChain, Interval: domain.Interval(7), From: 0, To: 60}},
		{"inverted window", IngestInput{Asset: testAsset, Chain: testChain, Interval: domain.Interval1Min, From: 120, To: 60}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := runner.Run(context.Background(), tc.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunner_PermissiveModeStoresInvalidCandles(t *testing.T) {
	candles := barsFrom(testStart, 3)
	candles[1].Volume = 0

	runner, candleStore, _ := newTestRunner(t, RunnerOptions{
		Source:         &fakeSource{candles: candles},
		ValidationMode: quality.ValidationPermissive,
	})

	manifest, err := runner.Run(context.Background(), IngestInput{
		Asset:    testAsset,
		Chain:    testChain,
		Interval: domain.Interval1Min,
		From:     testStart,
		To:       testStart + 2*60,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if manifest.CandlesInserted != 3 {
		t.Errorf("inserted = %d, want 3", manifest.CandlesInserted)
	}
	if manifest.CandlesRejected != 0 {
		t.Errorf("rejected = %d, want 0", manifest.CandlesRejected)
	}
	if manifest.ZeroVolumeCount != 1 {
		t.Errorf("zero_volume = %d, want 1", manifest.ZeroVolumeCount)
	}

	series, err := candleStore.GetSeries(context.Background(), testAsset, testChain, domain.Interval1Min)
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}
	if len(series) != 3 {
		t.Errorf("stored series has %d candles, want 3", len(series))
	}
}
