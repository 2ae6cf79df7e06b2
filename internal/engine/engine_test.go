package engine

import (
	"context"
	"math"
	"reflect"
	"testing"

	"candle-lab/internal/causal"
	"candle-lab/internal/domain"
)

const (
	testStart = int64(1700000000)
	testBar   = domain.Interval1Min
)

// fee config giving 1.5% entry and 1.5% exit cost.
var cost15 = domain.CostConfig{
	TakerFeeBps:      100,
	EntrySlippageBps: 50,
	ExitSlippageBps:  50,
}

func bar(i int64, open, high, low, close float64) domain.Candle {
	return domain.Candle{
		Timestamp: testStart + i*testBar.Seconds(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    100,
	}
}

// runSpec executes a spec over candles with a window covering the series.
func runSpec(t *testing.T, candles []domain.Candle, spec domain.StrategySpec) *domain.SimulationResult {
	t.Helper()

	accessor := causal.NewSeriesAccessor(candles, testBar)
	eng := New(Options{Accessor: accessor})

	end := testStart
	if len(candles) > 0 {
		end = candles[len(candles)-1].CloseTime(testBar)
	}
	result, err := eng.Run(context.Background(), RunInput{
		Asset:  "test-asset",
		SpecID: "test-spec",
		Spec:   spec,
		Start:  testStart,
		End:    end,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return result
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func immediateSpec(stopPct float64) domain.StrategySpec {
	return domain.StrategySpec{
		Entry:    domain.EntryConfig{Policy: domain.EntryImmediate},
		StopLoss: domain.StopLossConfig{InitialPct: stopPct},
		Cost:     cost15,
	}
}

// Price rises linearly from 1.0 to 2.0 over 10 bars; immediate entry, no
// stop or target. The run ends at end-of-data with a final exit at the
// last close.
func TestRun_LinearRiseFinalExit(t *testing.T) {
	candles := make([]domain.Candle, 10)
	for i := range candles {
		open := 1.0 + 0.1*float64(i)
		close := open + 0.1
		low := open
		if i == 0 {
			low = 0.99
		}
		candles[i] = bar(int64(i), open, close, low, close)
	}

	result := runSpec(t, candles, immediateSpec(0))

	if !result.Entered {
		t.Fatal("expected entry")
	}
	approx(t, "EntryPrice", result.EntryPrice, 1.0)
	approx(t, "ExitPrice", result.ExitPrice, 2.0)
	approx(t, "NetMultiple", result.NetMultiple, 2.0*(1-0.015)/(1.0*(1+0.015))) // ~1.9409
	approx(t, "ATHPrice", result.ATHPrice, 2.0)
	approx(t, "ATLPrice", result.ATLPrice, 0.99)
	approx(t, "MaxDrawdown", result.MaxDrawdown, 0)
	if result.Terminal != domain.TerminalEndOfData {
		t.Errorf("Terminal = %s, want END_OF_DATA", result.Terminal)
	}
	if result.TotalCandles != 10 {
		t.Errorf("TotalCandles = %d, want 10", result.TotalCandles)
	}
	last := result.Events[len(result.Events)-1]
	if last.Type != domain.EventFinalExit {
		t.Errorf("last event = %s, want FINAL_EXIT", last.Type)
	}
}

// Price falls from 2.0 toward 1.0 with a -30% stop. The stop triggers on
// the bar whose low first reaches 1.4 and fills at 1.4 exactly, not at
// the bar's deeper low.
func TestRun_StopLossFillsAtTriggerPrice(t *testing.T) {
	candles := make([]domain.Candle, 10)
	for i := range candles {
		open := 2.0 - 0.1*float64(i)
		close := open - 0.1
		low := close
		if i == 5 {
			low = 1.35 // overshoots the 1.4 trigger
		}
		candles[i] = bar(int64(i), open, open, low, close)
	}

	result := runSpec(t, candles, immediateSpec(0.30))

	approx(t, "EntryPrice", result.EntryPrice, 2.0)
	approx(t, "ExitPrice", result.ExitPrice, 1.4)
	approx(t, "NetMultiple", result.NetMultiple, 1.4*(1-0.015)/(2.0*(1+0.015))) // ~0.6793
	if result.Terminal != domain.TerminalFullyExited {
		t.Errorf("Terminal = %s, want FULLY_EXITED", result.Terminal)
	}

	var stop *domain.SimulationEvent
	for i := range result.Events {
		if result.Events[i].Type == domain.EventStopExit {
			stop = &result.Events[i]
		}
	}
	if stop == nil {
		t.Fatal("expected a STOP_EXIT event")
	}
	approx(t, "stop fill price", stop.Price, 1.4)
	if stop.Timestamp != testStart+5*testBar.Seconds() {
		t.Errorf("stop at %d, want bar 5", stop.Timestamp)
	}
}

// The entry candle itself can breach the stop: fill at the stop price on
// that same candle.
func TestRun_ImmediateStopOnEntryCandle(t *testing.T) {
	candles := []domain.Candle{bar(0, 1.0, 1.05, 0.65, 0.8)}

	result := runSpec(t, candles, immediateSpec(0.30))

	approx(t, "EntryPrice", result.EntryPrice, 1.0)
	approx(t, "ExitPrice", result.ExitPrice, 0.7)
	if len(result.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result.Events))
	}
	if result.Events[1].Type != domain.EventStopExit {
		t.Errorf("event = %s, want STOP_EXIT", result.Events[1].Type)
	}
	if result.Events[1].Timestamp != result.Events[0].Timestamp {
		t.Error("stop must fill on the entry candle")
	}
}

// Ladder exits at 1.5x/2x/3x with 33/33/34 splits; each target touched on
// a distinct candle. The exit price is the size-weighted average of the
// partial fills.
func TestRun_LadderExitWeightedPrice(t *testing.T) {
	spec := domain.StrategySpec{
		Entry: domain.EntryConfig{Policy: domain.EntryImmediate},
		ExitTargets: []domain.ExitTarget{
			{PositionPct: 0.33, Multiplier: 1.5},
			{PositionPct: 0.33, Multiplier: 2.0},
			{PositionPct: 0.34, Multiplier: 3.0},
		},
		Cost: cost15,
	}
	candles := []domain.Candle{
		bar(0, 1.0, 1.0, 1.0, 1.0),
		bar(1, 1.0, 1.6, 1.0, 1.4),
		bar(2, 1.4, 2.1, 1.4, 1.9),
		bar(3, 1.9, 3.2, 1.9, 2.8),
	}

	result := runSpec(t, candles, spec)

	wantExit := 0.33*1.5 + 0.33*2.0 + 0.34*3.0
	approx(t, "ExitPrice", result.ExitPrice, wantExit)
	approx(t, "NetMultiple", result.NetMultiple, wantExit*(1-0.015)/(1.0*(1+0.015)))
	if result.Terminal != domain.TerminalFullyExited {
		t.Errorf("Terminal = %s, want FULLY_EXITED", result.Terminal)
	}

	var targets int
	for _, ev := range result.Events {
		if ev.Type == domain.EventTargetExit {
			targets++
		}
	}
	if targets != 3 {
		t.Errorf("expected 3 TARGET_EXIT events, got %d", targets)
	}
}

// A single-candle series enters at the open and exits at the close of the
// same candle; ATH/ATL come from that candle's high/low.
func TestRun_SingleCandle(t *testing.T) {
	candles := []domain.Candle{bar(0, 1.0, 1.2, 0.9, 1.1)}

	result := runSpec(t, candles, immediateSpec(0))

	approx(t, "EntryPrice", result.EntryPrice, 1.0)
	approx(t, "ExitPrice", result.ExitPrice, 1.1)
	approx(t, "ATHPrice", result.ATHPrice, 1.2)
	approx(t, "ATLPrice", result.ATLPrice, 0.9)
	if result.ExitTimestamp != result.EntryTimestamp {
		t.Error("exit must land on the entry candle")
	}
	if result.Terminal != domain.TerminalEndOfData {
		t.Errorf("Terminal = %s, want END_OF_DATA", result.Terminal)
	}
}

func TestRun_InitialDropEntry(t *testing.T) {
	drop := 0.25
	spec := domain.StrategySpec{
		Entry: domain.EntryConfig{Policy: domain.EntryInitialDrop, DropPct: &drop},
		Cost:  cost15,
	}
	candles := []domain.Candle{
		bar(0, 2.0, 2.0, 1.8, 1.9),
		bar(1, 1.9, 1.9, 1.6, 1.7),
		bar(2, 1.7, 1.7, 1.45, 1.5), // low breaches 2.0*0.75 = 1.5
		bar(3, 1.5, 1.8, 1.5, 1.8),
	}

	result := runSpec(t, candles, spec)

	if !result.Entered {
		t.Fatal("expected entry")
	}
	approx(t, "EntryPrice", result.EntryPrice, 1.5)
	if result.EntryTimestamp != testStart+2*testBar.Seconds() {
		t.Errorf("entry at %d, want bar 2", result.EntryTimestamp)
	}
}

func TestRun_TrailingEntryReboundFromRunningLow(t *testing.T) {
	rebound := 0.10
	spec := domain.StrategySpec{
		Entry: domain.EntryConfig{Policy: domain.EntryTrailing, ReboundPct: &rebound},
		Cost:  cost15,
	}
	candles := []domain.Candle{
		bar(0, 1.1, 1.1, 1.0, 1.05),
		bar(1, 1.05, 1.05, 0.8, 0.85), // new low 0.8; its own rebound does not count
		bar(2, 0.85, 0.9, 0.82, 0.89), // high 0.9 >= 0.8*1.1 = 0.88
	}

	result := runSpec(t, candles, spec)

	if !result.Entered {
		t.Fatal("expected entry")
	}
	approx(t, "EntryPrice", result.EntryPrice, 0.88)
	if result.EntryTimestamp != testStart+2*testBar.Seconds() {
		t.Errorf("entry at %d, want bar 2", result.EntryTimestamp)
	}
}

func TestRun_SignalEntrySMACross(t *testing.T) {
	fast, slow := 2, 3
	spec := domain.StrategySpec{
		Entry: domain.EntryConfig{
			Policy:           domain.EntrySignal,
			SignalFastWindow: &fast,
			SignalSlowWindow: &slow,
		},
		Cost: cost15,
	}
	candles := []domain.Candle{
		bar(0, 1.0, 1.0, 1.0, 1.0),
		bar(1, 1.0, 1.1, 1.0, 1.1),
		bar(2, 1.1, 1.2, 1.1, 1.2), // fast SMA 1.15 > slow SMA 1.1
		bar(3, 1.2, 1.3, 1.2, 1.3),
	}

	result := runSpec(t, candles, spec)

	if !result.Entered {
		t.Fatal("expected entry")
	}
	approx(t, "EntryPrice", result.EntryPrice, 1.2)
	if result.EntryTimestamp != testStart+2*testBar.Seconds() {
		t.Errorf("entry at %d, want bar 2", result.EntryTimestamp)
	}
}

func TestRun_WindowExpiredIsNonEntryOutcome(t *testing.T) {
	drop := 0.50
	spec := domain.StrategySpec{
		Entry: domain.EntryConfig{
			Policy:         domain.EntryInitialDrop,
			DropPct:        &drop,
			MaxWaitCandles: 3,
		},
		Cost: cost15,
	}
	candles := []domain.Candle{
		bar(0, 1.0, 1.05, 0.95, 1.0),
		bar(1, 1.0, 1.05, 0.95, 1.0),
		bar(2, 1.0, 1.05, 0.95, 1.0),
		bar(3, 1.0, 1.05, 0.4, 0.5), // would trigger, but the window expired
	}

	result := runSpec(t, candles, spec)

	if result.Entered {
		t.Fatal("expected no entry")
	}
	if result.NoEntryReason != domain.NoEntryWindowExpired {
		t.Errorf("NoEntryReason = %s, want WINDOW_EXPIRED", result.NoEntryReason)
	}
	if result.TotalCandles != 3 {
		t.Errorf("TotalCandles = %d, want 3", result.TotalCandles)
	}
}

func TestRun_NoCandlesIsNoDataOutcome(t *testing.T) {
	result := runSpec(t, nil, immediateSpec(0))

	if result.Entered {
		t.Fatal("expected no entry")
	}
	if result.NoEntryReason != domain.NoEntryNoData {
		t.Errorf("NoEntryReason = %s, want NO_DATA", result.NoEntryReason)
	}
	if result.TotalCandles != 0 {
		t.Errorf("TotalCandles = %d, want 0", result.TotalCandles)
	}
}

// Candles that closed before the window start never participate, even
// when the accessor surfaces one as the most recent closed candle at the
// first tick.
func TestRun_IgnoresCandlesClosedBeforeWindow(t *testing.T) {
	candles := []domain.Candle{bar(0, 1.0, 1.1, 0.9, 1.05)}

	accessor := causal.NewSeriesAccessor(candles, testBar)
	eng := New(Options{Accessor: accessor})

	result, err := eng.Run(context.Background(), RunInput{
		Asset:  "test-asset",
		SpecID: "test-spec",
		Spec:   immediateSpec(0),
		Start:  testStart + 9000,
		End:    testStart + 9600,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Entered {
		t.Fatalf("entered at %d on a candle closed before the window", result.EntryTimestamp)
	}
	if result.TotalCandles != 0 {
		t.Errorf("TotalCandles = %d, want 0", result.TotalCandles)
	}
	if result.NoEntryReason != domain.NoEntryNoData {
		t.Errorf("NoEntryReason = %s, want NO_DATA", result.NoEntryReason)
	}
}

// A candle closing exactly at the window start still participates.
func TestRun_BoundaryCandleClosesAtWindowStart(t *testing.T) {
	candles := []domain.Candle{bar(0, 1.0, 1.1, 0.9, 1.05)}

	accessor := causal.NewSeriesAccessor(candles, testBar)
	eng := New(Options{Accessor: accessor})

	start := candles[0].CloseTime(testBar)
	result, err := eng.Run(context.Background(), RunInput{
		Asset:  "test-asset",
		SpecID: "test-spec",
		Spec:   immediateSpec(0),
		Start:  start,
		End:    start + testBar.Seconds(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Entered {
		t.Fatal("expected entry on the boundary candle")
	}
	if result.TotalCandles != 1 {
		t.Errorf("TotalCandles = %d, want 1", result.TotalCandles)
	}
}

// A stop can trigger on the next available candle across a gap; the
// engine never interpolates missing bars.
func TestRun_StopTriggersAcrossGap(t *testing.T) {
	candles := []domain.Candle{
		bar(0, 1.0, 1.05, 0.95, 1.0),
		// bars 1-4 missing
		bar(5, 0.9, 0.9, 0.6, 0.65),
	}

	result := runSpec(t, candles, immediateSpec(0.30))

	approx(t, "ExitPrice", result.ExitPrice, 0.7)
	if result.ExitTimestamp != testStart+5*testBar.Seconds() {
		t.Errorf("exit at %d, want bar 5", result.ExitTimestamp)
	}
	if result.TotalCandles != 2 {
		t.Errorf("TotalCandles = %d, want 2", result.TotalCandles)
	}
}

func TestRun_TrailingStopExit(t *testing.T) {
	trailing := 0.20
	spec := domain.StrategySpec{
		Entry:    domain.EntryConfig{Policy: domain.EntryImmediate},
		StopLoss: domain.StopLossConfig{InitialPct: 0.50, TrailingPct: &trailing},
		Cost:     cost15,
	}
	candles := []domain.Candle{
		bar(0, 1.0, 1.2, 1.0, 1.2),
		bar(1, 1.2, 2.0, 1.2, 1.9),
		bar(2, 1.9, 1.9, 1.5, 1.55), // low 1.5 <= 2.0*0.8 = 1.6
	}

	result := runSpec(t, candles, spec)

	approx(t, "ExitPrice", result.ExitPrice, 1.6)
	last := result.Events[len(result.Events)-1]
	if last.Type != domain.EventTrailingExit {
		t.Errorf("last event = %s, want TRAILING_EXIT", last.Type)
	}
	if result.Terminal != domain.TerminalFullyExited {
		t.Errorf("Terminal = %s, want FULLY_EXITED", result.Terminal)
	}
}

// Re-entry after a full target exit: a configured drop from the exit
// price reopens the position, and the net multiple compounds across the
// two round trips.
func TestRun_ReEntryCompounds(t *testing.T) {
	spec := domain.StrategySpec{
		Entry:       domain.EntryConfig{Policy: domain.EntryImmediate},
		ExitTargets: []domain.ExitTarget{{PositionPct: 1.0, Multiplier: 2.0}},
		ReEntry:     &domain.ReEntryConfig{MaxReEntries: 1, DropPct: 0.25},
	}
	candles := []domain.Candle{
		bar(0, 1.0, 1.0, 1.0, 1.0),
		bar(1, 1.0, 2.1, 1.0, 2.0), // target 2.0 hit, full exit
		bar(2, 2.0, 2.0, 1.4, 1.45), // low breaches 2.0*0.75 = 1.5, re-enter
		bar(3, 1.45, 1.8, 1.45, 1.8),
	}

	result := runSpec(t, candles, spec)

	// First trip 1.0 -> 2.0, second trip 1.5 -> final close 1.8; zero fees.
	approx(t, "NetMultiple", result.NetMultiple, 2.0*(1.8/1.5))
	if result.Terminal != domain.TerminalEndOfData {
		t.Errorf("Terminal = %s, want END_OF_DATA", result.Terminal)
	}

	var entries int
	for _, ev := range result.Events {
		if ev.Type == domain.EventEntry {
			entries++
		}
	}
	if entries != 2 {
		t.Errorf("expected 2 ENTRY events, got %d", entries)
	}
	approx(t, "first EntryPrice", result.EntryPrice, 1.0)
}

// Identical candle input and spec produce byte-identical results across
// independent runs.
func TestRun_Deterministic(t *testing.T) {
	trailing := 0.25
	spec := domain.StrategySpec{
		Entry: domain.EntryConfig{Policy: domain.EntryImmediate},
		ExitTargets: []domain.ExitTarget{
			{PositionPct: 0.5, Multiplier: 1.5},
			{PositionPct: 0.5, Multiplier: 2.5},
		},
		StopLoss: domain.StopLossConfig{InitialPct: 0.40, TrailingPct: &trailing},
		Cost:     cost15,
	}
	candles := []domain.Candle{
		bar(0, 1.0, 1.1, 0.9, 1.05),
		bar(1, 1.05, 1.6, 1.0, 1.55),
		bar(2, 1.55, 1.9, 1.4, 1.5),
		bar(3, 1.5, 1.5, 1.2, 1.3),
	}

	first := runSpec(t, candles, spec)
	for run := 1; run < 5; run++ {
		again := runSpec(t, candles, spec)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d diverged:\nfirst: %+v\nagain: %+v", run, first, again)
		}
	}
}
