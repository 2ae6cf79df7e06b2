package engine

import (
	"candle-lab/internal/domain"
)

// state is the run's position in the entry/exit state machine.
// PARTIALLY_EXITED is represented as statePositionOpen with remaining < 1.
type state int

const (
	stateAwaitingEntry state = iota
	statePositionOpen
	stateAwaitingReentry
)

// sizeEpsilon treats a position below this fraction as fully closed.
const sizeEpsilon = 1e-9

// runState holds all mutable state of one simulation run. It is created
// fresh per run and owned exclusively by it.
type runState struct {
	spec domain.StrategySpec

	state state
	done  bool

	// entry detection
	firstOpen     float64
	haveFirstOpen bool
	entryLow      float64 // running low for TRAILING entry, from prior candles
	haveEntryLow  bool
	closes        []float64 // SIGNAL close history
	waited        int

	// open position
	entryPrice   float64
	remaining    float64
	targetFilled []bool
	runningHigh  float64 // for the trailing stop, from prior candles

	// round-trip accounting; netMultiple compounds across re-entries
	entered         bool
	firstEntryPrice float64
	firstEntryTS    int64
	tripEntryPrice  float64
	tripExitSum     float64 // sum(price * sizeFraction)
	tripExitSize    float64
	netMultiple     float64
	lastExitPrice   float64 // size-weighted exit of the last closed trip
	lastExitTS      int64
	reEntriesUsed   int
	reEntryTrigger  float64

	// extremes on highs/lows, tracked from the first entry candle onward.
	// peak holds the max high of candles strictly before the current one,
	// so an entry candle's own low never counts as a drawdown from its own
	// high.
	ath, atl     float64
	athTS, atlTS int64
	peak         float64
	maxDrawdown  float64

	totalCandles int
	lastCandle   domain.Candle
	haveCandle   bool
	terminal     string

	events []domain.SimulationEvent
}

func newRunState(spec domain.StrategySpec) *runState {
	return &runState{
		spec:         spec,
		state:        stateAwaitingEntry,
		targetFilled: make([]bool, len(spec.ExitTargets)),
	}
}

// processCandle advances the state machine by one closed candle.
func (r *runState) processCandle(c domain.Candle) {
	r.totalCandles++
	r.lastCandle = c
	r.haveCandle = true

	switch r.state {
	case stateAwaitingEntry:
		price, ok := r.entryTrigger(c)
		if !ok {
			r.waited++
			if r.spec.Entry.MaxWaitCandles > 0 && r.waited >= r.spec.Entry.MaxWaitCandles {
				r.done = true
			}
			return
		}
		r.openPosition(price, c.Timestamp)
		r.trackExtremes(c)
		r.evaluateExits(c)

	case statePositionOpen:
		r.trackExtremes(c)
		r.evaluateExits(c)

	case stateAwaitingReentry:
		r.trackExtremes(c)
		if c.Low <= r.reEntryTrigger {
			r.reEntriesUsed++
			r.openPosition(r.reEntryTrigger, c.Timestamp)
			r.evaluateExits(c)
		}
	}
}

// entryTrigger checks the entry policy against one candle and returns the
// fill price if the policy fires.
func (r *runState) entryTrigger(c domain.Candle) (float64, bool) {
	if !r.haveFirstOpen {
		r.firstOpen = c.Open
		r.haveFirstOpen = true
	}

	switch r.spec.Entry.Policy {
	case domain.EntryImmediate:
		return c.Open, true

	case domain.EntryInitialDrop:
		trigger := r.firstOpen * (1 - *r.spec.Entry.DropPct)
		if c.Low <= trigger {
			return trigger, true
		}

	case domain.EntryTrailing:
		// The rebound is measured against the low of prior candles; a
		// candle that both prints a new low and rebounds from it would
		// otherwise be ambiguous.
		if r.haveEntryLow {
			trigger := r.entryLow * (1 + *r.spec.Entry.ReboundPct)
			if c.High >= trigger {
				return trigger, true
			}
		}
		if !r.haveEntryLow || c.Low < r.entryLow {
			r.entryLow = c.Low
			r.haveEntryLow = true
		}

	case domain.EntrySignal:
		r.closes = append(r.closes, c.Close)
		slow := *r.spec.Entry.SignalSlowWindow
		if len(r.closes) >= slow {
			fast := sma(r.closes, *r.spec.Entry.SignalFastWindow)
			if fast > sma(r.closes, slow) {
				return c.Close, true
			}
		}
	}

	return 0, false
}

// openPosition records an entry fill and arms the exit machinery.
func (r *runState) openPosition(price float64, ts int64) {
	if !r.entered {
		r.entered = true
		r.firstEntryPrice = price
		r.firstEntryTS = ts
		r.netMultiple = 1
	}

	r.state = statePositionOpen
	r.entryPrice = price
	r.remaining = 1
	r.targetFilled = make([]bool, len(r.spec.ExitTargets))
	r.runningHigh = price
	r.tripEntryPrice = price
	r.tripExitSum = 0
	r.tripExitSize = 0

	r.events = append(r.events, domain.SimulationEvent{
		Timestamp:    ts,
		Price:        price,
		Type:         domain.EventEntry,
		SizeFraction: 1,
	})
}

// trackExtremes folds one candle into ATH/ATL/drawdown, measured on
// highs and lows, never closes.
func (r *runState) trackExtremes(c domain.Candle) {
	if r.ath == 0 || c.High > r.ath {
		r.ath = c.High
		r.athTS = c.Timestamp
	}
	if r.atl == 0 || c.Low < r.atl {
		r.atl = c.Low
		r.atlTS = c.Timestamp
	}
	if r.peak > 0 && c.Low < r.peak {
		if dd := (r.peak - c.Low) / r.peak; dd > r.maxDrawdown {
			r.maxDrawdown = dd
		}
	}
	if c.High > r.peak {
		r.peak = c.High
	}
}

// evaluateExits applies the fixed exit priority to one candle: stop-loss
// first, then targets ascending, then the trailing-stop re-anchor. Fills
// happen at the trigger price, not the candle's touched extreme.
func (r *runState) evaluateExits(c domain.Candle) {
	// 1. Stop-loss. The trailing stop uses the running high of prior
	// candles; this candle's high is folded in afterwards.
	var initialStop, trailingStop float64
	if r.spec.StopLoss.InitialPct > 0 {
		initialStop = r.entryPrice * (1 - r.spec.StopLoss.InitialPct)
	}
	if r.spec.StopLoss.TrailingPct != nil {
		trailingStop = r.runningHigh * (1 - *r.spec.StopLoss.TrailingPct)
	}
	stop := initialStop
	exitType := domain.EventStopExit
	if trailingStop > stop {
		stop = trailingStop
		exitType = domain.EventTrailingExit
	}
	if stop > 0 && c.Low <= stop {
		r.fill(stop, r.remaining, exitType, c.Timestamp)
		r.afterFullExit()
		return
	}

	// 2. Profit targets, ascending.
	for i, target := range r.spec.ExitTargets {
		if r.targetFilled[i] {
			continue
		}
		price := r.entryPrice * target.Multiplier
		if c.High < price {
			break
		}
		frac := target.PositionPct
		if frac > r.remaining {
			frac = r.remaining
		}
		r.targetFilled[i] = true
		r.fill(price, frac, domain.EventTargetExit, c.Timestamp)
		if r.remaining <= sizeEpsilon {
			r.afterFullExit()
			return
		}
	}

	// 3. Trailing-stop re-anchor.
	if c.High > r.runningHigh {
		r.runningHigh = c.High
	}
}

// fill records one exit fill at the trigger price.
func (r *runState) fill(price, frac float64, t domain.EventType, ts int64) {
	r.events = append(r.events, domain.SimulationEvent{
		Timestamp:    ts,
		Price:        price,
		Type:         t,
		SizeFraction: frac,
	})
	r.tripExitSum += price * frac
	r.tripExitSize += frac
	r.remaining -= frac
	r.lastExitTS = ts
}

// afterFullExit closes out the current round trip and decides between
// re-entry and the FULLY_EXITED terminal state.
func (r *runState) afterFullExit() {
	r.closeTrip()
	if r.spec.ReEntry != nil && r.reEntriesUsed < r.spec.ReEntry.MaxReEntries {
		r.state = stateAwaitingReentry
		r.reEntryTrigger = r.lastExitPrice * (1 - r.spec.ReEntry.DropPct)
		return
	}
	r.terminal = domain.TerminalFullyExited
	r.done = true
}

// closeTrip folds the finished round trip into the compounded net multiple.
// netMultiple = exitPrice*(1-exitFee) / (entryPrice*(1+entryFee)).
func (r *runState) closeTrip() {
	if r.tripExitSize <= 0 {
		return
	}
	exitPrice := r.tripExitSum / r.tripExitSize
	entryFee := r.spec.Cost.EntryFeeDecimal()
	exitFee := r.spec.Cost.ExitFeeDecimal()
	r.netMultiple *= (exitPrice * (1 - exitFee)) / (r.tripEntryPrice * (1 + entryFee))
	r.lastExitPrice = exitPrice
}

// finish closes any open position at the last candle's close and builds
// the immutable result.
func (r *runState) finish(asset, specID string) *domain.SimulationResult {
	result := &domain.SimulationResult{
		Asset:        asset,
		SpecID:       specID,
		TotalCandles: r.totalCandles,
	}

	if !r.entered {
		if r.totalCandles == 0 {
			result.NoEntryReason = domain.NoEntryNoData
		} else {
			result.NoEntryReason = domain.NoEntryWindowExpired
		}
		return result
	}

	if r.state == statePositionOpen && r.haveCandle {
		// Data ran out with an open remainder: close it at the last
		// candle's close.
		r.fill(r.lastCandle.Close, r.remaining, domain.EventFinalExit, r.lastCandle.Timestamp)
		r.closeTrip()
		r.terminal = domain.TerminalEndOfData
	}
	if r.terminal == "" {
		r.terminal = domain.TerminalFullyExited
	}

	result.Entered = true
	result.EntryTimestamp = r.firstEntryTS
	result.EntryPrice = r.firstEntryPrice
	result.ExitTimestamp = r.lastExitTS
	result.ExitPrice = r.lastExitPrice
	result.NetMultiple = r.netMultiple
	result.Events = r.events
	result.ATHPrice = r.ath
	result.ATHTimestamp = r.athTS
	result.ATLPrice = r.atl
	result.ATLTimestamp = r.atlTS
	result.MaxDrawdown = r.maxDrawdown
	result.Terminal = r.terminal
	return result
}

// sma averages the last n values.
func sma(values []float64, n int) float64 {
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}
