package optimize

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"candle-lab/internal/causal"
	"candle-lab/internal/domain"
	"candle-lab/internal/engine"
	"candle-lab/internal/observability"
)

// SweepErrorMode controls how a sweep reacts to per-unit run failures.
type SweepErrorMode string

// Sweep error mode constants.
const (
	// SweepCollect records failures in the report and keeps going.
	SweepCollect SweepErrorMode = "COLLECT"

	// SweepFailFast aborts the sweep on the first failure.
	SweepFailFast SweepErrorMode = "FAIL_FAST"
)

// Call is one eligible entry opportunity: a candle series and the
// observation window to run every grid spec over.
type Call struct {
	Asset   string
	Candles []domain.Candle
	Start   int64
	End     int64
}

// RunFailure records one failed (spec, call) unit in collect mode.
type RunFailure struct {
	SpecID string
	Asset  string
	Err    error
}

// PolicyReport is the per-spec slice of a sweep report.
type PolicyReport struct {
	SpecID    string              `json:"specId"`
	Spec      domain.StrategySpec `json:"spec"`
	Stats     *PolicyStats        `json:"stats"`
	Objective float64             `json:"objective"`

	// Capital is set only when the sweep ran in capital-aware mode.
	Capital *CapitalOutcome `json:"capital,omitempty"`

	// Results holds every simulation result for this spec, ordered by
	// call index, for persistence by the caller.
	Results []*domain.SimulationResult `json:"-"`
}

// SweepReport is the full outcome of one grid sweep.
type SweepReport struct {
	// Ranked holds surviving policies, best first.
	Ranked []*PolicyReport

	// Filtered maps spec ID to the constraint that removed it.
	Filtered map[string]string

	// Failures holds per-unit failures collected during the sweep.
	Failures []RunFailure
}

// RunnerOptions contains configuration for creating a sweep Runner.
type RunnerOptions struct {
	Interval domain.Interval

	// Workers bounds run parallelism. Default: GOMAXPROCS.
	Workers int

	// ErrorMode defaults to SweepCollect.
	ErrorMode SweepErrorMode

	// Capital, when set, enables the capital-aware mode: every surviving
	// policy additionally gets a finite-capital outcome.
	Capital *CapitalConfig

	Logger *log.Logger

	// Metrics is optional; when nil no metrics are recorded.
	Metrics *observability.Metrics
}

// Runner executes grid sweeps. Each (spec, call) pair is an independent
// single-threaded engine run; parallelism exists only across runs.
type Runner struct {
	interval  domain.Interval
	workers   int
	errorMode SweepErrorMode
	capital   *CapitalConfig
	logger    *log.Logger
	metrics   *observability.Metrics
}

// NewRunner creates a sweep runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if !opts.Interval.IsValid() {
		return nil, fmt.Errorf("invalid interval: %d", opts.Interval)
	}

	errorMode := opts.ErrorMode
	if errorMode == "" {
		errorMode = SweepCollect
	}
	if errorMode != SweepCollect && errorMode != SweepFailFast {
		return nil, fmt.Errorf("invalid error mode: %q", errorMode)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[optimize] ", log.LstdFlags)
	}

	return &Runner{
		interval:  opts.Interval,
		workers:   workers,
		errorMode: errorMode,
		capital:   opts.Capital,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Sweep expands the grid, runs every spec over every call, filters by the
// grid's constraints, and ranks survivors by its objective. Ties break by
// lower max drawdown, then more entered trades, then lexicographic spec
// ID, so the ranking is a total order.
func (r *Runner) Sweep(ctx context.Context, grid GridConfig, calls []Call) (*SweepReport, error) {
	specs, err := grid.Expand()
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("sweep requires at least one call")
	}
	started := time.Now()
	if r.metrics != nil {
		r.metrics.SpecsExpanded.Add(float64(len(specs)))
		defer func() {
			r.metrics.SweepDuration.Observe(time.Since(started).Seconds())
		}()
	}

	r.logger.Printf("sweep: %d specs x %d calls, %d workers", len(specs), len(calls), r.workers)

	// results[specIdx][callIdx]; each cell is written by exactly one
	// worker, so no locking is needed.
	results := make([][]*domain.SimulationResult, len(specs))
	runErrs := make([][]error, len(specs))
	for i := range specs {
		results[i] = make([]*domain.SimulationResult, len(calls))
		runErrs[i] = make([]error, len(calls))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for si := range specs {
		for ci := range calls {
			si, ci := si, ci
			g.Go(func() error {
				spec, call := specs[si], calls[ci]

				eng := engine.New(engine.Options{
					Accessor: causal.NewSeriesAccessor(call.Candles, r.interval),
					Logger:   r.logger,
				})
				result, err := eng.Run(gctx, engine.RunInput{
					Asset:  call.Asset,
					SpecID: spec.SpecID,
					Spec:   spec.Spec,
					Start:  call.Start,
					End:    call.End,
				})
				if err != nil {
					if r.errorMode == SweepFailFast {
						return fmt.Errorf("spec %s asset %s: %w", spec.SpecID, call.Asset, err)
					}
					runErrs[si][ci] = err
					return nil
				}
				results[si][ci] = result
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		if r.metrics != nil {
			r.metrics.SweepRunsTotal.WithLabelValues("FAILED").Inc()
		}
		return nil, err
	}

	report := &SweepReport{
		Filtered: make(map[string]string),
	}

	var survivors []*PolicyReport
	for si, spec := range specs {
		var specResults []*domain.SimulationResult
		for ci := range calls {
			if runErrs[si][ci] != nil {
				report.Failures = append(report.Failures, RunFailure{
					SpecID: spec.SpecID,
					Asset:  calls[ci].Asset,
					Err:    runErrs[si][ci],
				})
				continue
			}
			specResults = append(specResults, results[si][ci])
		}

		stats := ComputeStats(spec.SpecID, specResults)
		if reason := grid.Constraints.Check(stats); reason != "" {
			report.Filtered[spec.SpecID] = reason
			if r.metrics != nil {
				r.metrics.PoliciesFiltered.Inc()
			}
			continue
		}

		objective, err := grid.Objective.Evaluate(stats)
		if err != nil {
			return nil, err
		}

		policy := &PolicyReport{
			SpecID:    spec.SpecID,
			Spec:      spec.Spec,
			Stats:     stats,
			Objective: objective,
			Results:   specResults,
		}
		if r.capital != nil {
			capital, err := SimulateCapital(*r.capital, specResults)
			if err != nil {
				return nil, err
			}
			policy.Capital = capital
		}
		survivors = append(survivors, policy)
	}

	sort.Slice(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.Objective != b.Objective {
			return a.Objective > b.Objective
		}
		if a.Stats.MaxDrawdown != b.Stats.MaxDrawdown {
			return a.Stats.MaxDrawdown < b.Stats.MaxDrawdown
		}
		if a.Stats.Entered != b.Stats.Entered {
			return a.Stats.Entered > b.Stats.Entered
		}
		return a.SpecID < b.SpecID
	})
	report.Ranked = survivors

	if r.metrics != nil {
		r.metrics.SweepRunsTotal.WithLabelValues("COMPLETED").Inc()
		r.metrics.LastSuccessfulSweep.Set(float64(time.Now().Unix()))
	}

	return report, nil
}
