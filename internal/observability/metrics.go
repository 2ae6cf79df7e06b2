// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	CandlesFetched      prometheus.Counter
	CandlesInserted     prometheus.Counter
	CandlesRejected     prometheus.Counter
	CandlesDeduplicated prometheus.Counter
	IngestionRunsTotal  *prometheus.CounterVec
	IngestionErrors     *prometheus.CounterVec
	ZeroVolumeCandles   prometheus.Counter

	// Simulation metrics
	SimulationRunsTotal *prometheus.CounterVec
	SimulationDuration  prometheus.Histogram
	CandlesProcessed    prometheus.Counter
	EventsEmitted       *prometheus.CounterVec

	// Sweep metrics
	SweepRunsTotal   *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	SpecsExpanded    prometheus.Counter
	PoliciesFiltered prometheus.Counter

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulSweep     prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on the default
// registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a Metrics instance on an explicit registerer.
// Tests pass a fresh registry to avoid duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "candle_lab"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		CandlesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candles_fetched_total",
			Help:      "Total number of candles fetched from sources",
		}),
		CandlesInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candles_inserted_total",
			Help:      "Total number of candles inserted into storage",
		}),
		CandlesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candles_rejected_total",
			Help:      "Total number of candles rejected by strict validation",
		}),
		CandlesDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candles_deduplicated_total",
			Help:      "Total number of candle writes superseded by a better version",
		}),
		IngestionRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by terminal status",
		}, []string{"status"}),
		IngestionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "errors_total",
			Help:      "Total number of ingestion errors by source kind",
		}, []string{"source_kind"}),
		ZeroVolumeCandles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "zero_volume_candles_total",
			Help:      "Total number of zero-volume candles observed",
		}),

		// Simulation metrics
		SimulationRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "runs_total",
			Help:      "Total number of simulation runs by terminal state",
		}, []string{"terminal"}),
		SimulationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "duration_seconds",
			Help:      "Simulation run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CandlesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "candles_processed_total",
			Help:      "Total number of candles processed by the engine",
		}),
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "events_emitted_total",
			Help:      "Total number of fill events emitted by type",
		}, []string{"type"}),

		// Sweep metrics
		SweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Total number of grid sweeps by status",
		}, []string{"status"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Grid sweep duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		SpecsExpanded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "specs_expanded_total",
			Help:      "Total number of grid points expanded into specs",
		}),
		PoliciesFiltered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "policies_filtered_total",
			Help:      "Total number of policies removed by constraints",
		}),

		// Health metrics
		LastSuccessfulIngestion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion run",
		}),
		LastSuccessfulSweep: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sweep_timestamp",
			Help:      "Unix timestamp of last successful grid sweep",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
