package domain

// LatencyShape selects the latency distribution model.
type LatencyShape string

// Latency shape constants.
const (
	LatencyPercentile LatencyShape = "PERCENTILE"
	LatencyNormal     LatencyShape = "NORMAL"
)

// LatencyConfig parameterizes one latency distribution. All values are
// milliseconds; sampled values are clamped to non-negative.
type LatencyConfig struct {
	Shape LatencyShape `json:"shape"`

	// PERCENTILE shape: anchors plus uniform jitter.
	P50Ms    float64 `json:"p50Ms,omitempty"`
	P90Ms    float64 `json:"p90Ms,omitempty"`
	P99Ms    float64 `json:"p99Ms,omitempty"`
	JitterMs float64 `json:"jitterMs,omitempty"`

	// NORMAL shape.
	MeanMs   float64 `json:"meanMs,omitempty"`
	StddevMs float64 `json:"stddevMs,omitempty"`
}

// VenueConfig describes an execution venue's latency characteristics.
// Venues are plain configuration, not subclasses.
type VenueConfig struct {
	VenueID      string        `json:"venueId"`
	Network      LatencyConfig `json:"network"`
	Confirmation LatencyConfig `json:"confirmation"`

	// CongestionSensitivity scales network latency by
	// (1 + sensitivity * congestionLevel), congestionLevel in [0,1].
	CongestionSensitivity float64 `json:"congestionSensitivity"`
}

// Predefined venue configurations: a multi-hop aggregator route and a
// direct pool route.
var (
	VenueConfigAggregator = VenueConfig{
		VenueID: "aggregator",
		Network: LatencyConfig{
			Shape:    LatencyPercentile,
			P50Ms:    180,
			P90Ms:    450,
			P99Ms:    1200,
			JitterMs: 40,
		},
		Confirmation: LatencyConfig{
			Shape:    LatencyNormal,
			MeanMs:   400,
			StddevMs: 150,
		},
		CongestionSensitivity: 2.5,
	}

	VenueConfigDirect = VenueConfig{
		VenueID: "direct",
		Network: LatencyConfig{
			Shape:    LatencyPercentile,
			P50Ms:    120,
			P90Ms:    300,
			P99Ms:    900,
			JitterMs: 25,
		},
		Confirmation: LatencyConfig{
			Shape:    LatencyNormal,
			MeanMs:   350,
			StddevMs: 120,
		},
		CongestionSensitivity: 1.8,
	}
)
