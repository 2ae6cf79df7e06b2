// Package execution models fill realism: fee and slippage costs live on
// the strategy spec, while this package samples network and confirmation
// latency for latency-sensitivity analysis. Sampling never changes
// trigger logic; it only shifts derived fill timing.
package execution

import (
	"fmt"
	"math/rand"

	"candle-lab/internal/domain"
)

// Sampler draws venue latencies from a seeded random source. Given the
// same seed and venue it produces the same sequence of samples, so runs
// that include latency analysis stay reproducible.
type Sampler struct {
	venue domain.VenueConfig
	rng   *rand.Rand
}

// NewSampler creates a sampler for one venue with a fixed seed.
func NewSampler(venue domain.VenueConfig, seed int64) *Sampler {
	return &Sampler{
		venue: venue,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Venue returns the sampler's venue configuration.
func (s *Sampler) Venue() domain.VenueConfig {
	return s.venue
}

// TotalLatencyMs composes one independently sampled network latency and
// one confirmation latency. Network latency scales with congestion;
// congestionLevel must be in [0,1].
func (s *Sampler) TotalLatencyMs(congestionLevel float64) (float64, error) {
	if congestionLevel < 0 || congestionLevel > 1 {
		return 0, fmt.Errorf("congestion level %v out of [0,1]", congestionLevel)
	}

	network, err := s.sample(s.venue.Network)
	if err != nil {
		return 0, fmt.Errorf("sample network latency: %w", err)
	}
	confirmation, err := s.sample(s.venue.Confirmation)
	if err != nil {
		return 0, fmt.Errorf("sample confirmation latency: %w", err)
	}

	network *= 1 + s.venue.CongestionSensitivity*congestionLevel
	return network + confirmation, nil
}

// FillTime shifts a trigger timestamp (Unix seconds) by one sampled total
// latency, rounding down to whole seconds.
func (s *Sampler) FillTime(triggerTS int64, congestionLevel float64) (int64, error) {
	latencyMs, err := s.TotalLatencyMs(congestionLevel)
	if err != nil {
		return 0, err
	}
	return triggerTS + int64(latencyMs/1000), nil
}

// sample draws one latency from a single distribution, clamped to
// non-negative.
func (s *Sampler) sample(cfg domain.LatencyConfig) (float64, error) {
	var latency float64

	switch cfg.Shape {
	case domain.LatencyPercentile:
		latency = s.samplePercentile(cfg)
	case domain.LatencyNormal:
		latency = cfg.MeanMs + s.rng.NormFloat64()*cfg.StddevMs
	default:
		return 0, fmt.Errorf("unknown latency shape %q", cfg.Shape)
	}

	if latency < 0 {
		latency = 0
	}
	return latency, nil
}

// samplePercentile interpolates between the p50/p90/p99 anchors by a
// uniform quantile draw, then adds uniform jitter in [-JitterMs, +JitterMs].
func (s *Sampler) samplePercentile(cfg domain.LatencyConfig) float64 {
	q := s.rng.Float64()

	var latency float64
	switch {
	case q <= 0.50:
		latency = cfg.P50Ms * (q / 0.50)
	case q <= 0.90:
		latency = cfg.P50Ms + (cfg.P90Ms-cfg.P50Ms)*(q-0.50)/0.40
	default:
		latency = cfg.P90Ms + (cfg.P99Ms-cfg.P90Ms)*(q-0.90)/0.09
	}

	if cfg.JitterMs > 0 {
		latency += (s.rng.Float64()*2 - 1) * cfg.JitterMs
	}
	return latency
}
