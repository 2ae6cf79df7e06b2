// Package quality derives deterministic quality scores for ingested
// candles. A score is computed once at ingestion time from provenance and
// shape; it is never recomputed from stored data.
package quality

import (
	"fmt"

	"candle-lab/internal/domain"
)

// ValidationMode selects how invalid candles are handled at write time.
type ValidationMode string

// Validation mode constants.
const (
	// ValidationStrict rejects clearly invalid candles before storage.
	ValidationStrict ValidationMode = "STRICT"

	// ValidationPermissive stores invalid candles with a low quality
	// score so they are never selected over better data, rather than
	// silently dropping them.
	ValidationPermissive ValidationMode = "PERMISSIVE"
)

// IsValid checks if the mode is a known value.
func (m ValidationMode) IsValid() bool {
	return m == ValidationStrict || m == ValidationPermissive
}

// Score component weights. Tier dominates shape so that a well-formed
// candle from a lower tier never outranks a well-formed one from a higher
// tier.
const (
	tierScoreExchange  = 300
	tierScoreAggregate = 200
	tierScoreBackfill  = 100

	shapeScoreVolume = 20 // non-zero volume
	shapeScoreRange  = 20 // high/low bracket open and close
	shapeScoreOHLC   = 10 // all four prices positive
)

// Score computes the quality score for a candle from its source tier and
// shape. Higher is strictly better. Unknown tiers score zero on the tier
// component.
func Score(c domain.Candle, tier domain.SourceTier) domain.QualityScore {
	var score domain.QualityScore

	switch tier {
	case domain.TierExchange:
		score += tierScoreExchange
	case domain.TierAggregate:
		score += tierScoreAggregate
	case domain.TierBackfill:
		score += tierScoreBackfill
	}

	if c.Volume > 0 {
		score += shapeScoreVolume
	}
	if c.High >= c.Open && c.High >= c.Close && c.Low <= c.Open && c.Low <= c.Close && c.High >= c.Low {
		score += shapeScoreRange
	}
	if c.Open > 0 && c.High > 0 && c.Low > 0 && c.Close > 0 {
		score += shapeScoreOHLC
	}

	return score
}

// ValidateStrict rejects candles that must never reach storage in strict
// mode: malformed OHLC shape or zero volume.
func ValidateStrict(c domain.Candle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Volume == 0 {
		return fmt.Errorf("%w: zero volume", domain.ErrInvalidCandle)
	}
	return nil
}
