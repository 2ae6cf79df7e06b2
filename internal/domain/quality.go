package domain

// QualityScore ranks duplicate candle writes; higher is strictly better.
// Computed once at ingestion time from provenance and shape, never
// recomputed from stored data.
type QualityScore int32

// DedupKey is the identity a candle is deduplicated on. At most one logical
// candle per key is ever visible to readers: the highest-quality version,
// ties broken by latest ingestion time.
type DedupKey struct {
	Asset           string
	Chain           string
	IntervalSeconds int64
	Timestamp       int64
}

// Key returns the DedupKey for a candle in a given series.
func (c Candle) Key(asset, chain string, interval Interval) DedupKey {
	return DedupKey{
		Asset:           asset,
		Chain:           chain,
		IntervalSeconds: interval.Seconds(),
		Timestamp:       c.Timestamp,
	}
}
