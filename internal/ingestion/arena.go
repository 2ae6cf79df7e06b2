package ingestion

import (
	"fmt"
	"sort"

	"candle-lab/internal/domain"
)

// Tick is one raw trade observation to be bucketed into a candle.
type Tick struct {
	Asset     string
	Chain     string
	Timestamp int64 // Unix seconds
	Price     float64
	Size      float64
}

// seriesKey identifies one candle series inside the arena.
type seriesKey struct {
	asset string
	chain string
}

// bucket accumulates ticks for one bar. First/last are resolved by tick
// arrival order within the bucket.
type bucket struct {
	open   float64
	high   float64
	low    float64
	close  float64
	volume float64
	count  int
}

// SeriesBatch is the flush output for one series: completed candles in
// timestamp order, ready for UpsertCandles.
type SeriesBatch struct {
	Asset   string
	Chain   string
	Candles []domain.Candle
}

// Arena buckets raw ticks into candles for a fixed interval. Nothing is
// visible until Flush: aggregation state is isolated from readers and
// released as a whole, so a crashed ingestion run leaks no partial bars.
type Arena struct {
	interval domain.Interval
	buckets  map[seriesKey]map[int64]*bucket
}

// NewArena creates an empty arena for the given interval.
func NewArena(interval domain.Interval) *Arena {
	return &Arena{
		interval: interval,
		buckets:  make(map[seriesKey]map[int64]*bucket),
	}
}

// Add folds one tick into its bar bucket. Ticks must carry a positive
// price; size may be zero for quote-only feeds.
func (a *Arena) Add(t Tick) error {
	if t.Asset == "" || t.Chain == "" {
		return fmt.Errorf("tick missing asset or chain")
	}
	if t.Price <= 0 {
		return fmt.Errorf("tick price %v must be positive", t.Price)
	}
	if t.Size < 0 {
		return fmt.Errorf("tick size %v must be non-negative", t.Size)
	}

	key := seriesKey{asset: t.Asset, chain: t.Chain}
	series, ok := a.buckets[key]
	if !ok {
		series = make(map[int64]*bucket)
		a.buckets[key] = series
	}

	step := a.interval.Seconds()
	barOpen := t.Timestamp - t.Timestamp%step

	b, ok := series[barOpen]
	if !ok {
		series[barOpen] = &bucket{
			open:   t.Price,
			high:   t.Price,
			low:    t.Price,
			close:  t.Price,
			volume: t.Size,
			count:  1,
		}
		return nil
	}

	if t.Price > b.high {
		b.high = t.Price
	}
	if t.Price < b.low {
		b.low = t.Price
	}
	b.close = t.Price
	b.volume += t.Size
	b.count++
	return nil
}

// Len returns the number of open buckets across all series.
func (a *Arena) Len() int {
	n := 0
	for _, series := range a.buckets {
		n += len(series)
	}
	return n
}

// Flush materializes every bucket into a candle, clears the arena, and
// returns one batch per series. Batches are ordered by (asset, chain) and
// candles by timestamp, so flushing the same ticks always produces the
// same output.
func (a *Arena) Flush() []SeriesBatch {
	keys := make([]seriesKey, 0, len(a.buckets))
	for key := range a.buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].asset != keys[j].asset {
			return keys[i].asset < keys[j].asset
		}
		return keys[i].chain < keys[j].chain
	})

	batches := make([]SeriesBatch, 0, len(keys))
	for _, key := range keys {
		series := a.buckets[key]

		timestamps := make([]int64, 0, len(series))
		for ts := range series {
			timestamps = append(timestamps, ts)
		}
		sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

		candles := make([]domain.Candle, 0, len(timestamps))
		for _, ts := range timestamps {
			b := series[ts]
			candles = append(candles, domain.Candle{
				Timestamp: ts,
				Open:      b.open,
				High:      b.high,
				Low:       b.low,
				Close:     b.close,
				Volume:    b.volume,
			})
		}

		batches = append(batches, SeriesBatch{
			Asset:   key.asset,
			Chain:   key.chain,
			Candles: candles,
		})
	}

	a.buckets = make(map[seriesKey]map[int64]*bucket)
	return batches
}
