package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidCandle is returned when a candle fails shape validation.
var ErrInvalidCandle = errors.New("invalid candle")

// Candle represents one immutable OHLCV bar over a fixed interval.
// Timestamp is the bar open time in Unix seconds; the bar is closed at
// Timestamp + interval seconds. Corresponds to the candles table in ClickHouse.
type Candle struct {
	Timestamp int64   `json:"timestamp"` // bar open, Unix seconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// CloseTime returns the time the bar is fully formed, in Unix seconds.
func (c Candle) CloseTime(interval Interval) int64 {
	return c.Timestamp + interval.Seconds()
}

// Validate checks the OHLC shape invariant:
// high >= max(open, close) >= min(open, close) >= low.
func (c Candle) Validate() error {
	if c.Timestamp <= 0 {
		return fmt.Errorf("%w: non-positive timestamp %d", ErrInvalidCandle, c.Timestamp)
	}
	if c.Open <= 0 || c.Close <= 0 {
		return fmt.Errorf("%w: non-positive open/close", ErrInvalidCandle)
	}
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("%w: high %v below open/close", ErrInvalidCandle, c.High)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("%w: low %v above open/close", ErrInvalidCandle, c.Low)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume %v", ErrInvalidCandle, c.Volume)
	}
	return nil
}
