// Package simclock provides the deterministic clock used inside a
// simulation run. One clock is constructed per run and is the sole source
// of "now"; no component inside the engine reads wall-clock time.
package simclock

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidResolution is returned for an unsupported tick resolution.
var ErrInvalidResolution = errors.New("invalid clock resolution")

// Resolution is the wall-duration of one clock tick.
type Resolution time.Duration

// Supported resolutions.
const (
	ResolutionMillisecond Resolution = Resolution(time.Millisecond)
	ResolutionSecond      Resolution = Resolution(time.Second)
	ResolutionMinute      Resolution = Resolution(time.Minute)
	ResolutionHour        Resolution = Resolution(time.Hour)
)

// IsValid checks if the resolution is one of the supported granularities.
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionMillisecond, ResolutionSecond, ResolutionMinute, ResolutionHour:
		return true
	default:
		return false
	}
}

// Clock holds the current simulation tick at a fixed resolution. It is
// mutated only by its own Advance and owned exclusively by the run that
// created it. Identical candle input and resolution produce an identical
// sequence of Now values across repeated runs.
type Clock struct {
	resolution Resolution
	tick       int64
}

// New creates a clock starting at startTick with the given resolution.
func New(startTick int64, resolution Resolution) (*Clock, error) {
	if !resolution.IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResolution, time.Duration(resolution))
	}
	return &Clock{resolution: resolution, tick: startTick}, nil
}

// Now returns the current tick.
func (c *Clock) Now() int64 {
	return c.tick
}

// Resolution returns the clock's tick resolution.
func (c *Clock) Resolution() Resolution {
	return c.resolution
}

// Advance moves the clock forward by n ticks. Negative advances are
// rejected: simulation time never moves backwards.
func (c *Clock) Advance(n int64) error {
	if n < 0 {
		return fmt.Errorf("clock cannot move backwards: advance %d", n)
	}
	c.tick += n
	return nil
}

// AdvanceTo moves the clock forward to the given tick. Rewinding is rejected.
func (c *Clock) AdvanceTo(tick int64) error {
	if tick < c.tick {
		return fmt.Errorf("clock cannot move backwards: at %d, requested %d", c.tick, tick)
	}
	c.tick = tick
	return nil
}

// TicksIn converts a wall duration to clock ticks, truncating toward zero.
func (c *Clock) TicksIn(d time.Duration) int64 {
	return int64(d / time.Duration(c.resolution))
}

// DurationOf converts a tick count to a wall duration.
func (c *Clock) DurationOf(ticks int64) time.Duration {
	return time.Duration(ticks) * time.Duration(c.resolution)
}

// UnixSeconds returns the current tick converted to Unix seconds, assuming
// tick zero is the Unix epoch.
func (c *Clock) UnixSeconds() int64 {
	return int64(c.DurationOf(c.tick) / time.Second)
}
