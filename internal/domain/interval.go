package domain

import "time"

// Interval is an enumerated bar duration in seconds.
type Interval int64

// Supported bar intervals.
const (
	Interval1Sec  Interval = 1
	Interval15Sec Interval = 15
	Interval1Min  Interval = 60
	Interval5Min  Interval = 300
	Interval15Min Interval = 900
	Interval1Hour Interval = 3600
	Interval1Day  Interval = 86400
)

// Seconds returns the interval length in seconds.
func (i Interval) Seconds() int64 {
	return int64(i)
}

// Duration returns the interval as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i) * time.Second
}

// IsValid checks if the interval is one of the supported values.
func (i Interval) IsValid() bool {
	switch i {
	case Interval1Sec, Interval15Sec, Interval1Min, Interval5Min,
		Interval15Min, Interval1Hour, Interval1Day:
		return true
	default:
		return false
	}
}
