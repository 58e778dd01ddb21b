/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import "time"

// Clock is a monotonic time source.
// Only differences between returned values are meaningful.
type Clock interface {
	NowNanos() int64
}

// ClockFunc is an adapter to allow the use of ordinary functions as Clock.
type ClockFunc func() int64

// NowNanos calls f().
func (f ClockFunc) NowNanos() int64 {
	return f()
}

type monotonicClock struct {
	origin time.Time
}

// NewMonotonicClock returns a Clock based on the monotonic reading of time.Now().
// Unlike UnixNano(), it is not affected by wall clock adjustments.
func NewMonotonicClock() Clock {
	return &monotonicClock{origin: time.Now()}
}

func (c *monotonicClock) NowNanos() int64 {
	return int64(time.Since(c.origin))
}
