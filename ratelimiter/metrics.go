/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import "time"

// Metrics is a point-in-time snapshot of the rate limiter state.
type Metrics struct {
	// AvailablePermits is the number of permits left in the current cycle.
	// Negative value means that permits of future cycles are already reserved by waiting callers.
	AvailablePermits int64 `json:"availablePermits"`

	// NumberOfWaitingGoroutines is the number of callers sleeping until their reserved permit becomes usable.
	NumberOfWaitingGoroutines int64 `json:"numberOfWaitingGoroutines"`

	// NanosToWait is the wait a single-permit request would incur right now.
	NanosToWait int64 `json:"nanosToWait"`
}

// Metrics returns a snapshot of the rate limiter metrics. It never changes the limiter state.
func (l *RateLimiter) Metrics() Metrics {
	p, nowNanos, cfg := l.currentProjection()
	return Metrics{
		AvailablePermits:          p.availablePermits,
		NumberOfWaitingGoroutines: l.waitingGoroutines.Load(),
		NanosToWait: p.nanosToWaitForPermits(
			1, nowNanos, int64(cfg.LimitRefreshPeriod), int64(cfg.LimitForPeriod)),
	}
}

// AvailablePermits returns the number of permits left in the current cycle (may be negative).
func (l *RateLimiter) AvailablePermits() int64 {
	p, _, _ := l.currentProjection()
	return p.availablePermits
}

// NumberOfWaitingGoroutines returns the number of goroutines waiting for their reserved permit.
func (l *RateLimiter) NumberOfWaitingGoroutines() int64 {
	return l.waitingGoroutines.Load()
}

// NanosToWait returns the wait a single-permit request would incur right now.
func (l *RateLimiter) NanosToWait() time.Duration {
	return time.Duration(l.Metrics().NanosToWait)
}

func (l *RateLimiter) currentProjection() (projection, int64, *Config) {
	s := l.state.Load()
	cfg := l.config.Load()
	nowNanos := l.nowNanos()
	return s.project(nowNanos, int64(cfg.LimitRefreshPeriod), int64(cfg.LimitForPeriod)), nowNanos, cfg
}
