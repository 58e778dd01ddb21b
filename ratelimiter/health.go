/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

// HealthStatus is a health status of the rate limiter.
type HealthStatus int

// Health statuses.
const (
	HealthStatusUp HealthStatus = iota
	HealthStatusDown
)

// String returns a string representation of the health status.
func (s HealthStatus) String() string {
	if s == HealthStatusDown {
		return "DOWN"
	}
	return "UP"
}

// HealthStatus reports whether new callers can still be admitted within the configured timeout.
// The rate limiter is down only when no permits are left, somebody is already waiting,
// and the wait for a new permit exceeds the timeout.
func (l *RateLimiter) HealthStatus() HealthStatus {
	m := l.Metrics()
	if m.AvailablePermits > 0 || m.NumberOfWaitingGoroutines == 0 {
		return HealthStatusUp
	}
	if m.NanosToWait > int64(l.Config().TimeoutDuration) {
		return HealthStatusDown
	}
	return HealthStatusUp
}

// HealthStatuses returns health statuses of the rate limiters registered with RegisterHealthIndicator.
func (r *Registry) HealthStatuses() map[string]HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make(map[string]HealthStatus)
	for name, e := range r.entries {
		if e.healthIndicator {
			res[name] = e.limiter.HealthStatus()
		}
	}
	return res
}
