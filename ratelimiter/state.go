/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

// state is an immutable snapshot of the limiter. A new value is installed with CAS on every decision.
// All timestamps are nanoseconds relative to the limiter origin.
type state struct {
	cycleStartNanos  int64
	activeCycle      int64
	availablePermits int64 // may be negative: permits reserved against future cycles
	nanosToWait      int64 // wait computed by the decision that produced this state
}

// projection is the state as it would look at nowNanos, after a lazy refresh.
type projection struct {
	cycleStartNanos  int64
	activeCycle      int64
	availablePermits int64
}

func (s *state) project(nowNanos, periodNanos, limit int64) projection {
	p := projection{
		cycleStartNanos:  s.cycleStartNanos,
		activeCycle:      s.activeCycle,
		availablePermits: s.availablePermits,
	}
	if nowNanos <= s.cycleStartNanos {
		return p
	}
	elapsedCycles := (nowNanos - s.cycleStartNanos) / periodNanos
	if elapsedCycles == 0 {
		return p
	}
	p.activeCycle += elapsedCycles
	p.cycleStartNanos += elapsedCycles * periodNanos
	p.availablePermits = refreshPermits(s.availablePermits, elapsedCycles, limit)
	return p
}

// refreshPermits resets the permits after elapsedCycles boundaries were crossed.
// Unused permits never carry over. Reservations (negative permits) are paid back from the budgets
// of the elapsed cycles, so the result never exceeds the limit.
func refreshPermits(permits, elapsedCycles, limit int64) int64 {
	if permits >= 0 {
		return limit
	}
	debtCycles := divCeil(-permits, limit)
	if elapsedCycles > debtCycles {
		return limit
	}
	refreshed := permits + elapsedCycles*limit
	if refreshed > limit {
		return limit
	}
	return refreshed
}

// nanosToWaitForPermits returns how long the caller has to wait until the requested permits are covered.
func (p projection) nanosToWaitForPermits(permits, nowNanos, periodNanos, limit int64) int64 {
	if p.availablePermits >= permits {
		return 0
	}
	nanosToNextCycle := p.cycleStartNanos + periodNanos - nowNanos
	permitsAtNextCycle := refreshPermits(p.availablePermits, 1, limit)
	if permitsAtNextCycle >= permits {
		return nanosToNextCycle
	}
	fullCyclesToWait := divCeil(permits-permitsAtNextCycle, limit)
	return nanosToNextCycle + fullCyclesToWait*periodNanos
}

// nextState computes the candidate state for the decision to take permits at nowNanos.
// The permits are reserved only if the wait fits into the timeout.
func nextState(prev *state, cfg *Config, permits, timeoutNanos, nowNanos int64) *state {
	periodNanos := int64(cfg.LimitRefreshPeriod)
	limit := int64(cfg.LimitForPeriod)

	p := prev.project(nowNanos, periodNanos, limit)
	nanosToWait := p.nanosToWaitForPermits(permits, nowNanos, periodNanos, limit)
	available := p.availablePermits
	if nanosToWait <= timeoutNanos {
		available -= permits
	}
	return &state{
		cycleStartNanos:  p.cycleStartNanos,
		activeCycle:      p.activeCycle,
		availablePermits: available,
		nanosToWait:      nanosToWait,
	}
}

func divCeil(x, y int64) int64 {
	return (x + y - 1) / y
}
