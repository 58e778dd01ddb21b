/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-ratelimiter/log"
)

// Rejected is returned by ReservePermission when the wait for a permit would exceed the timeout.
const Rejected = time.Duration(-1)

// DefaultEventQueueSize is a default size of the per-subscriber event queue.
const DefaultEventQueueSize = 1024

// Opts represents options for the RateLimiter.
type Opts struct {
	// Clock is a time source. Monotonic clock is used by default.
	Clock Clock

	// Logger is used for logging reconfiguration and event consumers failures.
	Logger log.FieldLogger

	// EventQueueSize is a size of the queue of every event subscriber.
	// Events published into a full queue are dropped.
	EventQueueSize int
}

// RateLimiter limits the number of calls per period.
// All methods are safe for concurrent use.
type RateLimiter struct {
	name        string
	clock       Clock
	originNanos int64
	logger      log.FieldLogger

	config            atomic.Pointer[Config]
	state             atomic.Pointer[state]
	waitingGoroutines atomic.Int64

	eventPublisher *EventPublisher
}

// NewRateLimiter creates a new RateLimiter with the given name and configuration.
func NewRateLimiter(name string, cfg Config) (*RateLimiter, error) {
	return NewRateLimiterWithOpts(name, cfg, Opts{})
}

// NewRateLimiterWithOpts is a configurable version of NewRateLimiter.
func NewRateLimiterWithOpts(name string, cfg Config, opts Opts) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = NewMonotonicClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.EventQueueSize <= 0 {
		opts.EventQueueSize = DefaultEventQueueSize
	}
	rl := &RateLimiter{
		name:           name,
		clock:          opts.Clock,
		originNanos:    opts.Clock.NowNanos(),
		logger:         opts.Logger.With(log.String("rate_limiter", name)),
		eventPublisher: newEventPublisher(opts.EventQueueSize, opts.Logger),
	}
	rl.config.Store(&cfg)
	rl.state.Store(&state{availablePermits: int64(cfg.LimitForPeriod)})
	return rl, nil
}

// MustRateLimiter is a version of NewRateLimiter that panics if an error occurs.
func MustRateLimiter(name string, cfg Config) *RateLimiter {
	rl, err := NewRateLimiter(name, cfg)
	if err != nil {
		panic(err)
	}
	return rl
}

// Name returns the name of the rate limiter.
func (l *RateLimiter) Name() string {
	return l.name
}

// Config returns the current configuration.
func (l *RateLimiter) Config() Config {
	return *l.config.Load()
}

// EventPublisher returns the publisher of acquisition events.
func (l *RateLimiter) EventPublisher() *EventPublisher {
	return l.eventPublisher
}

// AcquirePermission acquires one permit waiting no longer than the configured timeout.
// It returns false if the permit was not acquired.
func (l *RateLimiter) AcquirePermission(ctx context.Context) bool {
	return l.AcquirePermissions(ctx, 1) == nil
}

// AcquirePermissions acquires the given number of permits waiting no longer than the configured timeout.
func (l *RateLimiter) AcquirePermissions(ctx context.Context, permits int) error {
	cfg := l.config.Load()
	return l.acquire(ctx, cfg, permits, cfg.TimeoutDuration)
}

// AcquirePermissionsWithTimeout acquires the given number of permits waiting no longer than timeout.
//
// If the permits are available, it returns nil immediately.
// If the permits of a future cycle can be reserved within the timeout,
// the calling goroutine sleeps until that cycle starts and then returns nil.
// Otherwise, nothing is reserved and ErrRequestNotPermitted is returned without sleeping.
// If ctx is done while sleeping, an error wrapping both ErrWaitInterrupted and ctx.Err() is returned,
// and the reserved permits are not given back.
func (l *RateLimiter) AcquirePermissionsWithTimeout(ctx context.Context, permits int, timeout time.Duration) error {
	return l.acquire(ctx, l.config.Load(), permits, timeout)
}

func (l *RateLimiter) acquire(ctx context.Context, cfg *Config, permits int, timeout time.Duration) error {
	wait, err := l.decide(cfg, permits, timeout)
	if err != nil {
		return err
	}
	if wait > 0 {
		if err = l.waitForPermission(ctx, wait); err != nil {
			l.eventPublisher.publish(EventTypeFailedAcquire, l.name, permits)
			return err
		}
	}
	l.eventPublisher.publish(EventTypeSuccessfulAcquire, l.name, permits)
	return nil
}

// ReservePermission reserves one permit and returns how long the caller has to wait before using it.
// Zero means the permit may be used immediately.
// If the wait would exceed timeout, nothing is reserved and Rejected is returned.
func (l *RateLimiter) ReservePermission(timeout time.Duration) time.Duration {
	return l.ReservePermissions(1, timeout)
}

// ReservePermissions is a version of ReservePermission for an arbitrary number of permits.
// Rejected is also returned when permits is not positive or exceeds the limit for period.
func (l *RateLimiter) ReservePermissions(permits int, timeout time.Duration) time.Duration {
	wait, err := l.decide(l.config.Load(), permits, timeout)
	if err != nil {
		return Rejected
	}
	l.eventPublisher.publish(EventTypeSuccessfulAcquire, l.name, permits)
	return wait
}

// decide takes the permits against the single config snapshot cfg and returns the wait before they may be used.
// Rejections publish a failure event, except for invalid permits.
func (l *RateLimiter) decide(cfg *Config, permits int, timeout time.Duration) (time.Duration, error) {
	if permits <= 0 {
		return 0, fmt.Errorf("%w, got %d", ErrInvalidPermits, permits)
	}
	if permits > cfg.LimitForPeriod {
		l.eventPublisher.publish(EventTypeFailedAcquire, l.name, permits)
		return 0, fmt.Errorf("%w: %d > %d", ErrPermitsExceedLimit, permits, cfg.LimitForPeriod)
	}
	timeoutNanos := int64(nonNegative(timeout))
	next := l.reserve(cfg, int64(permits), timeoutNanos)
	if next.nanosToWait > timeoutNanos {
		l.eventPublisher.publish(EventTypeFailedAcquire, l.name, permits)
		return 0, ErrRequestNotPermitted
	}
	return time.Duration(next.nanosToWait), nil
}

// ChangeLimitForPeriod changes the number of permits per cycle.
// The permits of the current cycle are not touched, the new limit is used starting from the next cycle.
func (l *RateLimiter) ChangeLimitForPeriod(limitForPeriod int) error {
	l.refreshState()
	cfg, err := l.updateConfig(func(c Config) Config { return c.withLimitForPeriod(limitForPeriod) })
	if err != nil {
		return err
	}
	l.logger.Info("rate limiter limit for period changed", log.Int("limit_for_period", cfg.LimitForPeriod))
	return nil
}

// ChangeTimeoutDuration changes the default timeout for acquiring permits.
// Goroutines that are already waiting are not affected.
func (l *RateLimiter) ChangeTimeoutDuration(timeout time.Duration) error {
	cfg, err := l.updateConfig(func(c Config) Config { return c.withTimeoutDuration(timeout) })
	if err != nil {
		return err
	}
	l.logger.Info("rate limiter timeout duration changed", log.Duration("timeout_duration", cfg.TimeoutDuration))
	return nil
}

func (l *RateLimiter) updateConfig(change func(c Config) Config) (Config, error) {
	for {
		prev := l.config.Load()
		next := change(*prev)
		if err := next.Validate(); err != nil {
			return Config{}, err
		}
		if l.config.CompareAndSwap(prev, &next) {
			return next, nil
		}
	}
}

// refreshState stores the lazily refreshed state of the current cycle, so the permits of this cycle
// are fixed with the current limit before the limit is replaced.
func (l *RateLimiter) refreshState() {
	for {
		prev := l.state.Load()
		cfg := l.config.Load()
		p := prev.project(l.nowNanos(), int64(cfg.LimitRefreshPeriod), int64(cfg.LimitForPeriod))
		if p.activeCycle == prev.activeCycle {
			return
		}
		next := &state{
			cycleStartNanos:  p.cycleStartNanos,
			activeCycle:      p.activeCycle,
			availablePermits: p.availablePermits,
		}
		if l.state.CompareAndSwap(prev, next) {
			return
		}
	}
}

// reserve installs the next state with CAS and returns it.
// The loop is retried from a fresh state read until the CAS succeeds.
func (l *RateLimiter) reserve(cfg *Config, permits, timeoutNanos int64) *state {
	for {
		prev := l.state.Load()
		next := nextState(prev, cfg, permits, timeoutNanos, l.nowNanos())
		if l.state.CompareAndSwap(prev, next) {
			return next
		}
	}
}

func (l *RateLimiter) waitForPermission(ctx context.Context, d time.Duration) error {
	l.waitingGoroutines.Inc()
	defer l.waitingGoroutines.Dec()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWaitInterrupted, ctx.Err())
	}
}

func (l *RateLimiter) nowNanos() int64 {
	return l.clock.NowNanos() - l.originNanos
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
