/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/acronis/go-ratelimiter/log/logtest"
)

type RateLimiterTestSuite struct {
	suite.Suite
	clock  *manualClock
	logger *logtest.Recorder
}

func TestRateLimiter(t *testing.T) {
	suite.Run(t, &RateLimiterTestSuite{})
}

func (s *RateLimiterTestSuite) SetupTest() {
	s.clock = &manualClock{}
	s.logger = logtest.NewRecorder()
}

func (s *RateLimiterTestSuite) newRateLimiter(period time.Duration, limit int, timeout time.Duration) *RateLimiter {
	rl, err := NewRateLimiterWithOpts("test", MustConfig(period, limit, timeout), Opts{Clock: s.clock, Logger: s.logger})
	s.Require().NoError(err)
	return rl
}

func (s *RateLimiterTestSuite) TestNewRateLimiter_InvalidConfig() {
	_, err := NewRateLimiter("test", Config{LimitRefreshPeriod: time.Second})
	s.Require().ErrorIs(err, ErrInvalidConfig)
	s.Require().Panics(func() { MustRateLimiter("test", Config{}) })
}

func (s *RateLimiterTestSuite) TestConservation() {
	rl := s.newRateLimiter(time.Second, 5, 0)
	for i := 0; i < 3; i++ {
		s.Require().True(rl.AcquirePermission(context.Background()))
	}
	s.Require().Equal(int64(2), rl.AvailablePermits())
}

func (s *RateLimiterTestSuite) TestExhaustion() {
	rl := s.newRateLimiter(time.Second, 5, 0)
	for i := 0; i < 5; i++ {
		s.Require().True(rl.AcquirePermission(context.Background()))
	}

	startedAt := time.Now()
	err := rl.AcquirePermissions(context.Background(), 1)
	s.Require().ErrorIs(err, ErrRequestNotPermitted)
	s.Require().Less(time.Since(startedAt), time.Millisecond*100)
	s.Require().Equal(int64(0), rl.AvailablePermits())
	s.Require().Equal(int64(0), rl.NumberOfWaitingGoroutines())
}

func (s *RateLimiterTestSuite) TestCycleReset() {
	rl := s.newRateLimiter(time.Second, 5, 0)
	s.Require().NoError(rl.AcquirePermissions(context.Background(), 2))
	s.Require().Equal(int64(3), rl.AvailablePermits())

	s.clock.Advance(time.Second)
	s.Require().Equal(int64(5), rl.AvailablePermits())

	s.clock.Advance(time.Second * 10)
	s.Require().Equal(int64(5), rl.AvailablePermits())
	s.Require().True(rl.AcquirePermission(context.Background()))
	s.Require().Equal(int64(4), rl.AvailablePermits())
}

func (s *RateLimiterTestSuite) TestWaitUntilNextCycle() {
	rl := s.newRateLimiter(time.Millisecond*100, 1, time.Millisecond*150)
	s.Require().True(rl.AcquirePermission(context.Background()))

	s.clock.Advance(time.Millisecond * 60)
	s.Require().Equal(time.Millisecond*40, rl.NanosToWait())

	startedAt := time.Now()
	s.Require().True(rl.AcquirePermission(context.Background()))
	elapsed := time.Since(startedAt)
	s.Require().GreaterOrEqual(elapsed, time.Millisecond*40)
	s.Require().Less(elapsed, time.Millisecond*100)
	s.Require().Equal(int64(-1), rl.AvailablePermits())

	s.clock.Advance(time.Millisecond * 40)
	s.Require().Equal(int64(0), rl.AvailablePermits())
}

func (s *RateLimiterTestSuite) TestWaitingGoroutinesAreCounted() {
	rl := s.newRateLimiter(time.Hour, 1, time.Hour*2)
	s.Require().True(rl.AcquirePermission(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- rl.AcquirePermissions(ctx, 1) }()

	s.Require().Eventually(func() bool { return rl.NumberOfWaitingGoroutines() == 1 }, time.Second, time.Millisecond*5)
	s.Require().Equal(int64(1), rl.Metrics().NumberOfWaitingGoroutines)
	cancel()
	<-done
	s.Require().Equal(int64(0), rl.NumberOfWaitingGoroutines())
}

func (s *RateLimiterTestSuite) TestInterruptedWaitForfeitsPermit() {
	rl := s.newRateLimiter(time.Hour, 1, time.Hour*2)
	var failures atomic.Int32
	sub := rl.EventPublisher().OnFailure(func(Event) { failures.Inc() })
	defer sub.Unsubscribe()

	s.Require().True(rl.AcquirePermission(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- rl.AcquirePermissions(ctx, 1) }()
	s.Require().Eventually(func() bool { return rl.NumberOfWaitingGoroutines() == 1 }, time.Second, time.Millisecond*5)
	cancel()

	err := <-done
	s.Require().ErrorIs(err, ErrWaitInterrupted)
	s.Require().ErrorIs(err, context.Canceled)
	s.Require().Equal(int64(-1), rl.AvailablePermits())
	s.Require().Eventually(func() bool { return failures.Load() == 1 }, time.Second, time.Millisecond*5)
}

func (s *RateLimiterTestSuite) TestInvalidPermits() {
	rl := s.newRateLimiter(time.Second, 10, time.Hour)

	s.Require().ErrorIs(rl.AcquirePermissions(context.Background(), 0), ErrInvalidPermits)
	s.Require().ErrorIs(rl.AcquirePermissions(context.Background(), -1), ErrInvalidPermits)

	startedAt := time.Now()
	s.Require().ErrorIs(rl.AcquirePermissions(context.Background(), 11), ErrPermitsExceedLimit)
	s.Require().Less(time.Since(startedAt), time.Millisecond*100)
	s.Require().Equal(int64(10), rl.AvailablePermits())
}

func (s *RateLimiterTestSuite) TestAcquirePermissionsWithTimeout() {
	rl := s.newRateLimiter(time.Millisecond*20, 2, 0)
	s.Require().NoError(rl.AcquirePermissions(context.Background(), 2))
	s.Require().ErrorIs(rl.AcquirePermissions(context.Background(), 1), ErrRequestNotPermitted)
	s.Require().NoError(rl.AcquirePermissionsWithTimeout(context.Background(), 2, time.Millisecond*20))
	s.Require().ErrorIs(rl.AcquirePermissionsWithTimeout(context.Background(), 1, time.Millisecond*20), ErrRequestNotPermitted)
	s.Require().Equal(int64(-2), rl.AvailablePermits())
}

func (s *RateLimiterTestSuite) TestReservePermission() {
	rl := s.newRateLimiter(time.Millisecond*100, 1, 0)

	s.Require().Equal(time.Duration(0), rl.ReservePermission(0))
	s.Require().Equal(Rejected, rl.ReservePermission(0))
	s.Require().Equal(time.Millisecond*100, rl.ReservePermission(time.Millisecond*150))
	s.Require().Equal(int64(-1), rl.AvailablePermits())

	// The next permit is two cycles ahead.
	s.Require().Equal(Rejected, rl.ReservePermission(time.Millisecond*150))
	s.Require().Equal(time.Millisecond*200, rl.ReservePermission(time.Millisecond*200))

	s.Require().Equal(Rejected, rl.ReservePermissions(2, time.Hour))
	s.Require().Equal(Rejected, rl.ReservePermissions(0, time.Hour))
	s.Require().Equal(int64(0), rl.NumberOfWaitingGoroutines())
}

func (s *RateLimiterTestSuite) TestWaitEqualToTimeoutIsAccepted() {
	rl := s.newRateLimiter(time.Millisecond*30, 1, 0)
	s.Require().Equal(time.Duration(0), rl.ReservePermission(0))

	s.Require().Equal(Rejected, rl.ReservePermission(time.Millisecond*30-1))
	s.Require().Equal(time.Millisecond*30, rl.ReservePermission(time.Millisecond*30))
	s.Require().Equal(int64(-1), rl.AvailablePermits())

	s.Require().ErrorIs(rl.AcquirePermissionsWithTimeout(context.Background(), 1, time.Millisecond*60-1), ErrRequestNotPermitted)
	s.Require().NoError(rl.AcquirePermissionsWithTimeout(context.Background(), 1, time.Millisecond*60))
	s.Require().Equal(int64(-2), rl.AvailablePermits())
}

func (s *RateLimiterTestSuite) TestDecisionUsesOneConfigSnapshot() {
	rl := s.newRateLimiter(time.Second, 5, 0)
	snapshot := rl.config.Load()
	s.Require().NoError(rl.ChangeLimitForPeriod(2))

	// The current cycle still has 5 permits, only the limit check differs between the snapshots.
	_, err := rl.decide(rl.config.Load(), 4, 0)
	s.Require().ErrorIs(err, ErrPermitsExceedLimit)
	s.Require().Equal(int64(5), rl.AvailablePermits())

	wait, err := rl.decide(snapshot, 4, 0)
	s.Require().NoError(err)
	s.Require().Equal(time.Duration(0), wait)
	s.Require().Equal(int64(1), rl.AvailablePermits())
}

func (s *RateLimiterTestSuite) TestChangeLimitForPeriod() {
	rl := s.newRateLimiter(time.Second, 5, 0)
	s.Require().NoError(rl.AcquirePermissions(context.Background(), 2))

	s.Require().NoError(rl.ChangeLimitForPeriod(10))
	s.Require().Equal(10, rl.Config().LimitForPeriod)
	s.Require().Equal(int64(3), rl.AvailablePermits())

	s.clock.Advance(time.Second)
	s.Require().Equal(int64(10), rl.AvailablePermits())

	s.Require().NoError(rl.ChangeLimitForPeriod(2))
	s.Require().Equal(int64(10), rl.AvailablePermits())
	s.clock.Advance(time.Second)
	s.Require().Equal(int64(2), rl.AvailablePermits())

	entry, found := s.logger.FindEntry("rate limiter limit for period changed")
	s.Require().True(found)
	name, _ := entry.StringField("rate_limiter")
	s.Require().Equal("test", name)

	s.Require().ErrorIs(rl.ChangeLimitForPeriod(0), ErrInvalidConfig)
	s.Require().Equal(2, rl.Config().LimitForPeriod)
}

func (s *RateLimiterTestSuite) TestChangeTimeoutDuration() {
	rl := s.newRateLimiter(time.Second, 1, 0)
	s.Require().True(rl.AcquirePermission(context.Background()))
	s.Require().Equal(Rejected, rl.ReservePermission(rl.Config().TimeoutDuration))

	s.Require().NoError(rl.ChangeTimeoutDuration(time.Second * 2))
	s.Require().Equal(time.Second*2, rl.Config().TimeoutDuration)
	s.Require().Equal(time.Second, rl.ReservePermission(rl.Config().TimeoutDuration))

	s.Require().ErrorIs(rl.ChangeTimeoutDuration(-time.Second), ErrInvalidConfig)
	s.Require().Equal(time.Second*2, rl.Config().TimeoutDuration)
}

func (s *RateLimiterTestSuite) TestConcurrentAcquisition() {
	const goroutines = 100
	const limit = 30
	rl := s.newRateLimiter(time.Hour, limit, 0)

	var succeeded, failed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if rl.AcquirePermission(context.Background()) {
				succeeded.Inc()
			} else {
				failed.Inc()
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Require().Equal(int32(limit), succeeded.Load())
	s.Require().Equal(int32(goroutines-limit), failed.Load())
	s.Require().Equal(int64(0), rl.AvailablePermits())
}

func (s *RateLimiterTestSuite) TestConcurrentAcquisitionAcrossCycles() {
	const limit = 5
	rl := s.newRateLimiter(time.Second, limit, 0)

	var succeeded atomic.Int32
	var wg sync.WaitGroup
	for cycle := 0; cycle < 4; cycle++ {
		for i := 0; i < limit*3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if rl.AcquirePermission(context.Background()) {
					succeeded.Inc()
				}
			}()
		}
		wg.Wait()
		s.Require().Equal(int32(limit*(cycle+1)), succeeded.Load())
		s.clock.Advance(time.Second)
	}
}

func (s *RateLimiterTestSuite) TestBurstWaitsForNextCycle() {
	rl := s.newRateLimiter(time.Millisecond, 10, time.Millisecond*25)

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.AcquirePermission(context.Background()) {
				succeeded.Inc()
			}
		}()
	}
	wg.Wait()
	s.Require().Equal(int32(10), succeeded.Load())
	s.Require().Equal(time.Millisecond, rl.NanosToWait())

	startedAt := time.Now()
	s.Require().True(rl.AcquirePermission(context.Background()))
	s.Require().GreaterOrEqual(time.Since(startedAt), time.Millisecond)
	s.Require().Equal(int64(-1), rl.AvailablePermits())
}

func (s *RateLimiterTestSuite) TestMetricsDoNotChangeState() {
	rl := s.newRateLimiter(time.Second, 5, 0)
	s.Require().True(rl.AcquirePermission(context.Background()))
	before := rl.state.Load()

	s.clock.Advance(time.Second * 3)
	for i := 0; i < 10; i++ {
		m := rl.Metrics()
		s.Require().Equal(Metrics{AvailablePermits: 5}, m)
	}
	s.Require().Same(before, rl.state.Load())
}

func (s *RateLimiterTestSuite) TestNanosToWait() {
	rl := s.newRateLimiter(time.Second, 2, time.Second*5)
	s.Require().Equal(time.Duration(0), rl.NanosToWait())

	s.Require().NoError(rl.AcquirePermissions(context.Background(), 2))
	s.clock.Advance(time.Millisecond * 300)
	s.Require().Equal(time.Millisecond*700, rl.NanosToWait())
	s.Require().Equal(int64(time.Millisecond*700), rl.Metrics().NanosToWait)
}

func (s *RateLimiterTestSuite) TestHealthStatus() {
	rl := s.newRateLimiter(time.Hour, 1, time.Hour*2)
	s.Require().Equal(HealthStatusUp, rl.HealthStatus())

	s.Require().True(rl.AcquirePermission(context.Background()))
	// No permits, but nobody is waiting.
	s.Require().Equal(HealthStatusUp, rl.HealthStatus())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rl.AcquirePermissions(ctx, 1) }()
	s.Require().Eventually(func() bool { return rl.NumberOfWaitingGoroutines() == 1 }, time.Second, time.Millisecond*5)

	// The next free permit is two hours ahead, still within the timeout.
	s.Require().Equal(HealthStatusUp, rl.HealthStatus())

	s.Require().NoError(rl.ChangeTimeoutDuration(time.Minute))
	s.Require().Equal(HealthStatusDown, rl.HealthStatus())
	s.Require().Equal("DOWN", rl.HealthStatus().String())

	cancel()
	s.Require().True(errors.Is(<-done, ErrWaitInterrupted))
	s.Require().Equal(HealthStatusUp, rl.HealthStatus())
}
