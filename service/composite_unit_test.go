/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type mockUnit struct {
	name      string
	running   *atomic.Int32
	stopCh    chan struct{}
	stopErr   error
	startErr  error
	stopOnce  atomic.Bool
	stopCalls atomic.Int32

	gracefulStopCalls atomic.Int32
	registerCalls     atomic.Int32
	unregisterCalls   atomic.Int32
}

func newMockUnit(name string, running *atomic.Int32) *mockUnit {
	return &mockUnit{name: name, running: running, stopCh: make(chan struct{})}
}

func (u *mockUnit) Start(fatalErr chan<- error) {
	if u.startErr != nil {
		fatalErr <- u.startErr
		return
	}
	u.running.Inc()
	<-u.stopCh
}

func (u *mockUnit) Stop(gracefully bool) error {
	u.stopCalls.Inc()
	if gracefully {
		u.gracefulStopCalls.Inc()
	}
	if u.startErr == nil && u.stopOnce.CompareAndSwap(false, true) {
		u.running.Dec()
		close(u.stopCh)
	}
	return u.stopErr
}

func (u *mockUnit) MustRegisterMetrics() {
	u.registerCalls.Inc()
}

func (u *mockUnit) UnregisterMetrics() {
	u.unregisterCalls.Inc()
}

func makeCompositeUnit(n int, running *atomic.Int32, configure func(i int, u *mockUnit)) (*CompositeUnit, []*mockUnit) {
	mocks := make([]*mockUnit, 0, n)
	units := make([]Unit, 0, n)
	for i := 0; i < n; i++ {
		u := newMockUnit(fmt.Sprintf("unit#%d", i), running)
		if configure != nil {
			configure(i, u)
		}
		mocks = append(mocks, u)
		units = append(units, u)
	}
	return NewCompositeUnit(units...), mocks
}

func TestCompositeUnit_StartAndStop(t *testing.T) {
	t.Run("start and stop without errors", func(t *testing.T) {
		const unitsNum = 50
		var running atomic.Int32
		cu, mocks := makeCompositeUnit(unitsNum, &running, nil)

		startExit := make(chan struct{})
		go func() {
			defer close(startExit)
			cu.Start(make(chan error, 1))
		}()
		require.Eventually(t, func() bool { return running.Load() == unitsNum }, time.Second*3, time.Millisecond*10)

		require.NoError(t, cu.Stop(true))
		require.Equal(t, int32(0), running.Load())
		select {
		case <-startExit:
		case <-time.After(time.Second * 3):
			require.Fail(t, "waiting finish of Start() is timed out")
		}
		for _, m := range mocks {
			require.Equal(t, int32(1), m.gracefulStopCalls.Load())
		}
	})

	t.Run("stop errors are collected", func(t *testing.T) {
		const unitsNum = 10
		var running atomic.Int32
		errStop := errors.New("stop failed")
		cu, _ := makeCompositeUnit(unitsNum, &running, func(i int, u *mockUnit) {
			if i%2 == 0 {
				u.stopErr = fmt.Errorf("%s: %w", u.name, errStop)
			}
		})

		go cu.Start(make(chan error, 1))
		require.Eventually(t, func() bool { return running.Load() == unitsNum }, time.Second*3, time.Millisecond*10)

		err := cu.Stop(true)
		var cuErr *CompositeUnitError
		require.ErrorAs(t, err, &cuErr)
		require.Len(t, cuErr.UnitErrors, unitsNum/2)
		require.ErrorIs(t, err, errStop)
		require.Equal(t, int32(0), running.Load())
	})

	t.Run("failed unit stops the rest", func(t *testing.T) {
		const unitsNum = 5
		var running atomic.Int32
		errStart := errors.New("listen failed")
		cu, mocks := makeCompositeUnit(unitsNum, &running, func(i int, u *mockUnit) {
			if i == 0 {
				u.startErr = errStart
			}
		})

		fatalErr := make(chan error, 1)
		cu.Start(fatalErr)

		err := <-fatalErr
		require.ErrorIs(t, err, errStart)
		require.Eventually(t, func() bool { return running.Load() == 0 }, time.Second*3, time.Millisecond*10)
		for _, m := range mocks[1:] {
			require.Equal(t, int32(1), m.stopCalls.Load())
			require.Equal(t, int32(0), m.gracefulStopCalls.Load())
		}
	})

	t.Run("no units", func(t *testing.T) {
		fatalErr := make(chan error, 1)
		NewCompositeUnit().Start(fatalErr)
		require.Len(t, fatalErr, 0)
		require.NoError(t, NewCompositeUnit().Stop(true))
	})
}

func TestCompositeUnit_Metrics(t *testing.T) {
	var running atomic.Int32
	cu, mocks := makeCompositeUnit(3, &running, nil)
	cu.MustRegisterMetrics()
	cu.UnregisterMetrics()
	for _, m := range mocks {
		require.Equal(t, int32(1), m.registerCalls.Load())
		require.Equal(t, int32(1), m.unregisterCalls.Load())
	}
}
