/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name      string
		period    time.Duration
		limit     int
		timeout   time.Duration
		wantField string
	}{
		{name: "valid", period: time.Second, limit: 10, timeout: 0},
		{name: "zero period", period: 0, limit: 10, timeout: time.Second, wantField: "limitRefreshPeriod"},
		{name: "negative period", period: -time.Second, limit: 10, timeout: time.Second, wantField: "limitRefreshPeriod"},
		{name: "zero limit", period: time.Second, limit: 0, timeout: time.Second, wantField: "limitForPeriod"},
		{name: "negative timeout", period: time.Second, limit: 1, timeout: -1, wantField: "timeoutDuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfig(tt.period, tt.limit, tt.timeout)
			if tt.wantField == "" {
				require.NoError(t, err)
				require.Equal(t, Config{LimitRefreshPeriod: tt.period, LimitForPeriod: tt.limit, TimeoutDuration: tt.timeout}, cfg)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			require.Equal(t, tt.wantField, cfgErr.Field)
			require.ErrorContains(t, err, tt.wantField)
		})
	}
}

func TestMustConfig(t *testing.T) {
	require.Panics(t, func() { MustConfig(time.Second, -1, 0) })
	require.NotPanics(t, func() { MustConfig(time.Second, 1, 0) })
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, time.Nanosecond*500, cfg.LimitRefreshPeriod)
	require.Equal(t, 50, cfg.LimitForPeriod)
	require.Equal(t, time.Second*5, cfg.TimeoutDuration)
}
