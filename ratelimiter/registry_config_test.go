/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimiter/config"
	"github.com/acronis/go-ratelimiter/log/logtest"
)

func loadRegistryConfig(t *testing.T, data string, dataType config.DataType, options ...RegistryConfigOption) (*RegistryConfig, error) {
	t.Helper()
	cfg := NewRegistryConfig(options...)
	err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(data), dataType, cfg)
	return cfg, err
}

func TestRegistryConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadRegistryConfig(t, `{}`, config.DataTypeJSON)
		require.NoError(t, err)
		require.Equal(t, DefaultConfig(), cfg.Default)
		require.Empty(t, cfg.Limiters)
		require.Empty(t, cfg.LimiterNames())
	})

	t.Run("limiters inherit default section", func(t *testing.T) {
		cfgData := `
rateLimiter:
  default:
    limitRefreshPeriod: 1s
    limitForPeriod: 50
    timeoutDuration: 5s
  limiters:
    Backend-A:
      limitForPeriod: 10
      registerHealthIndicator: true
      eventConsumerBufferSize: 100
    backend-b:
      timeoutDuration: 0s
`
		cfg, err := loadRegistryConfig(t, cfgData, config.DataTypeYAML)
		require.NoError(t, err)
		require.Equal(t, MustConfig(time.Second, 50, time.Second*5), cfg.Default)
		require.Equal(t, []string{"backend-a", "backend-b"}, cfg.LimiterNames())
		require.Equal(t, LimiterSettings{
			Config:                  MustConfig(time.Second, 10, time.Second*5),
			RegisterHealthIndicator: true,
			EventConsumerBufferSize: 100,
		}, cfg.Limiters["backend-a"])
		require.Equal(t, LimiterSettings{Config: MustConfig(time.Second, 50, 0)}, cfg.Limiters["backend-b"])
	})

	t.Run("custom key prefix", func(t *testing.T) {
		cfgData := `{"limits": {"default": {"limitForPeriod": 7}, "limiters": {"api": {"limitRefreshPeriod": "10ms"}}}}`
		cfg, err := loadRegistryConfig(t, cfgData, config.DataTypeJSON, WithKeyPrefix("limits"))
		require.NoError(t, err)
		require.Equal(t, "limits", cfg.KeyPrefix())
		require.Equal(t, 7, cfg.Default.LimitForPeriod)
		require.Equal(t, MustConfig(time.Millisecond*10, 7, DefaultTimeoutDuration), cfg.Limiters["api"].Config)
	})

	tests := []struct {
		name    string
		cfgData string
		wantErr string
	}{
		{
			name:    "invalid default limit",
			cfgData: `{"rateLimiter": {"default": {"limitForPeriod": 0}}}`,
			wantErr: "rateLimiter.default: invalid rate limiter configuration: limitForPeriod should be positive",
		},
		{
			name:    "invalid limiter duration",
			cfgData: `{"rateLimiter": {"limiters": {"api": {"timeoutDuration": "soon"}}}}`,
			wantErr: "rateLimiter.limiters.api.timeoutDuration",
		},
		{
			name:    "negative limiter timeout",
			cfgData: `{"rateLimiter": {"limiters": {"api": {"timeoutDuration": "-1s"}}}}`,
			wantErr: "rateLimiter.limiters.api: invalid rate limiter configuration: timeoutDuration should not be negative",
		},
		{
			name:    "negative buffer size",
			cfgData: `{"rateLimiter": {"limiters": {"api": {"eventConsumerBufferSize": -1}}}}`,
			wantErr: "rateLimiter.limiters.api.eventConsumerBufferSize: should be >= 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadRegistryConfig(t, tt.cfgData, config.DataTypeJSON)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRegistry_LoadConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "ratelimiters.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
rateLimiter:
  limiters:
    backend:
      limitRefreshPeriod: 1s
      limitForPeriod: 3
`), 0o600))

	reg, err := NewRegistry(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, reg.LoadConfigFile(cfgPath, config.DataTypeYAML))

	rl, ok := reg.Find("backend")
	require.True(t, ok)
	require.Equal(t, MustConfig(time.Second, 3, DefaultTimeoutDuration), rl.Config())

	err = reg.LoadConfigFile(filepath.Join(t.TempDir(), "missing.yml"), config.DataTypeYAML)
	require.ErrorContains(t, err, "load rate limiters config")
}

func TestRegistry_WatchConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "ratelimiters.yml")
	writeCfg := func(limit string) {
		require.NoError(t, os.WriteFile(cfgPath, []byte(`
rateLimiter:
  limiters:
    backend:
      limitRefreshPeriod: 1s
      limitForPeriod: `+limit+"\n"), 0o600))
	}
	writeCfg("3")

	logger := logtest.NewRecorder()
	reg, err := NewRegistryWithOpts(DefaultConfig(), RegistryOpts{Logger: logger})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- reg.WatchConfigFile(ctx, cfgPath, "") }()

	require.Eventually(t, func() bool {
		rl, ok := reg.Find("backend")
		return ok && rl.Config().LimitForPeriod == 3
	}, time.Second*3, time.Millisecond*10)
	rl, _ := reg.Find("backend")

	// The watcher may start after the first write, so the file is rewritten until the change is seen.
	require.Eventually(t, func() bool {
		writeCfg("7")
		return rl.Config().LimitForPeriod == 7
	}, time.Second*5, time.Millisecond*200)
	_, found := logger.FindEntry("rate limiters config reloaded")
	require.True(t, found)

	writeCfg("invalid")
	require.Eventually(t, func() bool {
		_, found := logger.FindEntry("failed to reload rate limiters config")
		return found
	}, time.Second*5, time.Millisecond*20)
	require.Equal(t, 7, rl.Config().LimitForPeriod)

	cancel()
	require.NoError(t, <-watchDone)

	err = reg.WatchConfigFile(context.Background(), filepath.Join(t.TempDir(), "missing.yml"), config.DataTypeYAML)
	require.Error(t, err)
}
