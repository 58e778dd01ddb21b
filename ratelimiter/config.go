/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"time"
)

// Default configuration values.
const (
	DefaultLimitRefreshPeriod = time.Nanosecond * 500
	DefaultLimitForPeriod     = 50
	DefaultTimeoutDuration    = time.Second * 5
)

// Config is an immutable configuration of the rate limiter.
// Use NewConfig to get a validated instance; RateLimiter never mutates a Config, it replaces it.
type Config struct {
	// LimitRefreshPeriod is the duration of one cycle. Permits are refreshed at the start of every cycle.
	LimitRefreshPeriod time.Duration `mapstructure:"limitRefreshPeriod" yaml:"limitRefreshPeriod" json:"limitRefreshPeriod"`

	// LimitForPeriod is the number of permits available during one cycle.
	LimitForPeriod int `mapstructure:"limitForPeriod" yaml:"limitForPeriod" json:"limitForPeriod"`

	// TimeoutDuration is the default time a caller may wait for a permit.
	TimeoutDuration time.Duration `mapstructure:"timeoutDuration" yaml:"timeoutDuration" json:"timeoutDuration"`
}

// NewConfig creates a new validated Config.
func NewConfig(limitRefreshPeriod time.Duration, limitForPeriod int, timeoutDuration time.Duration) (Config, error) {
	cfg := Config{
		LimitRefreshPeriod: limitRefreshPeriod,
		LimitForPeriod:     limitForPeriod,
		TimeoutDuration:    timeoutDuration,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustConfig is a version of NewConfig that panics if the configuration is invalid.
func MustConfig(limitRefreshPeriod time.Duration, limitForPeriod int, timeoutDuration time.Duration) Config {
	cfg, err := NewConfig(limitRefreshPeriod, limitForPeriod, timeoutDuration)
	if err != nil {
		panic(err)
	}
	return cfg
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LimitRefreshPeriod: DefaultLimitRefreshPeriod,
		LimitForPeriod:     DefaultLimitForPeriod,
		TimeoutDuration:    DefaultTimeoutDuration,
	}
}

// Validate checks that all fields of the configuration have acceptable values.
func (c Config) Validate() error {
	if c.LimitRefreshPeriod <= 0 {
		return &ConfigError{Field: "limitRefreshPeriod", Value: c.LimitRefreshPeriod, Reason: "should be positive"}
	}
	if c.LimitForPeriod <= 0 {
		return &ConfigError{Field: "limitForPeriod", Value: c.LimitForPeriod, Reason: "should be positive"}
	}
	if c.TimeoutDuration < 0 {
		return &ConfigError{Field: "timeoutDuration", Value: c.TimeoutDuration, Reason: "should not be negative"}
	}
	return nil
}

func (c Config) withLimitForPeriod(limit int) Config {
	c.LimitForPeriod = limit
	return c
}

func (c Config) withTimeoutDuration(timeout time.Duration) Config {
	c.TimeoutDuration = timeout
	return c
}
