/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/acronis/go-ratelimiter/config"
)

const cfgDefaultKeyPrefix = "rateLimiter"

const (
	cfgKeyDefault                 = "default"
	cfgKeyLimiters                = "limiters"
	cfgKeyLimitRefreshPeriod      = "limitRefreshPeriod"
	cfgKeyLimitForPeriod          = "limitForPeriod"
	cfgKeyTimeoutDuration         = "timeoutDuration"
	cfgKeyRegisterHealthIndicator = "registerHealthIndicator"
	cfgKeyEventConsumerBufferSize = "eventConsumerBufferSize"
)

// RegistryConfig represents a set of configuration parameters for the Registry.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader.
//
// Example of YAML configuration:
//
//	rateLimiter:
//	  default:
//	    limitRefreshPeriod: 1s
//	    limitForPeriod: 50
//	    timeoutDuration: 5s
//	  limiters:
//	    backend-a:
//	      limitForPeriod: 10
//	      timeoutDuration: 0s
//	      registerHealthIndicator: true
//	      eventConsumerBufferSize: 100
//
// Parameters that are not specified for a rate limiter are taken from the "default" section.
// Rate limiter names are case-insensitive and are stored in lower case.
type RegistryConfig struct {
	Default  Config                     `mapstructure:"default" yaml:"default" json:"default"`
	Limiters map[string]LimiterSettings `mapstructure:"limiters" yaml:"limiters" json:"limiters"`

	keyPrefix string
}

var _ config.Config = (*RegistryConfig)(nil)
var _ config.KeyPrefixProvider = (*RegistryConfig)(nil)

// RegistryConfigOption is a type for functional options for the RegistryConfig.
type RegistryConfigOption func(*registryConfigOptions)

type registryConfigOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a RegistryConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) RegistryConfigOption {
	return func(o *registryConfigOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewRegistryConfig creates a new instance of the RegistryConfig.
func NewRegistryConfig(options ...RegistryConfigOption) *RegistryConfig {
	opts := registryConfigOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &RegistryConfig{keyPrefix: opts.keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *RegistryConfig) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for rate limiters in config.DataProvider.
// Implements config.Config interface.
func (c *RegistryConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyDefault+"."+cfgKeyLimitRefreshPeriod, DefaultLimitRefreshPeriod)
	dp.SetDefault(cfgKeyDefault+"."+cfgKeyLimitForPeriod, DefaultLimitForPeriod)
	dp.SetDefault(cfgKeyDefault+"."+cfgKeyTimeoutDuration, DefaultTimeoutDuration)
}

// Set sets rate limiters configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *RegistryConfig) Set(dp config.DataProvider) error {
	defaultDP := config.NewKeyPrefixedDataProvider(dp, cfgKeyDefault)
	defaultCfg, err := readLimiterConfig(defaultDP, DefaultConfig())
	if err != nil {
		return err
	}
	if err = defaultCfg.Validate(); err != nil {
		return dp.WrapKeyErr(cfgKeyDefault, err)
	}
	c.Default = defaultCfg

	var rawLimiters map[string]interface{}
	if err = dp.UnmarshalKey(cfgKeyLimiters, &rawLimiters); err != nil {
		return err
	}
	c.Limiters = make(map[string]LimiterSettings, len(rawLimiters))
	for name := range rawLimiters {
		name = strings.ToLower(name)
		limiterKey := cfgKeyLimiters + "." + name
		limiterDP := config.NewKeyPrefixedDataProvider(dp, limiterKey)

		var settings LimiterSettings
		if settings.Config, err = readLimiterConfig(limiterDP, c.Default); err != nil {
			return err
		}
		if err = settings.Config.Validate(); err != nil {
			return dp.WrapKeyErr(limiterKey, err)
		}
		if settings.RegisterHealthIndicator, err = limiterDP.GetBool(cfgKeyRegisterHealthIndicator); err != nil {
			return err
		}
		if settings.EventConsumerBufferSize, err = limiterDP.GetInt(cfgKeyEventConsumerBufferSize); err != nil {
			return err
		}
		if settings.EventConsumerBufferSize < 0 {
			return limiterDP.WrapKeyErr(cfgKeyEventConsumerBufferSize, fmt.Errorf("should be >= 0"))
		}
		c.Limiters[name] = settings
	}
	return nil
}

// LimiterNames returns sorted names of the configured rate limiters.
func (c *RegistryConfig) LimiterNames() []string {
	names := make([]string, 0, len(c.Limiters))
	for name := range c.Limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// readLimiterConfig reads the rate limiter config, taking the fields that are not set from base.
func readLimiterConfig(dp config.DataProvider, base Config) (Config, error) {
	cfg := base
	var err error
	if dp.IsSet(cfgKeyLimitRefreshPeriod) {
		if cfg.LimitRefreshPeriod, err = dp.GetDuration(cfgKeyLimitRefreshPeriod); err != nil {
			return Config{}, err
		}
	}
	if dp.IsSet(cfgKeyLimitForPeriod) {
		if cfg.LimitForPeriod, err = dp.GetInt(cfgKeyLimitForPeriod); err != nil {
			return Config{}, err
		}
	}
	if dp.IsSet(cfgKeyTimeoutDuration) {
		if cfg.TimeoutDuration, err = dp.GetDuration(cfgKeyTimeoutDuration); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
