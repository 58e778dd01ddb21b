/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/acronis/go-ratelimiter/log"
)

// LimiterSettings contains the configuration of a rate limiter managed by Registry
// together with registry-level options.
type LimiterSettings struct {
	Config

	// RegisterHealthIndicator determines whether the rate limiter takes part in the health check.
	RegisterHealthIndicator bool `mapstructure:"registerHealthIndicator" yaml:"registerHealthIndicator" json:"registerHealthIndicator"`

	// EventConsumerBufferSize is the number of latest events kept for the rate limiter.
	// Zero disables buffering.
	EventConsumerBufferSize int `mapstructure:"eventConsumerBufferSize" yaml:"eventConsumerBufferSize" json:"eventConsumerBufferSize"`
}

// RegistryOpts represents options for the Registry.
type RegistryOpts struct {
	// Logger is used by the registry and passed to all created rate limiters.
	Logger log.FieldLogger

	// Clock is passed to all created rate limiters.
	Clock Clock

	// EventQueueSize is passed to all created rate limiters.
	EventQueueSize int

	// EventConsumerBufferSize is used for rate limiters created without explicit settings.
	EventConsumerBufferSize int
}

type registryEntry struct {
	limiter         *RateLimiter
	healthIndicator bool
	eventBuffer     *EventBuffer
	bufferSub       *Subscription
}

// Registry is a name to RateLimiter mapping. The same name always resolves to the same instance
// until it is removed from the registry.
type Registry struct {
	opts RegistryOpts

	mu            sync.RWMutex
	defaultConfig Config
	entries       map[string]*registryEntry
	createHooks   []func(rl *RateLimiter)
	removeHooks   []func(rl *RateLimiter)
}

// NewRegistry creates a new Registry. Rate limiters created without explicit configuration use defaultConfig.
func NewRegistry(defaultConfig Config) (*Registry, error) {
	return NewRegistryWithOpts(defaultConfig, RegistryOpts{})
}

// NewRegistryWithOpts is a configurable version of NewRegistry.
func NewRegistryWithOpts(defaultConfig Config, opts RegistryOpts) (*Registry, error) {
	if err := defaultConfig.Validate(); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	if opts.EventConsumerBufferSize < 0 {
		return nil, fmt.Errorf("event consumer buffer size should not be negative, got %d", opts.EventConsumerBufferSize)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Registry{
		opts:          opts,
		defaultConfig: defaultConfig,
		entries:       make(map[string]*registryEntry),
	}, nil
}

// DefaultConfig returns the configuration used for rate limiters created without explicit one.
func (r *Registry) DefaultConfig() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultConfig
}

// RateLimiter returns the rate limiter with the given name, creating it with the default configuration if needed.
func (r *Registry) RateLimiter(name string) *RateLimiter {
	if rl, ok := r.Find(name); ok {
		return rl
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rl, _ := r.getOrCreateLocked(name, LimiterSettings{
		Config:                  r.defaultConfig,
		EventConsumerBufferSize: r.opts.EventConsumerBufferSize,
	}) // Error is always nil here, the default config is validated.
	return rl
}

// RateLimiterWithConfig returns the rate limiter with the given name, creating it with cfg if needed.
// If the rate limiter already exists, cfg is ignored.
func (r *Registry) RateLimiterWithConfig(name string, cfg Config) (*RateLimiter, error) {
	return r.RateLimiterWithSettings(name, LimiterSettings{
		Config:                  cfg,
		EventConsumerBufferSize: r.opts.EventConsumerBufferSize,
	})
}

// RateLimiterWithSettings returns the rate limiter with the given name, creating it with settings if needed.
// If the rate limiter already exists, settings are ignored.
func (r *Registry) RateLimiterWithSettings(name string, settings LimiterSettings) (*RateLimiter, error) {
	if rl, ok := r.Find(name); ok {
		return rl, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(name, settings)
}

// Find returns the rate limiter with the given name if it exists.
func (r *Registry) Find(name string) (*RateLimiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.limiter, true
	}
	return nil, false
}

// Remove removes the rate limiter from the registry and cancels all its event subscriptions.
// It returns false if there is no rate limiter with such name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	hooks := append([]func(rl *RateLimiter){}, r.removeHooks...)
	r.mu.Unlock()
	if !ok {
		return false
	}

	for _, hook := range hooks {
		hook(e.limiter)
	}
	e.limiter.eventPublisher.close()
	r.opts.Logger.Info("rate limiter removed from registry", log.String("rate_limiter", name))
	return true
}

// Names returns sorted names of all registered rate limiters.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered rate limiters sorted by name.
func (r *Registry) All() []*RateLimiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*RateLimiter, 0, len(r.entries))
	for _, e := range r.entries {
		res = append(res, e.limiter)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name() < res[j].Name() })
	return res
}

// EventBuffer returns the buffer with the latest events of the rate limiter.
// The second value is false if the rate limiter doesn't exist or its events are not buffered.
func (r *Registry) EventBuffer(name string) (*EventBuffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.eventBuffer == nil {
		return nil, false
	}
	return e.eventBuffer, true
}

// OnCreate registers a hook that is called for every registered rate limiter and for every one created later.
// Hooks are called with the registry lock held, so they must not call Registry methods.
func (r *Registry) OnCreate(hook func(rl *RateLimiter)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createHooks = append(r.createHooks, hook)
	for _, e := range r.entries {
		hook(e.limiter)
	}
}

// OnRemove registers a hook that is called for every rate limiter removed from the registry.
func (r *Registry) OnRemove(hook func(rl *RateLimiter)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeHooks = append(r.removeHooks, hook)
}

// ApplyConfig brings the registry in line with the loaded configuration.
// Missing rate limiters are created. For existing ones the limit for period and the timeout are changed
// in place, so waiting callers and reserved permits are kept. A changed refresh period
// cannot be applied to a live rate limiter and is reported in the returned error.
// Rate limiters that are absent in the configuration are left untouched.
func (r *Registry) ApplyConfig(cfg *RegistryConfig) error {
	if err := cfg.Default.Validate(); err != nil {
		return fmt.Errorf("default config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.defaultConfig = cfg.Default

	var errs []error
	for _, name := range cfg.LimiterNames() {
		settings := cfg.Limiters[name]
		e, ok := r.entries[name]
		if !ok {
			if _, err := r.getOrCreateLocked(name, settings); err != nil {
				errs = append(errs, fmt.Errorf("create rate limiter %q: %w", name, err))
			}
			continue
		}
		if err := r.updateEntryLocked(e, settings); err != nil {
			errs = append(errs, fmt.Errorf("update rate limiter %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) updateEntryLocked(e *registryEntry, settings LimiterSettings) error {
	cur := e.limiter.Config()
	if settings.LimitRefreshPeriod != cur.LimitRefreshPeriod {
		return fmt.Errorf("limit refresh period cannot be changed from %s to %s without recreation",
			cur.LimitRefreshPeriod, settings.LimitRefreshPeriod)
	}
	if settings.LimitForPeriod != cur.LimitForPeriod {
		if err := e.limiter.ChangeLimitForPeriod(settings.LimitForPeriod); err != nil {
			return err
		}
	}
	if settings.TimeoutDuration != cur.TimeoutDuration {
		if err := e.limiter.ChangeTimeoutDuration(settings.TimeoutDuration); err != nil {
			return err
		}
	}
	e.healthIndicator = settings.RegisterHealthIndicator
	if settings.EventConsumerBufferSize != bufferCap(e.eventBuffer) {
		if e.bufferSub != nil {
			e.bufferSub.Unsubscribe()
		}
		e.eventBuffer, e.bufferSub = attachEventBuffer(e.limiter, settings.EventConsumerBufferSize)
	}
	return nil
}

func (r *Registry) getOrCreateLocked(name string, settings LimiterSettings) (*RateLimiter, error) {
	if e, ok := r.entries[name]; ok {
		return e.limiter, nil
	}
	if settings.EventConsumerBufferSize < 0 {
		return nil, fmt.Errorf("event consumer buffer size should not be negative, got %d",
			settings.EventConsumerBufferSize)
	}
	rl, err := NewRateLimiterWithOpts(name, settings.Config, Opts{
		Clock:          r.opts.Clock,
		Logger:         r.opts.Logger,
		EventQueueSize: r.opts.EventQueueSize,
	})
	if err != nil {
		return nil, err
	}
	e := &registryEntry{limiter: rl, healthIndicator: settings.RegisterHealthIndicator}
	e.eventBuffer, e.bufferSub = attachEventBuffer(rl, settings.EventConsumerBufferSize)
	r.entries[name] = e

	for _, hook := range r.createHooks {
		hook(rl)
	}
	r.opts.Logger.Info("rate limiter created",
		log.String("rate_limiter", name),
		log.Duration("limit_refresh_period", settings.LimitRefreshPeriod),
		log.Int("limit_for_period", settings.LimitForPeriod),
		log.Duration("timeout_duration", settings.TimeoutDuration),
	)
	return rl, nil
}

func attachEventBuffer(rl *RateLimiter, size int) (*EventBuffer, *Subscription) {
	if size <= 0 {
		return nil, nil
	}
	buf := NewEventBuffer(size)
	return buf, rl.EventPublisher().Subscribe(buf.Consume)
}

func bufferCap(b *EventBuffer) int {
	if b == nil {
		return 0
	}
	return b.Cap()
}
