/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned (wrapped into *ConfigError) when a rate limiter configuration is invalid.
var ErrInvalidConfig = errors.New("invalid rate limiter configuration")

// ErrRequestNotPermitted is returned when the permit cannot be acquired within the timeout.
var ErrRequestNotPermitted = errors.New("request not permitted")

// ErrWaitInterrupted is returned when the context is done while the caller waits for the reserved permit.
// The reserved permit is not returned to the limiter.
var ErrWaitInterrupted = errors.New("interrupted while waiting for permission")

// ErrPermitsExceedLimit is returned when more permits than the limit for period are requested at once.
var ErrPermitsExceedLimit = errors.New("requested permits exceed limit for period")

// ErrInvalidPermits is returned when the number of requested permits is not positive.
var ErrInvalidPermits = errors.New("number of permits should be positive")

// ConfigError describes an invalid field of the rate limiter configuration.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

// Error returns a string representation of the configuration error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s, got %v", ErrInvalidConfig, e.Field, e.Reason, e.Value)
}

// Unwrap returns ErrInvalidConfig, so errors.Is(err, ErrInvalidConfig) works.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// RequestNotPermittedError is returned by Execute and Decorate when the rate limiter rejects the call.
type RequestNotPermittedError struct {
	RateLimiterName string
	Err             error
}

func (e *RequestNotPermittedError) Error() string {
	return fmt.Sprintf("rate limiter %q does not permit further calls: %v", e.RateLimiterName, e.Err)
}

// Unwrap returns the underlying acquisition error.
func (e *RequestNotPermittedError) Unwrap() error {
	return e.Err
}
