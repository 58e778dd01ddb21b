/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import "context"

// Execute calls fn after one permit is acquired with the configured timeout.
// If the permit is not acquired, fn is not called and *RequestNotPermittedError is returned.
func Execute(ctx context.Context, rl *RateLimiter, fn func(ctx context.Context) error) error {
	if err := rl.AcquirePermissions(ctx, 1); err != nil {
		return &RequestNotPermittedError{RateLimiterName: rl.Name(), Err: err}
	}
	return fn(ctx)
}

// Decorate returns a function that calls fn through Execute.
func Decorate(rl *RateLimiter, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return Execute(ctx, rl, fn)
	}
}
