/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient provides an http.RoundTripper that limits the rate of outgoing requests with ratelimiter.RateLimiter.
package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-ratelimiter/ratelimiter"
)

// RateLimitingRoundTripperAdaptation represents params to adapt the limit for period to the value in the response header.
type RateLimitingRoundTripperAdaptation struct {
	// ResponseHeaderName is a name of the response header with the number of requests
	// the server accepts per limit refresh period. Adaptation is disabled if it's empty.
	ResponseHeaderName string

	// SlackPercent is a percent by which the limit from the response is decreased.
	SlackPercent int
}

// RateLimitingRoundTripperOpts represents options for RateLimitingRoundTripper.
type RateLimitingRoundTripperOpts struct {
	// WaitTimeout is the maximum time to wait for a permit.
	// If it's zero, the timeout duration of the rate limiter is used.
	WaitTimeout time.Duration

	Adaptation RateLimitingRoundTripperAdaptation
}

// RateLimitingRoundTripper wraps implementing http.RoundTripper interface object
// and provides adaptive (can use limit from response's HTTP header) rate limiting mechanism for outgoing requests.
type RateLimitingRoundTripper struct {
	Delegate    http.RoundTripper
	RateLimiter *ratelimiter.RateLimiter

	// RateLimit is the limit for period of the rate limiter at the moment of construction.
	// Adaptation never raises the limit above it.
	RateLimit   int
	WaitTimeout time.Duration
	Adaptation  RateLimitingRoundTripperAdaptation
}

// NewRateLimitingRoundTripper creates a new RateLimitingRoundTripper that takes one permit of rl per request.
func NewRateLimitingRoundTripper(delegate http.RoundTripper, rl *ratelimiter.RateLimiter) (*RateLimitingRoundTripper, error) {
	return NewRateLimitingRoundTripperWithOpts(delegate, rl, RateLimitingRoundTripperOpts{})
}

// NewRateLimitingRoundTripperWithOpts creates a new RateLimitingRoundTripper with options.
func NewRateLimitingRoundTripperWithOpts(
	delegate http.RoundTripper, rl *ratelimiter.RateLimiter, opts RateLimitingRoundTripperOpts,
) (*RateLimitingRoundTripper, error) {
	if rl == nil {
		return nil, fmt.Errorf("rate limiter must be specified")
	}
	if opts.WaitTimeout < 0 {
		return nil, fmt.Errorf("wait timeout must not be negative")
	}
	if opts.Adaptation.SlackPercent < 0 || opts.Adaptation.SlackPercent > 100 {
		return nil, fmt.Errorf("slack percent must be in range [0..100]")
	}
	return &RateLimitingRoundTripper{
		Delegate:    delegate,
		RateLimiter: rl,
		RateLimit:   rl.Config().LimitForPeriod,
		WaitTimeout: opts.WaitTimeout,
		Adaptation:  opts.Adaptation,
	}, nil
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
// The request is sent only after a permit is acquired, otherwise *RateLimitingWaitError is returned.
func (rt *RateLimitingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	waitTimeout := rt.WaitTimeout
	if waitTimeout == 0 {
		waitTimeout = rt.RateLimiter.Config().TimeoutDuration
	}
	if err := rt.RateLimiter.AcquirePermissionsWithTimeout(r.Context(), 1, waitTimeout); err != nil {
		if r.Body != nil {
			_ = r.Body.Close() // Per RoundTripper contract.
		}
		return nil, &RateLimitingWaitError{RateLimiterName: rt.RateLimiter.Name(), Inner: err}
	}

	resp, err := rt.Delegate.RoundTrip(r)
	if err != nil {
		return resp, err
	}

	if rt.Adaptation.ResponseHeaderName != "" {
		rt.updateRateLimitIfNeeded(rt.getRateLimitFromResponse(resp))
	}

	return resp, nil
}

func (rt *RateLimitingRoundTripper) getRateLimitFromResponse(resp *http.Response) int {
	respLimitStr := resp.Header.Get(rt.Adaptation.ResponseHeaderName)
	if respLimitStr == "" {
		return 0
	}

	respLimit, err := strconv.Atoi(respLimitStr)
	if err != nil || respLimit < 0 {
		return 0
	}

	respLimit = (respLimit * (100 - rt.Adaptation.SlackPercent)) / 100
	if respLimit == 0 {
		return 1 // One request per period instead of stopping at all.
	}
	return respLimit
}

func (rt *RateLimitingRoundTripper) updateRateLimitIfNeeded(newRateLimit int) {
	// No header in the last response means the server doesn't limit us anymore, the initial limit is restored.
	if newRateLimit == 0 || newRateLimit > rt.RateLimit {
		newRateLimit = rt.RateLimit
	}
	if rt.RateLimiter.Config().LimitForPeriod != newRateLimit {
		_ = rt.RateLimiter.ChangeLimitForPeriod(newRateLimit) // newRateLimit is always positive.
	}
}

// RateLimitingWaitError is returned in RoundTrip method of RateLimitingRoundTripper when the permit is not acquired.
type RateLimitingWaitError struct {
	RateLimiterName string
	Inner           error
}

func (e *RateLimitingWaitError) Error() string {
	return fmt.Sprintf("wait due to client side rate limiting (rate limiter %q): %s", e.RateLimiterName, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RateLimitingWaitError) Unwrap() error {
	return e.Inner
}
