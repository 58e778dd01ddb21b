/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-ratelimiter/log"
	"github.com/acronis/go-ratelimiter/ratelimiter"
	"github.com/acronis/go-ratelimiter/restapi"
)

// RateLimitErrCode is an error code that is used in a response body
// if the request is rejected by the middleware that limits the rate of HTTP requests.
const RateLimitErrCode = "tooManyRequests"

// RateLimitLogFieldKey is the name of the logged field that contains the name of the rate limiter.
const RateLimitLogFieldKey = "rate_limiter"

// StatusClientClosedRequest is a special HTTP status code used by Nginx to show that the client
// closed the request before the server could send a response.
const StatusClientClosedRequest = 499

const userAgentLogFieldKey = "user_agent"

// RateLimitParams contains data that relates to the rate limiting procedure
// and could be used for rejecting the request.
type RateLimitParams struct {
	ErrDomain           string
	ResponseStatusCode  int
	GetRetryAfter       RateLimitGetRetryAfterFunc
	RateLimiterName     string
	EstimatedRetryAfter time.Duration
	Err                 error
}

// RateLimitGetRetryAfterFunc is a function that is called to get a value for Retry-After response HTTP header
// when the rate limit is exceeded.
type RateLimitGetRetryAfterFunc func(r *http.Request, estimatedTime time.Duration) time.Duration

// RateLimitOnRejectFunc is a function that is called for rejecting HTTP request when the rate limit is exceeded.
type RateLimitOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger)

// RateLimitOpts represents an options for the RateLimit middleware.
type RateLimitOpts struct {
	// Permits is the number of permits acquired for every request. Default is 1.
	Permits int

	// ResponseStatusCode is the status code of the response for the rejected request.
	// Default is 503 (Service Unavailable).
	ResponseStatusCode int

	GetRetryAfter RateLimitGetRetryAfterFunc

	// DryRun enables the mode in which rejected requests are still served.
	// Requests never wait for permits in this mode.
	DryRun bool

	OnReject         RateLimitOnRejectFunc
	OnRejectInDryRun RateLimitOnRejectFunc
}

type rateLimitHandler struct {
	next           http.Handler
	limiter        *ratelimiter.RateLimiter
	permits        int
	errDomain      string
	respStatusCode int
	getRetryAfter  RateLimitGetRetryAfterFunc
	dryRun         bool
	onReject       RateLimitOnRejectFunc
}

// RateLimit is a middleware that serves the request only after the permit is acquired from the rate limiter.
// The request waits for the permit no longer than the timeout configured for the rate limiter.
func RateLimit(rl *ratelimiter.RateLimiter, errDomain string) func(next http.Handler) http.Handler {
	return MustRateLimitWithOpts(rl, errDomain, RateLimitOpts{GetRetryAfter: GetRetryAfterEstimatedTime})
}

// RateLimitWithOpts is a configurable version of a middleware to limit the rate of HTTP requests.
func RateLimitWithOpts(
	rl *ratelimiter.RateLimiter, errDomain string, opts RateLimitOpts,
) (func(next http.Handler) http.Handler, error) {
	permits := opts.Permits
	if permits == 0 {
		permits = 1
	}
	if permits < 0 {
		return nil, fmt.Errorf("%w, got %d", ratelimiter.ErrInvalidPermits, permits)
	}
	if limit := rl.Config().LimitForPeriod; permits > limit {
		return nil, fmt.Errorf("%w: %d > %d", ratelimiter.ErrPermitsExceedLimit, permits, limit)
	}

	respStatusCode := opts.ResponseStatusCode
	if respStatusCode == 0 {
		respStatusCode = http.StatusServiceUnavailable
	}

	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:           next,
			limiter:        rl,
			permits:        permits,
			errDomain:      errDomain,
			respStatusCode: respStatusCode,
			getRetryAfter:  opts.GetRetryAfter,
			dryRun:         opts.DryRun,
			onReject:       makeRateLimitOnRejectFunc(opts),
		}
	}, nil
}

// MustRateLimitWithOpts is a version of RateLimitWithOpts that panics if an error occurs.
func MustRateLimitWithOpts(rl *ratelimiter.RateLimiter, errDomain string, opts RateLimitOpts) func(next http.Handler) http.Handler {
	mw, err := RateLimitWithOpts(rl, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var err error
	if h.dryRun {
		err = h.limiter.AcquirePermissionsWithTimeout(r.Context(), h.permits, 0)
	} else {
		err = h.limiter.AcquirePermissions(r.Context(), h.permits)
	}
	if err == nil {
		h.next.ServeHTTP(rw, r)
		return
	}

	logger := GetLoggerFromContext(r.Context())
	if errors.Is(err, ratelimiter.ErrWaitInterrupted) {
		if logger != nil {
			logger.Warn("request was canceled while waiting for rate limiter permission",
				log.String(RateLimitLogFieldKey, h.limiter.Name()), log.Error(err))
		}
		rw.WriteHeader(StatusClientClosedRequest)
		return
	}

	h.onReject(rw, r, RateLimitParams{
		ErrDomain:           h.errDomain,
		ResponseStatusCode:  h.respStatusCode,
		GetRetryAfter:       h.getRetryAfter,
		RateLimiterName:     h.limiter.Name(),
		EstimatedRetryAfter: h.limiter.NanosToWait(),
		Err:                 err,
	}, h.next, logger)
}

// GetRetryAfterEstimatedTime returns estimated time after that the client may retry the request.
func GetRetryAfterEstimatedTime(_ *http.Request, estimatedTime time.Duration) time.Duration {
	return estimatedTime
}

// DefaultRateLimitOnReject sends HTTP response with the error in the restapi format when the rate limit is exceeded.
func DefaultRateLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, _ http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger = logger.With(
			log.String(RateLimitLogFieldKey, params.RateLimiterName),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	if params.GetRetryAfter != nil {
		retryAfter := params.GetRetryAfter(r, params.EstimatedRetryAfter)
		rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	apiErr := restapi.NewError(params.ErrDomain, RateLimitErrCode, "Too many requests.").
		AddContext(restapi.ErrContextKeyRateLimiter, params.RateLimiterName)
	restapi.RespondError(rw, params.ResponseStatusCode, apiErr, logger)
}

// DefaultRateLimitOnRejectInDryRun logs the rejection and serves the request anyway.
func DefaultRateLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.String(RateLimitLogFieldKey, params.RateLimiterName),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	next.ServeHTTP(rw, r)
}

func makeRateLimitOnRejectFunc(opts RateLimitOpts) RateLimitOnRejectFunc {
	if opts.DryRun {
		if opts.OnRejectInDryRun != nil {
			return opts.OnRejectInDryRun
		}
		return DefaultRateLimitOnRejectInDryRun
	}
	if opts.OnReject != nil {
		return opts.OnReject
	}
	return DefaultRateLimitOnReject
}
