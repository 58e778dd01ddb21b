/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-ratelimiter/config"
	"github.com/acronis/go-ratelimiter/httpserver/middleware"
	"github.com/acronis/go-ratelimiter/log"
	"github.com/acronis/go-ratelimiter/ratelimiter"
	"github.com/acronis/go-ratelimiter/restapi"
)

// DefaultErrorDomain is used in error responses of the management API if no other domain is specified.
const DefaultErrorDomain = "RateLimiter"

const (
	healthzEndpoint = "/healthz"
	metricsEndpoint = "/metrics"
)

var systemEndpoints = []string{healthzEndpoint, metricsEndpoint}

// ErrCodeRateLimiterNotFound is an error code that is used when the requested rate limiter is not registered.
const ErrCodeRateLimiterNotFound = "rateLimiterNotFound"

// ManagementRouterOpts represents options for creating the management router.
type ManagementRouterOpts struct {
	// ErrorDomain is used for error response formatting. DefaultErrorDomain is used if empty.
	ErrorDomain string

	// RootMiddlewares is a list of middlewares applied after the request id, logging and recovery ones.
	RootMiddlewares []func(http.Handler) http.Handler

	// Logging configures the logging middleware.
	// If Logging.ExcludedEndpoints is nil, successful /healthz and /metrics requests are not logged.
	Logging middleware.LoggingOpts

	// RequestID configures the request id middleware. xid is used for the ids by default.
	RequestID middleware.RequestIDOpts

	// HealthCheck is called in addition to the health check of the registry rate limiters.
	HealthCheck HealthCheck

	// MetricsHandler is a handler for the /metrics endpoint. promhttp.Handler() is used if nil.
	MetricsHandler http.Handler

	// EnableProfiling mounts pprof handlers under /debug.
	EnableProfiling bool
}

// RateLimitersResponse is a response of the "GET /ratelimiters" endpoint.
type RateLimitersResponse struct {
	RateLimiters []string `json:"rateLimiters"`
}

// RateLimiterConfigResponse is the configuration of the rate limiter with human-readable durations.
type RateLimiterConfigResponse struct {
	LimitRefreshPeriod config.TimeDuration `json:"limitRefreshPeriod"`
	LimitForPeriod     int                 `json:"limitForPeriod"`
	TimeoutDuration    config.TimeDuration `json:"timeoutDuration"`
}

// RateLimiterResponse is a response of the "GET /ratelimiters/{name}" endpoint.
type RateLimiterResponse struct {
	Name         string                    `json:"name"`
	Config       RateLimiterConfigResponse `json:"config"`
	Metrics      ratelimiter.Metrics       `json:"metrics"`
	HealthStatus string                    `json:"healthStatus"`
}

// RateLimiterEventsResponse is a response of the "GET /ratelimiters/{name}/events" endpoint.
type RateLimiterEventsResponse struct {
	RateLimiterEvents []ratelimiter.Event `json:"rateLimiterEvents"`
}

type managementHandler struct {
	registry    *ratelimiter.Registry
	errorDomain string
}

// NewManagementRouter creates a new chi.Router that exposes the state of the registry rate limiters:
//
//	GET /ratelimiters                 - names of the registered rate limiters
//	GET /ratelimiters/{name}          - configuration, metrics and health status of the rate limiter
//	GET /ratelimiters/{name}/events   - buffered events, "type" query parameter filters them by type
//	GET /healthz                      - health check of the rate limiters registered with the health indicator
//	GET /metrics                      - Prometheus metrics
//	GET /debug/pprof/...              - profiling data, only if EnableProfiling is set
func NewManagementRouter(reg *ratelimiter.Registry, logger log.FieldLogger, opts ManagementRouterOpts) chi.Router {
	errDomain := opts.ErrorDomain
	if errDomain == "" {
		errDomain = DefaultErrorDomain
	}
	h := &managementHandler{registry: reg, errorDomain: errDomain}

	loggingOpts := opts.Logging
	if loggingOpts.ExcludedEndpoints == nil {
		loggingOpts.ExcludedEndpoints = systemEndpoints
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestIDWithOpts(opts.RequestID),
		middleware.LoggingWithOpts(logger, loggingOpts),
		middleware.Recovery(errDomain),
	)
	router.Use(opts.RootMiddlewares...)

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(errDomain, restapi.ErrCodeNotFound, restapi.ErrMessageNotFound)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, middleware.GetLoggerFromContext(r.Context()))
	})
	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(errDomain, restapi.ErrCodeMethodNotAllowed, restapi.ErrMessageMethodNotAllowed)
		restapi.RespondError(rw, http.StatusMethodNotAllowed, apiErr, middleware.GetLoggerFromContext(r.Context()))
	})

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, metricsEndpoint, metricsHandler)
	router.Method(http.MethodGet, healthzEndpoint, NewHealthCheckHandler(combineHealthChecks(NewRegistryHealthCheck(reg), opts.HealthCheck)))

	if opts.EnableProfiling {
		router.Mount("/debug", chimiddleware.Profiler())
	}

	router.Route("/ratelimiters", func(r chi.Router) {
		r.Get("/", h.listRateLimiters)
		r.Get("/{name}", h.getRateLimiter)
		r.Get("/{name}/events", h.getRateLimiterEvents)
	})

	return router
}

func (h *managementHandler) listRateLimiters(rw http.ResponseWriter, r *http.Request) {
	restapi.RespondJSON(rw, RateLimitersResponse{RateLimiters: h.registry.Names()}, middleware.GetLoggerFromContext(r.Context()))
}

func (h *managementHandler) getRateLimiter(rw http.ResponseWriter, r *http.Request) {
	rl, ok := h.findRateLimiter(rw, r)
	if !ok {
		return
	}
	cfg := rl.Config()
	restapi.RespondJSON(rw, RateLimiterResponse{
		Name: rl.Name(),
		Config: RateLimiterConfigResponse{
			LimitRefreshPeriod: config.TimeDuration(cfg.LimitRefreshPeriod),
			LimitForPeriod:     cfg.LimitForPeriod,
			TimeoutDuration:    config.TimeDuration(cfg.TimeoutDuration),
		},
		Metrics:      rl.Metrics(),
		HealthStatus: rl.HealthStatus().String(),
	}, middleware.GetLoggerFromContext(r.Context()))
}

func (h *managementHandler) getRateLimiterEvents(rw http.ResponseWriter, r *http.Request) {
	rl, ok := h.findRateLimiter(rw, r)
	if !ok {
		return
	}
	events := []ratelimiter.Event{}
	if buf, hasBuf := h.registry.EventBuffer(rl.Name()); hasBuf {
		typeFilter := r.URL.Query().Get("type")
		for _, e := range buf.Events() {
			if typeFilter == "" || e.Type.String() == typeFilter {
				events = append(events, e)
			}
		}
	}
	restapi.RespondJSON(rw, RateLimiterEventsResponse{RateLimiterEvents: events}, middleware.GetLoggerFromContext(r.Context()))
}

func (h *managementHandler) findRateLimiter(rw http.ResponseWriter, r *http.Request) (*ratelimiter.RateLimiter, bool) {
	name := chi.URLParam(r, "name")
	rl, ok := h.registry.Find(name)
	if !ok {
		apiErr := restapi.NewError(h.errorDomain, ErrCodeRateLimiterNotFound, "Rate limiter is not found.").
			AddContext("name", name)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, middleware.GetLoggerFromContext(r.Context()))
		return nil, false
	}
	return rl, true
}

func combineHealthChecks(checks ...HealthCheck) HealthCheck {
	return func(ctx context.Context) (HealthCheckResult, error) {
		res := HealthCheckResult{}
		for _, check := range checks {
			if check == nil {
				continue
			}
			part, err := check(ctx)
			if err != nil {
				return nil, err
			}
			for name, status := range part {
				res[name] = status
			}
		}
		return res, nil
	}
}
