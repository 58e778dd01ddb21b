/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// ErrContextKeyRateLimiter is a key of the error context that contains the name of the rate limiter
// that rejected the request.
const ErrContextKeyRateLimiter = "rateLimiter"

const (
	metricsSubsystem = "restapi"

	metricsLabelResponseErrorDomain      = "domain"
	metricsLabelResponseErrorCode        = "code"
	metricsLabelResponseErrorRateLimiter = "rate_limiter"
)

var registeredResponseErrorMetrics atomic.Pointer[ResponseErrorMetrics]

// ResponseErrorMetrics counts errors sent by RespondError.
// Errors are labeled with domain, code and the name of the rate limiter from the error context (if any).
type ResponseErrorMetrics struct {
	responseErrors *prometheus.CounterVec
}

// NewResponseErrorMetrics creates a new ResponseErrorMetrics.
func NewResponseErrorMetrics(namespace string) *ResponseErrorMetrics {
	return &ResponseErrorMetrics{
		responseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "response_errors_total",
			Help:      "The total number of REST API errors that were respond.",
		}, []string{
			metricsLabelResponseErrorDomain,
			metricsLabelResponseErrorCode,
			metricsLabelResponseErrorRateLimiter,
		}),
	}
}

// MustRegisterMetrics registers the counter in Prometheus and starts counting errors sent by RespondError.
// Only the last registered instance counts errors.
func (m *ResponseErrorMetrics) MustRegisterMetrics() {
	prometheus.MustRegister(m.responseErrors)
	registeredResponseErrorMetrics.Store(m)
}

// UnregisterMetrics stops counting errors and unregisters the counter.
func (m *ResponseErrorMetrics) UnregisterMetrics() {
	registeredResponseErrorMetrics.CompareAndSwap(m, nil)
	prometheus.Unregister(m.responseErrors)
}

// ResponseErrorsCounter returns the counter for the given labels.
func (m *ResponseErrorMetrics) ResponseErrorsCounter(domain, code, rateLimiter string) prometheus.Counter {
	return m.responseErrors.With(prometheus.Labels{
		metricsLabelResponseErrorDomain:      domain,
		metricsLabelResponseErrorCode:        code,
		metricsLabelResponseErrorRateLimiter: rateLimiter,
	})
}

func (m *ResponseErrorMetrics) observe(err *Error) {
	rateLimiter := ""
	if v, ok := err.Context[ErrContextKeyRateLimiter]; ok {
		rateLimiter = fmt.Sprint(v)
	}
	m.ResponseErrorsCounter(err.Domain, err.Code, rateLimiter).Inc()
}

func collectMetricsForError(err *Error) {
	if m := registeredResponseErrorMetrics.Load(); m != nil {
		m.observe(err)
	}
}
