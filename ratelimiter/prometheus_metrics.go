/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsLabelRateLimiter = "rate_limiter"
	metricsLabelKind        = "kind"
)

const (
	metricsValSuccessful = "successful"
	metricsValFailed     = "failed"
)

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics exports rate limiter metrics to Prometheus.
// Gauges are computed on scrape from the attached rate limiters,
// calls are counted from acquisition events.
type PrometheusMetrics struct {
	CallsTotal *prometheus.CounterVec

	availablePermits  *prometheus.Desc
	waitingGoroutines *prometheus.Desc

	mu       sync.RWMutex
	attached map[*RateLimiter]*Subscription
}

var _ prometheus.Collector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	callsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   opts.Namespace,
		Name:        "rate_limiter_calls_total",
		Help:        "Number of permission acquisitions and reservations by outcome.",
		ConstLabels: opts.ConstLabels,
	}, []string{metricsLabelRateLimiter, metricsLabelKind})

	return &PrometheusMetrics{
		CallsTotal: callsTotal,
		availablePermits: prometheus.NewDesc(
			prometheus.BuildFQName(opts.Namespace, "", "rate_limiter_available_permits"),
			"Number of permits available in the current cycle, negative value means reserved permits.",
			[]string{metricsLabelRateLimiter}, opts.ConstLabels,
		),
		waitingGoroutines: prometheus.NewDesc(
			prometheus.BuildFQName(opts.Namespace, "", "rate_limiter_waiting_goroutines"),
			"Number of goroutines waiting for a reserved permit.",
			[]string{metricsLabelRateLimiter}, opts.ConstLabels,
		),
		attached: make(map[*RateLimiter]*Subscription),
	}
}

// Attach starts exporting metrics of the rate limiter.
func (pm *PrometheusMetrics) Attach(rl *RateLimiter) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, ok := pm.attached[rl]; ok {
		return
	}
	successful := pm.CallsTotal.With(prometheus.Labels{metricsLabelRateLimiter: rl.Name(), metricsLabelKind: metricsValSuccessful})
	failed := pm.CallsTotal.With(prometheus.Labels{metricsLabelRateLimiter: rl.Name(), metricsLabelKind: metricsValFailed})
	pm.attached[rl] = rl.EventPublisher().Subscribe(func(e Event) {
		if e.Type == EventTypeSuccessfulAcquire {
			successful.Inc()
			return
		}
		failed.Inc()
	})
}

// Detach stops exporting metrics of the rate limiter and deletes its series.
func (pm *PrometheusMetrics) Detach(rl *RateLimiter) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	sub, ok := pm.attached[rl]
	if !ok {
		return
	}
	sub.Unsubscribe()
	delete(pm.attached, rl)
	pm.CallsTotal.DeletePartialMatch(prometheus.Labels{metricsLabelRateLimiter: rl.Name()})
}

// AttachRegistry exports metrics of all rate limiters of the registry, including the ones created later.
func (pm *PrometheusMetrics) AttachRegistry(reg *Registry) {
	reg.OnCreate(pm.Attach)
	reg.OnRemove(pm.Detach)
}

// Describe implements prometheus.Collector interface.
func (pm *PrometheusMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- pm.availablePermits
	ch <- pm.waitingGoroutines
	pm.CallsTotal.Describe(ch)
}

// Collect implements prometheus.Collector interface.
func (pm *PrometheusMetrics) Collect(ch chan<- prometheus.Metric) {
	pm.mu.RLock()
	for rl := range pm.attached {
		m := rl.Metrics()
		ch <- prometheus.MustNewConstMetric(
			pm.availablePermits, prometheus.GaugeValue, float64(m.AvailablePermits), rl.Name())
		ch <- prometheus.MustNewConstMetric(
			pm.waitingGoroutines, prometheus.GaugeValue, float64(m.NumberOfWaitingGoroutines), rl.Name())
	}
	pm.mu.RUnlock()
	pm.CallsTotal.Collect(ch)
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm)
}
