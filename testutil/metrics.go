/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertSamplesCountInCounter asserts that passed prometheus.Counter has proper value.
func AssertSamplesCountInCounter(t assert.TestingT, counter prometheus.Counter, wantCount int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	reg := prometheus.NewPedanticRegistry()
	if !assert.NoError(t, reg.Register(counter)) {
		return false
	}
	gotMetrics, err := reg.Gather()
	if !assert.NoError(t, err) {
		return false
	}
	if !assert.Equal(t, 1, len(gotMetrics)) {
		return false
	}
	return assert.Equal(t, wantCount, int(gotMetrics[0].GetMetric()[0].GetCounter().GetValue()))
}

// RequireSamplesCountInCounter calls AssertSamplesCountInCounter and fail test immediately in case of error.
func RequireSamplesCountInCounter(t require.TestingT, counter prometheus.Counter, wantCount int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if AssertSamplesCountInCounter(t, counter, wantCount) {
		return
	}
	t.FailNow()
}

// AssertMetricValue asserts that the collector exports a counter or gauge series
// with the given name and labels, and that the series has the wanted value.
func AssertMetricValue(
	t assert.TestingT, collector prometheus.Collector, name string, labels prometheus.Labels, wantValue float64,
) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	m, found, err := findMetric(collector, name, labels)
	if !assert.NoError(t, err) {
		return false
	}
	if !assert.True(t, found, "metric %s%v is not found", name, labels) {
		return false
	}
	switch {
	case m.GetGauge() != nil:
		return assert.Equal(t, wantValue, m.GetGauge().GetValue())
	case m.GetCounter() != nil:
		return assert.Equal(t, wantValue, m.GetCounter().GetValue())
	}
	return assert.Fail(t, fmt.Sprintf("metric %s%v is neither a gauge nor a counter", name, labels))
}

// RequireMetricValue calls AssertMetricValue and fail test immediately in case of error.
func RequireMetricValue(
	t require.TestingT, collector prometheus.Collector, name string, labels prometheus.Labels, wantValue float64,
) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if AssertMetricValue(t, collector, name, labels, wantValue) {
		return
	}
	t.FailNow()
}

// AssertNoMetric asserts that the collector doesn't export a series with the given name and labels.
func AssertNoMetric(t assert.TestingT, collector prometheus.Collector, name string, labels prometheus.Labels) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	_, found, err := findMetric(collector, name, labels)
	if !assert.NoError(t, err) {
		return false
	}
	return assert.False(t, found, "metric %s%v should not be exported", name, labels)
}

func findMetric(collector prometheus.Collector, name string, labels prometheus.Labels) (*dto.Metric, bool, error) {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(collector); err != nil {
		return nil, false, err
	}
	families, err := reg.Gather()
	if err != nil {
		return nil, false, err
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m, true, nil
			}
		}
	}
	return nil, false, nil
}

func labelsMatch(pairs []*dto.LabelPair, labels prometheus.Labels) bool {
	matched := 0
	for _, p := range pairs {
		want, ok := labels[p.GetName()]
		if !ok {
			continue
		}
		if want != p.GetValue() {
			return false
		}
		matched++
	}
	return matched == len(labels)
}
