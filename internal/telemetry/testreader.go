/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

package telemetry

import (
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// TestMetricReader is an in-memory metric reader for inspecting metric
// changes during tests.
type TestMetricReader struct {
	*sdkmetric.ManualReader
}

var (
	testMetricReader      *TestMetricReader
	testMetricReaderMutex sync.Mutex
)

// AcquireTestMetricReader installs an in-memory meter provider and returns
// a reader over it. It serializes tests that inspect metrics;
// ReleaseTestMetricReader must be called when done.
func AcquireTestMetricReader(t *testing.T) *TestMetricReader {
	t.Helper()
	testMetricReaderMutex.Lock()
	if testMetricReader != nil {
		return testMetricReader
	}

	r := sdkmetric.NewManualReader(
		sdkmetric.WithTemporalitySelector(func(sdkmetric.InstrumentKind) metricdata.Temporality {
			return metricdata.DeltaTemporality
		}))
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(r)))

	testMetricReader = &TestMetricReader{ManualReader: r}
	testMetricReader.Collect(t)
	return testMetricReader
}

// ReleaseTestMetricReader releases the test metric reader lock.
func ReleaseTestMetricReader(t *testing.T) {
	t.Helper()
	testMetricReaderMutex.Unlock()
}

// Collect returns the accumulated metric changes and resets all counters.
func (m *TestMetricReader) Collect(t *testing.T) TestMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := m.ManualReader.Collect(t.Context(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return TestMetrics{ResourceMetrics: &rm}
}

// TestMetrics is a collected snapshot of metric data.
type TestMetrics struct {
	*metricdata.ResourceMetrics
}

// Counter returns the summed counter value matching name and attrs.
func (tm *TestMetrics) Counter(t *testing.T, name string, attrs ...attribute.KeyValue) float64 {
	t.Helper()

	var total float64
	for _, sm := range tm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if hasAttrs(dp.Attributes, attrs) {
						total += float64(dp.Value)
					}
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					if hasAttrs(dp.Attributes, attrs) {
						total += dp.Value
					}
				}
			}
		}
	}
	return total
}

// Gauge returns the last observed gauge value matching name and attrs.
func (tm *TestMetrics) Gauge(t *testing.T, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	var last int64
	for _, sm := range tm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if data, ok := m.Data.(metricdata.Gauge[int64]); ok {
				for _, dp := range data.DataPoints {
					if hasAttrs(dp.Attributes, attrs) {
						last = dp.Value
					}
				}
			}
		}
	}
	return last
}

func hasAttrs(set attribute.Set, want []attribute.KeyValue) bool {
	if len(want) == 0 {
		return true
	}
	got := set.ToSlice()
	for _, w := range want {
		found := false
		for _, g := range got {
			if g.Key == w.Key && g.Value == w.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
