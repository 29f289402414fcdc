/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 *
 * Unit tests for the master metrics.
 */

package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"

	"github.com/p12tic/buildbot/internal/buildrequests"
	"github.com/p12tic/buildbot/internal/telemetry"
)

func TestRequestStateGauge(t *testing.T) {
	mr := telemetry.AcquireTestMetricReader(t)
	defer telemetry.ReleaseTestMetricReader(t)

	store := &fakeStore{counts: buildrequests.StateCounts{
		Unclaimed: 3,
		Claimed:   2,
		Completed: 7,
	}}
	NewMetrics(store)

	m := mr.Collect(t)

	assert.Equal(t, int64(3), m.Gauge(t, requestStateMetricName, attribute.String("state", "unclaimed")))
	assert.Equal(t, int64(2), m.Gauge(t, requestStateMetricName, attribute.String("state", "claimed")))
	assert.Equal(t, int64(7), m.Gauge(t, requestStateMetricName, attribute.String("state", "completed")))
}

func TestObserveCounters(t *testing.T) {
	mr := telemetry.AcquireTestMetricReader(t)
	defer telemetry.ReleaseTestMetricReader(t)

	metrics := NewMetrics(&fakeStore{})
	ctx := t.Context()

	metrics.ObserveConsumedCommand(ctx, "claim")
	metrics.ObserveConsumedCommand(ctx, "claim")
	metrics.ObserveConsumedCommand(ctx, "new")
	metrics.ObserveCommandError(ctx)
	metrics.ObserveDiscardedCommand(ctx)

	m := mr.Collect(t)
	assert.Equal(t, 3.0, m.Counter(t, consumedCommandsMetricName))
	assert.Equal(t, 2.0, m.Counter(t, consumedCommandsMetricName, attribute.String("action", "claim")))
	assert.Equal(t, 1.0, m.Counter(t, commandErrorsMetricName))
	assert.Equal(t, 1.0, m.Counter(t, discardedCommandsMetricName))
}
