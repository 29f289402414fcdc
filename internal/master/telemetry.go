/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 *
 * OpenTelemetry metrics for the master command consumer.
 */

package master

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/p12tic/buildbot/internal/buildrequests"
	"github.com/p12tic/buildbot/internal/telemetry"
)

const (
	consumedCommandsMetricName  = "buildbot_master_commands_consumed"
	commandErrorsMetricName     = "buildbot_master_command_errors"
	discardedCommandsMetricName = "buildbot_master_commands_discarded"
	requestStateMetricName      = "buildbot_master_buildrequests"
)

var (
	pkg    = "github.com/p12tic/buildbot/internal/master"
	tracer = otel.Tracer(pkg)
	logger = telemetry.NewLogger(pkg)
)

// must is a helper function that panics if an error is encountered, else
// returns the object.
func must[T any](obj T, err error) T {
	if err != nil {
		panic(err)
	}
	return obj
}

// StateCounter is the store subset the metrics gauge reads.
type StateCounter interface {
	StateCounts() buildrequests.StateCounts
}

// Metrics encapsulates all OpenTelemetry metrics for the master service.
type Metrics struct {
	store StateCounter
	meter metric.Meter

	consumedCommands  metric.Int64Counter
	commandErrors     metric.Int64Counter
	discardedCommands metric.Int64Counter
	requestStateGauge metric.Int64ObservableGauge
}

// NewMetrics initializes the master metrics and registers the build
// request state gauge.
func NewMetrics(store StateCounter) *Metrics {
	m := &Metrics{
		store: store,
		meter: otel.Meter(pkg),
	}

	m.consumedCommands = must(
		m.meter.Int64Counter(
			consumedCommandsMetricName,
			metric.WithDescription("command messages applied to the build request store"),
			metric.WithUnit("{command}"),
		),
	)
	m.commandErrors = must(
		m.meter.Int64Counter(
			commandErrorsMetricName,
			metric.WithDescription("command messages that failed with a transient error"),
			metric.WithUnit("{error}"),
		),
	)
	m.discardedCommands = must(
		m.meter.Int64Counter(
			discardedCommandsMetricName,
			metric.WithDescription("command messages discarded as malformed or conflicting"),
			metric.WithUnit("{command}"),
		),
	)
	m.requestStateGauge = must(
		m.meter.Int64ObservableGauge(
			requestStateMetricName,
			metric.WithDescription("build requests currently in the store, by lifecycle state"),
			metric.WithUnit("{buildrequest}"),
		),
	)

	must(m.meter.RegisterCallback(m.collectRequestStates, m.requestStateGauge))
	return m
}

// collectRequestStates observes per-state request counts. The store read
// is cheap; metrics scraping typically occurs every 5-60 seconds.
func (m *Metrics) collectRequestStates(ctx context.Context, observer metric.Observer) error {
	counts := m.store.StateCounts()
	for state, value := range map[string]int{
		"unclaimed": counts.Unclaimed,
		"claimed":   counts.Claimed,
		"completed": counts.Completed,
	} {
		observer.ObserveInt64(
			m.requestStateGauge,
			int64(value),
			metric.WithAttributes(attribute.String("state", state)),
		)
	}
	return nil
}

// ObserveConsumedCommand records a successfully applied command.
func (m *Metrics) ObserveConsumedCommand(ctx context.Context, action string) {
	m.consumedCommands.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// ObserveCommandError records a transient command handling failure.
func (m *Metrics) ObserveCommandError(ctx context.Context) {
	m.commandErrors.Add(ctx, 1)
}

// ObserveDiscardedCommand records a command discarded without effect.
func (m *Metrics) ObserveDiscardedCommand(ctx context.Context) {
	m.discardedCommands.Add(ctx, 1)
}
