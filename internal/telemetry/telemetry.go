/*
 * Copyright 2025 Canonical Ltd.
 * See LICENSE file for licensing details.
 */

// Package telemetry initializes OpenTelemetry logging, metrics, and
// tracing from the standard OTEL_* environment variables. See:
// https://opentelemetry.io/docs/specs/otel/configuration/sdk-environment-variables/
//
// Logging: set OTEL_LOGS_EXPORTER to otlp or console; when unset or
// "none", NewLogger falls back to plain slog output.
//
// Metrics: set OTEL_METRICS_EXPORTER to prometheus, otlp, or memory
// (default). The prometheus exporter serves a pull endpoint at
// OTEL_EXPORTER_PROMETHEUS_HOST:OTEL_EXPORTER_PROMETHEUS_PORT
// (default localhost:9464).
//
// Tracing: set OTEL_TRACES_EXPORTER=otlp; the OTLP endpoint and protocol
// come from the usual OTEL_EXPORTER_OTLP_* variables.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	logglobal "go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

var (
	mu            sync.Mutex
	started       bool
	shutdownFuncs []func(context.Context) error
	logger        = slog.Default()
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func exporterKind(signal string) string {
	return strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_" + signal + "_EXPORTER")))
}

// otlpProtocol returns the configured OTLP protocol for a signal,
// defaulting to grpc. A bare "http" means http/protobuf.
func otlpProtocol(signal string) string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_" + signal + "_PROTOCOL")))
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")))
	}
	switch v {
	case "":
		return "grpc"
	case "http":
		return "http/protobuf"
	}
	return v
}

func logsExporterEnabled() bool {
	switch exporterKind("LOGS") {
	case "console", "otlp":
		return true
	}
	return false
}

func newLoggerProvider(ctx context.Context, res *resource.Resource) error {
	kind := exporterKind("LOGS")

	var exp sdklog.Exporter
	var err error
	switch {
	case kind == "" || kind == "none":
		return nil
	case kind == "console":
		exp, err = stdoutlog.New()
	case kind == "otlp" && otlpProtocol("LOGS") == "grpc":
		exp, err = otlploggrpc.New(ctx)
	case kind == "otlp" && strings.HasPrefix(otlpProtocol("LOGS"), "http"):
		exp, err = otlploghttp.New(ctx)
	default:
		err = fmt.Errorf("unsupported logs exporter: %s/%s", kind, otlpProtocol("LOGS"))
	}
	if err != nil {
		return err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)
	logglobal.SetLoggerProvider(lp)
	shutdownFuncs = append(shutdownFuncs, lp.Shutdown)
	return nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource) error {
	kind := exporterKind("TRACES")

	var exp sdktrace.SpanExporter
	var err error
	switch {
	case kind == "" || kind == "none":
		return nil
	case kind == "otlp" && otlpProtocol("TRACES") == "grpc":
		exp, err = otlptracegrpc.New(ctx)
	case kind == "otlp" && strings.HasPrefix(otlpProtocol("TRACES"), "http"):
		exp, err = otlptracehttp.New(ctx)
	default:
		err = fmt.Errorf("unsupported traces exporter: %s/%s", kind, otlpProtocol("TRACES"))
	}
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	return nil
}

func startPrometheusServer() error {
	host := strings.TrimSpace(envOrDefault("OTEL_EXPORTER_PROMETHEUS_HOST", "localhost"))
	port := strings.TrimSpace(envOrDefault("OTEL_EXPORTER_PROMETHEUS_PORT", "9464"))
	addr := net.JoinHostPort(host, port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	shutdownFuncs = append(shutdownFuncs, srv.Shutdown)
	return nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource) error {
	kind := exporterKind("METRICS")

	var reader sdkmetric.Reader
	var err error
	switch {
	case kind == "" || kind == "none" || kind == "memory":
		reader = sdkmetric.NewManualReader()
	case kind == "prometheus":
		reader, err = prometheus.New(prometheus.WithoutScopeInfo())
		if err == nil {
			err = startPrometheusServer()
		}
	case kind == "otlp" && otlpProtocol("METRICS") == "grpc":
		var exp *otlpmetricgrpc.Exporter
		exp, err = otlpmetricgrpc.New(ctx)
		if err == nil {
			reader = sdkmetric.NewPeriodicReader(exp)
		}
	case kind == "otlp" && strings.HasPrefix(otlpProtocol("METRICS"), "http"):
		var exp *otlpmetrichttp.Exporter
		exp, err = otlpmetrichttp.New(ctx)
		if err == nil {
			reader = sdkmetric.NewPeriodicReader(exp)
		}
	default:
		err = fmt.Errorf("unsupported metrics exporter: %s/%s", kind, otlpProtocol("METRICS"))
	}
	if err != nil {
		return err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	return nil
}

// Start initializes the OpenTelemetry providers for logging, tracing, and
// metrics. Call it once at program start, before any NewLogger call that
// should use the OpenTelemetry bridge.
func Start(ctx context.Context, service, version string) error {
	mu.Lock()
	defer mu.Unlock()
	if started {
		return errors.New("telemetry already started")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithFromEnv(),
		resource.WithOS(),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	for _, setup := range []func(context.Context, *resource.Resource) error{
		newLoggerProvider,
		newTracerProvider,
		newMeterProvider,
	} {
		if err := setup(ctx, res); err != nil {
			shutdownLocked(ctx)
			return err
		}
	}

	logger = NewLogger("github.com/p12tic/buildbot/internal/telemetry")
	started = true
	return nil
}

// NewLogger creates a slog.Logger for the named component. When an
// OpenTelemetry logs exporter is configured, the logger is connected to
// the OpenTelemetry bridge; otherwise it is the default slog logger.
func NewLogger(name string) *slog.Logger {
	if logsExporterEnabled() {
		return otelslog.NewLogger(name)
	}
	return slog.Default()
}

// Shutdown flushes and stops every provider Start enabled. It is safe to
// call before Start and is idempotent.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	err := shutdownLocked(ctx)
	started = false
	return err
}

func shutdownLocked(ctx context.Context) error {
	var firstErr error
	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](ctx); err != nil {
			logger.ErrorContext(ctx, "telemetry shutdown error", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	shutdownFuncs = nil
	return firstErr
}
