// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry tracing helpers and
// trace-correlated logging for the flowdom analyses.
//
// Library packages only use the global otel API; without Init every span and
// instrument is a no-op. Binaries call Init to install SDK providers.
//
// # Environment Variables
//
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP gRPC endpoint (default: localhost:4317)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: none)
//   - FLOWDOM_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrNilContext is returned when Init is called with a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config configures the telemetry stack.
type Config struct {
	// ServiceName identifies the process in exported spans.
	ServiceName string

	// ServiceVersion is the version of the binary.
	ServiceVersion string

	// Environment is the deployment environment name.
	Environment string

	// TraceExporter is "otlp", "stdout", or "none".
	TraceExporter string

	// OTLPEndpoint is the OTLP gRPC receiver for traces (host:port).
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// MetricExporter is "prometheus", "stdout", or "none".
	MetricExporter string

	// Writer receives stdout exporter output. Default: os.Stderr.
	Writer io.Writer
}

// DefaultConfig returns defaults, honoring OTEL_TRACES_EXPORTER and
// FLOWDOM_ENV.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "flowdom",
		ServiceVersion: "1.0.0",
		Environment:    getEnvOr("FLOWDOM_ENV", "development"),
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", "none"),
		Writer:         os.Stderr,
	}
}

// Init installs global TracerProvider and MeterProvider instances according
// to cfg.
//
// Outputs:
//
//	shutdown - Flushes and stops the providers. Must be called on exit.
//	error - Non-nil if ctx is nil or an exporter is unknown.
//
// Example:
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// Thread Safety: Call once at application startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	tp, err := initTracer(ctx, cfg, writer, res)
	if err != nil {
		return nil, err
	}
	mp, err := initMeter(cfg.MetricExporter, writer, res)
	if err != nil {
		if tp != nil {
			_ = tp.Shutdown(ctx)
		}
		return nil, err
	}

	if tp != nil {
		otel.SetTracerProvider(tp)
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
	}

	return func(ctx context.Context) error {
		var errs []error
		if tp != nil {
			if err := tp.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
			}
		}
		if mp != nil {
			if err := mp.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown meter: %w", err))
			}
		}
		return errors.Join(errs...)
	}, nil
}

// initTracer returns nil when tracing is disabled.
func initTracer(ctx context.Context, cfg Config, writer io.Writer, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	switch cfg.TraceExporter {
	case "", "none":
		return nil, nil

	case "otlp":
		// The gRPC connection is established lazily on first export.
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		return sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		), nil

	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		return sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		), nil

	default:
		return nil, fmt.Errorf("%w: trace exporter %s", ErrUnknownExporter, cfg.TraceExporter)
	}
}

// initMeter returns nil when metrics export is disabled.
func initMeter(exporterName string, writer io.Writer, res *resource.Resource) (*metric.MeterProvider, error) {
	switch exporterName {
	case "", "none":
		return nil, nil

	case "prometheus":
		// Registers with the default prometheus registry, next to the
		// promauto collectors.
		exporter, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(exporter),
		), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(writer), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: metric exporter %s", ErrUnknownExporter, exporterName)
	}
}

var (
	metricsHandler     http.Handler
	metricsHandlerOnce sync.Once
)

// MetricsHandler returns the HTTP handler for the /metrics endpoint. It
// serves the default prometheus registry, which holds the promauto
// collectors and, with the prometheus exporter, the OTel instruments.
//
// Thread Safety: Safe for concurrent use.
func MetricsHandler() http.Handler {
	metricsHandlerOnce.Do(func() {
		metricsHandler = promhttp.Handler()
	})
	return metricsHandler
}

// getEnvOr returns the environment variable value or the fallback.
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
