// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package otelsetup provides logging and OpenTelemetry bootstrap helpers.
package otelsetup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options configures Setup.
type Options struct {
	ServiceName    string
	ServiceVersion string

	// ExportByDefault enables OTLP export for a signal whose
	// OTEL_TRACES_EXPORTER or OTEL_METRICS_EXPORTER variable is unset. When
	// false, such a signal is not exported.
	ExportByDefault bool
}

// Setup initializes OpenTelemetry tracing and metrics. Exporters are selected
// with the standard OTEL_TRACES_EXPORTER and OTEL_METRICS_EXPORTER variables
// ("otlp", "console", "prometheus" or "none") and configured with the other
// OTEL_* variables. When metrics are exported, Go runtime and host metrics
// are collected too.
//
// It returns a shutdown function that flushes and stops the providers. It
// should be deferred by the caller.
func Setup(ctx context.Context, opts Options) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error

	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if fnErr := fn(ctx); fnErr != nil {
				errs = append(errs, fnErr)
			}
		}
		return errors.Join(errs...)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return shutdown, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if enabled("OTEL_TRACES_EXPORTER", opts.ExportByDefault) {
		spanExporter, err := autoexport.NewSpanExporter(ctx)
		if err != nil {
			return shutdown, fmt.Errorf("creating span exporter: %w", err)
		}
		if !autoexport.IsNoneSpanExporter(spanExporter) {
			tracerProvider := sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(spanExporter),
				sdktrace.WithResource(res),
			)
			shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
			otel.SetTracerProvider(tracerProvider)
		}
	}

	if enabled("OTEL_METRICS_EXPORTER", opts.ExportByDefault) {
		reader, err := autoexport.NewMetricReader(ctx)
		if err != nil {
			return shutdown, fmt.Errorf("creating metric reader: %w", err)
		}
		if !autoexport.IsNoneMetricReader(reader) {
			meterProvider := metric.NewMeterProvider(
				metric.WithReader(reader),
				metric.WithResource(res),
			)
			shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
			otel.SetMeterProvider(meterProvider)

			if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
				return shutdown, fmt.Errorf("starting runtime metrics: %w", err)
			}
			if err := host.Start(host.WithMeterProvider(meterProvider)); err != nil {
				return shutdown, fmt.Errorf("starting host metrics: %w", err)
			}
		}
	}

	return shutdown, nil
}

// enabled reports whether a signal should be set up.
func enabled(envVar string, byDefault bool) bool {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return byDefault
	}
	return v != "none"
}

// NewLogger creates a slog.Logger with trace context integration. format is
// "json" or "text"; anything else selects JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(NewTraceHandler(h))
}

// ParseLevel parses debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}
