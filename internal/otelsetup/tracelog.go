// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package otelsetup

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceHandler wraps a slog.Handler. Records logged under an active span get
// trace.id and span.id attributes, and records at or above the event level
// are also added to the span as events so that skipped or failed operations
// show up in the trace of a reconciliation.
type TraceHandler struct {
	inner      slog.Handler
	eventLevel slog.Level
}

// NewTraceHandler returns a TraceHandler that copies warnings and errors to
// the active span.
func NewTraceHandler(inner slog.Handler) *TraceHandler {
	return &TraceHandler{inner: inner, eventLevel: slog.LevelWarn}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, record slog.Record) error {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if !sc.IsValid() {
		return h.inner.Handle(ctx, record)
	}

	if record.Level >= h.eventLevel && span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, record.NumAttrs()+1)
		attrs = append(attrs, attribute.String("log.severity", record.Level.String()))
		record.Attrs(func(a slog.Attr) bool {
			attrs = append(attrs, attribute.String(a.Key, a.Value.String()))
			return true
		})
		span.AddEvent(record.Message, trace.WithAttributes(attrs...))
	}

	record.AddAttrs(
		slog.String("trace.id", sc.TraceID().String()),
		slog.String("span.id", sc.SpanID().String()),
	)
	return h.inner.Handle(ctx, record)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{inner: h.inner.WithAttrs(attrs), eventLevel: h.eventLevel}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{inner: h.inner.WithGroup(name), eventLevel: h.eventLevel}
}
