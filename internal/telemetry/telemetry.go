// Package telemetry wraps the session lifecycle in otel spans, the same way
// an agent executor wraps tool execution with spans around each call — no
// exporter is configured, so these spans are no-ops unless a process
// embedding this module wires up an SDK pipeline, but the call shape matches
// production instrumentation exactly.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("daq-session")

// StartSpan opens a span named op carrying the given attributes, returning a
// context to propagate and a finish func the caller defers.
func StartSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}
