// Package tracing installs a process-wide otel TracerProvider and exposes a
// thin span-start helper for the session service's command handlers.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	otelattr "go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "boardsim/service"

// Install sets up a default (exporter-less) TracerProvider. Callers defer
// the returned shutdown func.
func Install() func(context.Context) error {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Start begins a span named name, returning the derived context and the
// span so the caller can set attributes/status and End it.
func Start(ctx context.Context, name string, attrs ...attribute) (context.Context, trace.Span) {
	tr := otel.Tracer(instrumentationName)
	ctx, span := tr.Start(ctx, name)
	for _, a := range attrs {
		a(span)
	}
	return ctx, span
}

// attribute adapts a key/value pair into a func that sets it on a span,
// letting callers write tracing.Start(ctx, "run-ticks", tracing.Int("session_id", id)).
type attribute func(trace.Span)

func String(key, value string) attribute {
	return func(s trace.Span) { s.SetAttributes(otelattr.String(key, value)) }
}

func Int(key string, value int) attribute {
	return func(s trace.Span) { s.SetAttributes(otelattr.Int(key, value)) }
}
