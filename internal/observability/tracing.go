package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope reported on every span; the
// embedder's configured TracerProvider (or the global no-op default, when
// none is configured) determines where spans actually go.
const tracerName = "github.com/mediacore/pipelinecore/internal/router"

// Tracer returns the package's tracer from whatever TracerProvider is
// currently registered with otel. The core never configures a
// TracerProvider itself — only the embedder's main wires an exporter.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSessionSpan opens a span covering one realized session's lifetime,
// from realize through Close.
func StartSessionSpan(ctx context.Context, sessionID, manifestName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.manifest_name", manifestName),
		),
	)
}

// StartNodeSpan opens a span covering one node's Process call.
func StartNodeSpan(ctx context.Context, sessionID, nodeID, nodeType string, executorKind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "node.process",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("node.id", nodeID),
			attribute.String("node.type", nodeType),
			attribute.String("node.executor_kind", executorKind),
		),
	)
}

// EndSpan records err (if any) on span as its status before ending it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
