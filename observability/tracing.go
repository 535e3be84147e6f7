package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a new span with the given name using the tracer provider
// already attached to ctx, so the SDK joins whatever trace the host
// application is running.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return trace.SpanFromContext(ctx).TracerProvider().
		Tracer("github.com/Ash-D3v/GyanMitra").
		Start(ctx, name, opts...)
}
