// tracing.go - OpenTelemetry spans for requests and store calls.
//
// Spans go to whatever TracerProvider the server was configured with; the
// default is the global provider, a no-op unless the binary installs one.
package server

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "user-records/internal/server"

// startRequestSpan opens the span covering one routed request.
func (s *Server) startRequestSpan(ctx context.Context, route string, req *Request, connID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("connection.id", connID),
		),
	)
}

// endRequestSpan records the status and closes the span.
func endRequestSpan(span trace.Span, resp Response) {
	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	if resp.Status >= 500 {
		span.SetStatus(codes.Error, resp.Body)
	}
	span.End()
}

// traceStore wraps one store call in a client span.
func (s *Server) traceStore(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "postgresql")),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		if isStoreFailure(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	return err
}
