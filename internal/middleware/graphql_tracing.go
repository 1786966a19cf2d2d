package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"taxonomy-graphql/internal/gqlrequest"
	"taxonomy-graphql/internal/logging"
	"taxonomy-graphql/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// GraphQLTracingMiddleware wraps execution in a graphql.execute span and adds
// trace and span IDs to the request logger. Only 5xx responses mark the span
// as failed; GraphQL errors are reported as an attribute.
func GraphQLTracingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			analysis := gqlrequest.AnalysisFromContext(r.Context())
			if analysis == nil || strings.TrimSpace(analysis.Envelope.Query) == "" {
				next.ServeHTTP(w, r)
				return
			}

			tracer := otel.Tracer("taxonomy-graphql/graphql")
			ctx, span := tracer.Start(r.Context(), "graphql.execute")
			defer span.End()
			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				reqLogger := logging.FromContext(ctx).WithFields(
					slog.String("trace_id", spanCtx.TraceID().String()),
					slog.String("span_id", spanCtx.SpanID().String()),
				)
				ctx = logging.WithLogger(ctx, reqLogger)
			}

			if span.IsRecording() {
				span.SetAttributes(observability.GraphQLSpanAttributes(analysis, logging.GetSubject(ctx))...)
				if err := analysis.Err(); err != nil {
					span.SetAttributes(attribute.String("graphql.request.error", err.Error()))
				}
			}

			rec := newCapturingResponseWriter(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			span.SetAttributes(
				attribute.Int("http.response.status_code", rec.statusCode),
				attribute.Bool("graphql.response.has_errors", rec.failed()),
			)
			if rec.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.statusCode))
			}
		})
	}
}
