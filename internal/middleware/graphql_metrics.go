package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"taxonomy-graphql/internal/gqlrequest"
	"taxonomy-graphql/internal/observability"
)

const unknownOperationType = "unknown"

// GraphQLMetricsMiddleware records request count, latency, active requests and
// selection depth for GraphQL POSTs. A request counts as failed when the
// status is 4xx/5xx or the response body carries GraphQL errors.
func GraphQLMetricsMiddleware(metrics *observability.GraphQLMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// GraphiQL page loads are not operations.
			if metrics == nil || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := observability.ContextWithGraphQLMetrics(r.Context(), metrics)
			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)

			analysis := gqlrequest.AnalysisFromContext(ctx)
			opType := operationTypeOf(analysis)

			start := time.Now()
			rec := newCapturingResponseWriter(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			metrics.RecordRequest(ctx, time.Since(start), rec.failed(), opType)
			if analysis != nil && analysis.Operation != nil {
				metrics.RecordQueryDepth(ctx, int64(analysis.SelectionDepth), opType)
			}
		})
	}
}

func operationTypeOf(analysis *gqlrequest.Analysis) string {
	if analysis == nil || analysis.OperationType == "" {
		return unknownOperationType
	}
	return analysis.OperationType
}

// capturingResponseWriter also buffers the body so GraphQL errors returned
// with a 200 status can be detected.
type capturingResponseWriter struct {
	responseWriter
	body bytes.Buffer
}

func newCapturingResponseWriter(w http.ResponseWriter) *capturingResponseWriter {
	return &capturingResponseWriter{
		responseWriter: responseWriter{ResponseWriter: w, statusCode: http.StatusOK},
	}
}

func (w *capturingResponseWriter) Write(b []byte) (int, error) {
	_, _ = w.body.Write(b)
	return w.responseWriter.Write(b)
}

func (w *capturingResponseWriter) failed() bool {
	return w.statusCode >= http.StatusBadRequest || responseHasGraphQLErrors(w.body.Bytes())
}

func responseHasGraphQLErrors(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return false
	}
	var payload struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return len(payload.Errors) > 0
}
