package middleware

import (
	"errors"
	"net/http"

	"taxonomy-graphql/internal/gqlrequest"
	"taxonomy-graphql/internal/logging"
	"taxonomy-graphql/internal/observability"
)

// GraphQLRequestAnalysisMiddleware decodes and analyzes the GraphQL request once
// and stores derived metadata in request context for downstream middleware.
// Bodies above maxBodyBytes are rejected with 413; zero uses the gqlrequest default.
func GraphQLRequestAnalysisMiddleware(maxBodyBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			analysis := analyzeRequest(r, maxBodyBytes)
			if errors.Is(analysis.DecodeError, gqlrequest.ErrBodyTooLarge) {
				writeGraphQLError(w, http.StatusRequestEntityTooLarge, "request body too large", "BAD_REQUEST")
				return
			}
			ctx := gqlrequest.WithAnalysis(r.Context(), analysis)

			subject := logging.GetSubject(ctx)
			if fields := observability.GraphQLLogFields(ctx, analysis, subject); len(fields) > 0 {
				ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithFields(fields...))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func analyzeRequest(r *http.Request, maxBodyBytes int64) *gqlrequest.Analysis {
	env, err := gqlrequest.DecodeEnvelopeLimit(r, maxBodyBytes)
	analysis := gqlrequest.AnalyzeEnvelope(env)
	if err != nil {
		analysis.DecodeError = err
	}
	return analysis
}
