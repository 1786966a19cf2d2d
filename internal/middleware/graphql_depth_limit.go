package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"taxonomy-graphql/internal/gqlrequest"
	"taxonomy-graphql/internal/logging"
)

// GraphQLDepthLimitMiddleware rejects operations whose selection depth exceeds
// maxDepth. It reads the analysis stored by GraphQLRequestAnalysisMiddleware;
// a non-positive maxDepth disables the check.
func GraphQLDepthLimitMiddleware(maxDepth int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxDepth <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			analysis := gqlrequest.AnalysisFromContext(r.Context())
			if analysis != nil && analysis.SelectionDepth > maxDepth {
				logging.FromContext(r.Context()).Warn("rejecting query above depth limit",
					slog.Int("depth", analysis.SelectionDepth),
					slog.Int("max_depth", maxDepth),
				)
				writeGraphQLError(w, http.StatusBadRequest,
					fmt.Sprintf("query depth %d exceeds limit %d", analysis.SelectionDepth, maxDepth),
					"QUERY_TOO_DEEP")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
