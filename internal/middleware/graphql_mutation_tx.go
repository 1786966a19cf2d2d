package middleware

import (
	"log/slog"
	"net/http"

	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/gqlrequest"
	"taxonomy-graphql/internal/logging"
)

// MutationTransactionMiddleware opens one transaction per GraphQL mutation
// request. It relies on the request analysis stored by
// GraphQLRequestAnalysisMiddleware. Each mutation field runs under its own
// savepoint (see dbexec.RunInTx), so a failed field does not undo the others.
func MutationTransactionMiddleware(executor dbexec.QueryExecutor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if executor == nil {
				next.ServeHTTP(w, r)
				return
			}

			analysis := gqlrequest.AnalysisFromContext(r.Context())
			if !analysis.IsMutation() {
				next.ServeHTTP(w, r)
				return
			}

			tx, err := executor.BeginTx(r.Context())
			if err != nil {
				logging.FromContext(r.Context()).Error("failed to start mutation transaction",
					slog.String("error", err.Error()),
				)
				writeGraphQLError(w, http.StatusInternalServerError, "failed to start transaction", "database_save_error")
				return
			}

			mc := dbexec.NewMutationContext(tx)
			ctx := dbexec.WithMutationContext(r.Context(), mc)

			defer func() {
				if rec := recover(); rec != nil {
					mc.MarkError()
					_ = mc.Finalize()
					panic(rec)
				}
				rolledBack := mc.HasError()
				if err := mc.Finalize(); err != nil {
					logging.FromContext(ctx).Error("mutation transaction finalize failed",
						slog.String("error", err.Error()),
					)
					return
				}
				if rolledBack {
					logging.FromContext(ctx).Warn("mutation transaction rolled back")
				}
			}()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
