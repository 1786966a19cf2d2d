package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"taxonomy-graphql/internal/logging"
	"taxonomy-graphql/internal/observability"
	"taxonomy-graphql/internal/permissions"
)

// PermissionsConfig names the token claims carrying capabilities.
type PermissionsConfig struct {
	AdminClaim          string
	OrgPermissionsClaim string
	// Metrics counts rejected claims; nil disables.
	Metrics *observability.SecurityMetrics
}

// PermissionsMiddleware resolves the caller's permission checker from the
// verified claims. Unauthenticated requests carry no checker, so mutations
// fail as unauthorized while reads proceed.
func PermissionsMiddleware(cfg PermissionsConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, authenticated := AuthFromContext(r.Context())
			if !authenticated {
				next.ServeHTTP(w, r)
				return
			}

			checker, err := permissions.FromClaims(authCtx.Subject, authCtx.Claims, cfg.AdminClaim, cfg.OrgPermissionsClaim)
			if err != nil {
				cfg.Metrics.RecordClaimRejection(r.Context(), permissions.ClaimName(err))
				logging.FromContext(r.Context()).Warn("rejecting malformed permission claims",
					slog.String("subject", authCtx.Subject),
					slog.String("error", err.Error()),
				)
				writeGraphQLError(w, http.StatusForbidden, "invalid permission claims", "FORBIDDEN")
				return
			}

			logging.FromContext(r.Context()).Debug("permissions resolved",
				slog.String("subject", authCtx.Subject),
				slog.Bool("admin", checker.IsAdmin()),
				slog.Any("organizations", checker.Organizations()),
			)
			ctx := permissions.WithChecker(r.Context(), checker)
			ctx = logging.WithSubjectContext(ctx, authCtx.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeGraphQLError(w http.ResponseWriter, status int, message string, code string) {
	payload := map[string]any{
		"errors": []map[string]any{
			{
				"message": message,
				"extensions": map[string]any{
					"code": code,
				},
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
