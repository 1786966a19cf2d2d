package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"taxonomy-graphql/internal/observability"
	"taxonomy-graphql/internal/permissions"
)

const (
	defaultAdminTokenHeader = "X-Admin-Token"
	adminTokenSubject       = "admin_token"
)

// AdminTokenAuthConfig controls shared-token authentication for admin endpoints.
type AdminTokenAuthConfig struct {
	Token      string
	HeaderName string
	// Operation labels admin access metrics, e.g. "seed".
	Operation string
	Metrics   *observability.SecurityMetrics
}

// AdminTokenAuthMiddleware validates a shared admin token from request headers.
// A valid token grants an admin permission checker.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig) (func(http.Handler) http.Handler, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("admin auth token is required")
	}
	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = defaultAdminTokenHeader
	}
	operation := cfg.Operation
	if operation == "" {
		operation = "admin"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get(headerName))
			ok := constantTimeTokenMatch(provided, token)
			if cfg.Metrics != nil {
				cfg.Metrics.RecordAdminEndpointAccess(r.Context(), operation, provided != "", ok)
			}
			if !ok {
				writeAdminUnauthorized(w)
				return
			}

			ctx := WithAuthContext(r.Context(), AuthContext{
				Subject: adminTokenSubject,
				Issuer:  adminTokenSubject,
				Claims: map[string]interface{}{
					"auth_method":                 adminTokenSubject,
					permissions.DefaultAdminClaim: true,
				},
			})
			ctx = permissions.WithChecker(ctx, permissions.NewSet(adminTokenSubject, true, nil))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func constantTimeTokenMatch(provided string, expected string) bool {
	providedDigest := sha256.Sum256([]byte(provided))
	expectedDigest := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(providedDigest[:], expectedDigest[:]) == 1
}

func writeAdminUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprint(w, `{"error":"unauthorized"}`)
}
