package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics counts authentication, admin access and permission claim
// outcomes. A nil *SecurityMetrics records nothing.
type SecurityMetrics struct {
	authAttempts          metric.Int64Counter
	authFailures          metric.Int64Counter
	authSuccesses         metric.Int64Counter
	adminEndpointAccess   metric.Int64Counter
	unauthorizedAttempts  metric.Int64Counter
	tokenValidationErrors metric.Int64Counter
	claimRejections       metric.Int64Counter
}

// InitSecurityMetrics creates the security counters on the global meter provider.
func InitSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter(meterName + "/security")
	m := &SecurityMetrics{}

	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&m.authAttempts, "security.auth.attempts.total", "Bearer token authentication attempts"},
		{&m.authFailures, "security.auth.failures.total", "Failed bearer token authentications"},
		{&m.authSuccesses, "security.auth.successes.total", "Successful bearer token authentications"},
		{&m.adminEndpointAccess, "security.admin.access.total", "Admin endpoint calls such as taxonomy seeding"},
		{&m.unauthorizedAttempts, "security.unauthorized.attempts.total", "Requests rejected as unauthorized"},
		{&m.tokenValidationErrors, "security.token.validation_errors.total", "Tokens that failed signature or claim validation"},
		{&m.claimRejections, "security.permission_claims.rejections.total", "Verified tokens whose admin or org permission claims were malformed"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}
	return m, nil
}

func (m *SecurityMetrics) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAuthAttempt counts a request that presented credentials.
func (m *SecurityMetrics) RecordAuthAttempt(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.add(ctx, m.authAttempts, attribute.String("endpoint", endpoint))
}

func (m *SecurityMetrics) RecordAuthFailure(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.authFailures, attribute.String("endpoint", endpoint), attribute.String("reason", reason))
}

func (m *SecurityMetrics) RecordAuthSuccess(ctx context.Context, endpoint, issuer string) {
	if m == nil {
		return
	}
	m.add(ctx, m.authSuccesses, attribute.String("endpoint", endpoint), attribute.String("issuer", issuer))
}

// RecordAdminEndpointAccess counts admin calls by operation, e.g. "seed".
func (m *SecurityMetrics) RecordAdminEndpointAccess(ctx context.Context, operation string, authenticated bool, success bool) {
	if m == nil {
		return
	}
	m.add(ctx, m.adminEndpointAccess,
		attribute.String("operation", operation),
		attribute.Bool("authenticated", authenticated),
		attribute.Bool("success", success),
	)
}

func (m *SecurityMetrics) RecordUnauthorizedAttempt(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.unauthorizedAttempts, attribute.String("endpoint", endpoint), attribute.String("reason", reason))
}

func (m *SecurityMetrics) RecordTokenValidationError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.add(ctx, m.tokenValidationErrors, attribute.String("error_type", errorType))
}

// RecordClaimRejection counts a verified token refused for malformed
// permission claims. claim is the offending claim name.
func (m *SecurityMetrics) RecordClaimRejection(ctx context.Context, claim string) {
	if m == nil {
		return
	}
	m.add(ctx, m.claimRejections, attribute.String("claim", claim))
}
