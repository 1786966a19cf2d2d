package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"taxonomy-graphql/internal/apierrors"
	"taxonomy-graphql/internal/mutation"
)

const meterName = "taxonomy-graphql"

// GraphQLMetrics holds custom metrics for GraphQL operations
type GraphQLMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	queryDepth      metric.Int64Histogram
}

// InitGraphQLMetrics initializes GraphQL-specific metrics
func InitGraphQLMetrics() (*GraphQLMetrics, error) {
	meter := otel.Meter(meterName)
	m := &GraphQLMetrics{}
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"graphql.request.duration",
		metric.WithDescription("Duration of GraphQL requests in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}
	if m.requestCounter, err = meter.Int64Counter(
		"graphql.requests.total",
		metric.WithDescription("Total number of GraphQL requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	if m.errorCounter, err = meter.Int64Counter(
		"graphql.errors.total",
		metric.WithDescription("Total number of GraphQL requests that returned errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	if m.activeRequests, err = meter.Int64UpDownCounter(
		"graphql.requests.active",
		metric.WithDescription("Number of active GraphQL requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}
	if m.queryDepth, err = meter.Int64Histogram(
		"graphql.query.depth",
		metric.WithDescription("Selection depth of GraphQL operations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query depth histogram: %w", err)
	}
	return m, nil
}

// RecordRequest records a GraphQL request with its duration and outcome
func (m *GraphQLMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, operationType string) {
	attrs := metric.WithAttributes(
		attribute.String("operation_type", operationType),
		attribute.Bool("has_errors", hasErrors),
	)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.requestCounter.Add(ctx, 1, attrs)
	if hasErrors {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation_type", operationType)))
	}
}

// RecordQueryDepth records the depth of a GraphQL query
func (m *GraphQLMetrics) RecordQueryDepth(ctx context.Context, depth int64, operationType string) {
	m.queryDepth.Record(ctx, depth, metric.WithAttributes(
		attribute.String("operation_type", operationType),
	))
}

// IncrementActiveRequests increments the active requests counter
func (m *GraphQLMetrics) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *GraphQLMetrics) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1)
}

// MutationMetrics records bulk mutation batches. It implements
// mutation.Metrics.
type MutationMetrics struct {
	batches      metric.Int64Counter
	batchSize    metric.Int64Histogram
	duration     metric.Float64Histogram
	rejectedRows metric.Int64Counter
}

var _ mutation.Metrics = (*MutationMetrics)(nil)

// InitMutationMetrics creates the mutation instruments.
func InitMutationMetrics() (*MutationMetrics, error) {
	meter := otel.Meter(meterName + "/mutation")
	m := &MutationMetrics{}
	var err error

	if m.batches, err = meter.Int64Counter(
		"taxonomy.mutation.batches.total",
		metric.WithDescription("Mutation batches by entity, family and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create mutation batch counter: %w", err)
	}
	if m.batchSize, err = meter.Int64Histogram(
		"taxonomy.mutation.batch.size",
		metric.WithDescription("Number of inputs per mutation batch"),
	); err != nil {
		return nil, fmt.Errorf("failed to create mutation batch size histogram: %w", err)
	}
	if m.duration, err = meter.Float64Histogram(
		"taxonomy.mutation.batch.duration",
		metric.WithDescription("Duration of mutation batches in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create mutation duration histogram: %w", err)
	}
	if m.rejectedRows, err = meter.Int64Counter(
		"taxonomy.mutation.rejected_rows.total",
		metric.WithDescription("Row errors reported by mutation validation"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rejected rows counter: %w", err)
	}
	return m, nil
}

// RecordBatch implements mutation.Metrics.
func (m *MutationMetrics) RecordBatch(ctx context.Context, entity string, family mutation.Family, size int, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("family", string(family)),
		attribute.String("outcome", outcome),
	)
	m.batches.Add(ctx, 1, attrs)
	m.batchSize.Record(ctx, int64(size), attrs)
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordRejectedRow implements mutation.Metrics.
func (m *MutationMetrics) RecordRejectedRow(ctx context.Context, entity string, family mutation.Family, code apierrors.Code) {
	m.rejectedRows.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("family", string(family)),
		attribute.String("code", string(code)),
	))
}

// InitMetrics initializes all custom metrics and returns the GraphQLMetrics instance
func InitMetrics(logger *slog.Logger) (*GraphQLMetrics, error) {
	metrics, err := InitGraphQLMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GraphQL metrics: %w", err)
	}
	logger.Info("custom GraphQL metrics initialized")
	return metrics, nil
}

type graphQLMetricsContextKey struct{}

// ContextWithGraphQLMetrics stores GraphQL metrics in the provided context.
func ContextWithGraphQLMetrics(ctx context.Context, metrics *GraphQLMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, graphQLMetricsContextKey{}, metrics)
}

// GraphQLMetricsFromContext retrieves GraphQL metrics from the context.
func GraphQLMetricsFromContext(ctx context.Context) *GraphQLMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(graphQLMetricsContextKey{}).(*GraphQLMetrics)
	return metrics
}
