package observability

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taxonomy-graphql/internal/gqlrequest"
)

// GraphQLSpanAttributes builds span attributes from request analysis and the
// authenticated subject.
func GraphQLSpanAttributes(analysis *gqlrequest.Analysis, subject string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 10)
	if analysis != nil {
		if analysis.OperationName != "" {
			attrs = append(attrs, attribute.String("graphql.operation.name", analysis.OperationName))
		}
		if analysis.OperationType != "" {
			attrs = append(attrs, attribute.String("graphql.operation.type", analysis.OperationType))
		}
		if analysis.OperationHash != "" {
			attrs = append(attrs, attribute.String("graphql.operation.hash", analysis.OperationHash))
		}
		if analysis.Envelope.DocumentSizeBytes > 0 {
			attrs = append(attrs, attribute.Int("graphql.document.size_bytes", analysis.Envelope.DocumentSizeBytes))
		}
		if analysis.Operation != nil {
			attrs = append(attrs,
				attribute.Int("graphql.query.field_count", analysis.FieldCount),
				attribute.Int("graphql.query.depth", analysis.SelectionDepth),
			)
		}
		if len(analysis.RootFields) > 0 {
			attrs = append(attrs, attribute.StringSlice("graphql.root_fields", analysis.RootFields))
		}
		if total := totalBatchSize(analysis); total > 0 {
			attrs = append(attrs, attribute.Int("graphql.mutation.input_count", total))
		}
	}
	if subject != "" {
		attrs = append(attrs, attribute.String("auth.subject", subject))
	}
	return attrs
}

// GraphQLLogFields builds structured log fields from request analysis.
func GraphQLLogFields(ctx context.Context, analysis *gqlrequest.Analysis, subject string) []any {
	fields := make([]any, 0, 8)
	if analysis != nil {
		if analysis.OperationName != "" {
			fields = append(fields, slog.String("operation_name", analysis.OperationName))
		}
		if analysis.OperationType != "" {
			fields = append(fields, slog.String("operation_type", analysis.OperationType))
		}
		if analysis.OperationHash != "" {
			fields = append(fields, slog.String("operation_hash", analysis.OperationHash))
		}
		if analysis.IsMutation() && len(analysis.RootFields) > 0 {
			fields = append(fields, slog.String("mutation_fields", strings.Join(analysis.RootFields, ",")))
			fields = append(fields, slog.Int("mutation_inputs", totalBatchSize(analysis)))
		}
	}
	if subject != "" {
		fields = append(fields, slog.String("subject", subject))
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return fields
}

func totalBatchSize(analysis *gqlrequest.Analysis) int {
	total := 0
	for _, n := range analysis.BatchSizes {
		total += n
	}
	return total
}
