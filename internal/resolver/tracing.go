package resolver

import (
	"context"

	"taxonomy-graphql/internal/apierrors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taxonomy-graphql/resolver"

func startResolverSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// finishResolverSpan tags the outcome. Caller mistakes (bad cursor, row
// validation) are "rejected" and leave the span status unset; only internal
// failures mark the span as an error.
func finishResolverSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	class := errorClass(err)
	outcome := "success"
	switch class {
	case "":
	case "internal":
		outcome = "error"
	default:
		outcome = "rejected"
	}
	span.SetAttributes(attribute.String("graphql.resolver.outcome", outcome))
	if err == nil {
		return
	}
	span.SetAttributes(
		attribute.String("graphql.error.class", class),
		attribute.String("graphql.error.code", errorCode(err)),
	)
	span.RecordError(err)
	if class == "internal" {
		span.SetStatus(codes.Error, err.Error())
	}
}

// setRejectedRows records how many input rows a failed batch rejected.
func setRejectedRows(span trace.Span, err error) {
	if span == nil {
		return
	}
	if coll, ok := apierrors.AsCollection(err); ok {
		span.SetAttributes(attribute.Int("graphql.mutation.rejected_rows", coll.Len()))
	}
}

func errorClass(err error) string {
	if err == nil {
		return ""
	}
	if _, ok := apierrors.AsCollection(err); ok {
		return "validation"
	}
	if apiErr, ok := apierrors.AsAPIError(err); ok {
		if apiErr.HasIndex() {
			return "validation"
		}
		if apiErr.Code == apierrors.CodeDatabaseSaveError {
			return "internal"
		}
		return "request"
	}
	return "internal"
}

func errorCode(err error) string {
	if apiErr, ok := apierrors.AsAPIError(err); ok {
		return string(apiErr.Code)
	}
	if _, ok := apierrors.AsCollection(err); ok {
		return "collection"
	}
	return "internal"
}
