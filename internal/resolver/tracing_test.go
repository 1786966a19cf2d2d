package resolver

import (
	"context"
	"errors"
	"testing"

	"taxonomy-graphql/internal/apierrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestFinishResolverSpan_Outcomes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(original)
	})

	tests := []struct {
		name        string
		err         error
		wantOutcome string
		wantCode    string
		wantStatus  codes.Code
	}{
		{name: "success", wantOutcome: "success", wantStatus: codes.Unset},
		{name: "bad cursor", err: apierrors.NewInvalidCursor(errors.New("bad base64")), wantOutcome: "rejected", wantCode: "invalid_cursor", wantStatus: codes.Unset},
		{name: "row errors", err: apierrors.NewCollection(apierrors.NewNonExistentEntity(0, "Category", "c-1")), wantOutcome: "rejected", wantCode: "collection", wantStatus: codes.Unset},
		{name: "storage failure", err: apierrors.NewDatabaseSaveError("Category", errors.New("deadlock")), wantOutcome: "error", wantCode: "database_save_error", wantStatus: codes.Error},
		{name: "unexpected", err: errors.New("boom"), wantOutcome: "error", wantCode: "internal", wantStatus: codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, span := startResolverSpan(context.Background(), "graphql.test."+tt.name)
			finishResolverSpan(span, tt.err)
			span.End()

			ended := recorder.Ended()
			require.NotEmpty(t, ended)
			got := ended[len(ended)-1]
			assert.Equal(t, "graphql.test."+tt.name, got.Name())
			assert.Equal(t, tt.wantStatus, got.Status().Code)

			attrs := map[attribute.Key]attribute.Value{}
			for _, kv := range got.Attributes() {
				attrs[kv.Key] = kv.Value
			}
			assert.Equal(t, tt.wantOutcome, attrs["graphql.resolver.outcome"].AsString())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, attrs["graphql.error.code"].AsString())
			}
		})
	}
}

func TestConnectionSpan_FilterAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(original)
	})

	env := newTestEnv(t, false)
	env.mock.ExpectQuery(categoryPage).WillReturnRows(categoryRows("id-01"))

	res := env.do(context.Background(), `{
		categoriesConnection(direction: FORWARD, filter: {AND: [{name: {contains: "Math"}}, {system: {eq: false}}]}) {
			edges { node { id } }
		}
	}`)
	require.Empty(t, res.Errors)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "graphql.connection" {
			continue
		}
		found = true
		attrs := map[attribute.Key]attribute.Value{}
		for _, kv := range span.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		assert.Equal(t, []string{"name", "system"}, attrs["graphql.filter.fields"].AsStringSlice())
		assert.Positive(t, attrs["graphql.filter.depth"].AsInt64())
	}
	assert.True(t, found)
}
