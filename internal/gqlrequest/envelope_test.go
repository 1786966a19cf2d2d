package gqlrequest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope_GET(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/graphql?query=query%20%7B%20category(id%3A%22c1%22)%20%7B%20id%20%7D%20%7D&operationName=GetCategory", nil)
	env, err := DecodeEnvelope(req)
	require.NoError(t, err)
	assert.NotEmpty(t, env.Query)
	assert.Equal(t, "GetCategory", env.OperationName)
	assert.Equal(t, len(env.Query), env.DocumentSizeBytes)
}

func TestDecodeEnvelope_PostApplicationGraphQL_RewindsBody(t *testing.T) {
	body := "query { categoriesConnection(direction: FORWARD) { totalCount } }"
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/graphql")

	env, err := DecodeEnvelope(req)
	require.NoError(t, err)
	assert.Equal(t, body, env.Query)

	rewound, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(rewound))
}

func TestDecodeEnvelope_PostJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"mutation Create($in: [CreateCategoryInput!]!) { createCategories(input: $in) { categories { id } } }","operationName":"Create","variables":{"in":[{"name":"Math"}]}}`))
	req.Header.Set("Content-Type", "application/json")

	env, err := DecodeEnvelope(req)
	require.NoError(t, err)
	assert.Equal(t, "Create", env.OperationName)
	assert.NotEmpty(t, env.VariablesRaw)
}

func TestDecodeEnvelope_PostMalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":`))
	req.Header.Set("Content-Type", "application/json")

	_, err := DecodeEnvelope(req)
	assert.Error(t, err)
}

func TestDecodeEnvelopeLimit_TooLarge(t *testing.T) {
	body := `{"query":"` + strings.Repeat("x", 64) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	_, err := DecodeEnvelopeLimit(req, 16)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}
