package gqlrequest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// DefaultMaxBodyBytes bounds the request body read for analysis.
const DefaultMaxBodyBytes int64 = 1 << 20

// ErrBodyTooLarge is returned when the body exceeds the decode limit.
var ErrBodyTooLarge = errors.New("graphql request body too large")

// Envelope stores the normalized request payload.
type Envelope struct {
	Method      string
	ContentType string

	Query         string
	OperationName string
	VariablesRaw  json.RawMessage

	DocumentSizeBytes int
}

// DecodeEnvelope extracts GraphQL payload fields from an HTTP request and
// rewinds the body so the GraphQL handler can read it again.
func DecodeEnvelope(r *http.Request) (Envelope, error) {
	return DecodeEnvelopeLimit(r, DefaultMaxBodyBytes)
}

// DecodeEnvelopeLimit is DecodeEnvelope with an explicit body limit.
func DecodeEnvelopeLimit(r *http.Request, maxBytes int64) (Envelope, error) {
	if r == nil {
		return Envelope{}, fmt.Errorf("request is nil")
	}
	env := Envelope{
		Method:      r.Method,
		ContentType: r.Header.Get("Content-Type"),
	}

	if r.Method == http.MethodGet {
		env.Query = r.URL.Query().Get("query")
		env.OperationName = r.URL.Query().Get("operationName")
		if vars := r.URL.Query().Get("variables"); vars != "" {
			env.VariablesRaw = json.RawMessage(vars)
		}
		env.DocumentSizeBytes = len(env.Query)
		return env, nil
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return env, nil
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return env, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if int64(len(body)) > maxBytes {
		return env, ErrBodyTooLarge
	}

	mediaType, _, parseErr := mime.ParseMediaType(env.ContentType)
	if parseErr != nil || mediaType == "" {
		mediaType = strings.TrimSpace(env.ContentType)
	}

	if mediaType == "application/graphql" {
		env.Query = string(body)
		env.DocumentSizeBytes = len(env.Query)
		return env, nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 {
		var payload struct {
			Query         string          `json:"query"`
			OperationName string          `json:"operationName"`
			Variables     json.RawMessage `json:"variables"`
		}
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return env, err
		}
		env.Query = payload.Query
		env.OperationName = payload.OperationName
		if len(payload.Variables) > 0 && !bytes.Equal(bytes.TrimSpace(payload.Variables), []byte("null")) {
			env.VariablesRaw = append(json.RawMessage(nil), payload.Variables...)
		}
	}
	env.DocumentSizeBytes = len(env.Query)
	return env, nil
}
