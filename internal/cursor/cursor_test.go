package cursor

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_Roundtrip(t *testing.T) {
	tests := []struct {
		name       string
		typeName   string
		orderByKey string
		directions []string
		values     []interface{}
		expected   []string
	}{
		{
			name:       "pk only",
			typeName:   "Category",
			orderByKey: "id",
			directions: []string{"ASC"},
			values:     []interface{}{"2d5ea951-836c-471e-996e-76823a992689"},
			expected:   []string{"2d5ea951-836c-471e-996e-76823a992689"},
		},
		{
			name:       "name with pk tie-break",
			typeName:   "Subject",
			orderByKey: "name",
			directions: []string{"desc", "desc"},
			values:     []interface{}{"Math", "7cf8d3a3-5493-46c9-93eb-12f220d101d0"},
			expected:   []string{"Math", "7cf8d3a3-5493-46c9-93eb-12f220d101d0"},
		},
		{
			name:       "timestamp and bool",
			typeName:   "Program",
			orderByKey: "createdAt",
			directions: []string{"ASC", "ASC"},
			values:     []interface{}{time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), true},
			expected:   []string{"2024-01-15T10:30:00Z", "true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.typeName, tt.orderByKey, tt.directions, tt.values...)
			require.NotEmpty(t, encoded)

			pos, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.typeName, pos.TypeName)
			assert.Equal(t, tt.orderByKey, pos.OrderByKey)
			assert.Equal(t, tt.expected, pos.Values)
			assert.Equal(t, tt.expected[len(tt.expected)-1], pos.PrimaryKey())
			for _, d := range pos.Directions {
				assert.Contains(t, []string{"ASC", "DESC"}, d)
			}
		})
	}
}

func TestEncode_Stable(t *testing.T) {
	a := Encode("Category", "name", []string{"ASC", "ASC"}, "Phonics", "id-1")
	b := Encode("Category", "name", []string{"ASC", "ASC"}, "Phonics", "id-1")
	assert.Equal(t, a, b)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not base64", "%%%"},
		{"not json", base64.URLEncoding.EncodeToString([]byte("nope"))},
		{"wrong version", base64.URLEncoding.EncodeToString([]byte(`{"v":1,"t":"Category","k":"id","d":["ASC"],"vals":["x"]}`))},
		{"missing type", base64.URLEncoding.EncodeToString([]byte(`{"v":2,"k":"id","d":["ASC"],"vals":["x"]}`))},
		{"missing directions", base64.URLEncoding.EncodeToString([]byte(`{"v":2,"t":"Category","k":"id","d":[],"vals":[]}`))},
		{"bad direction", base64.URLEncoding.EncodeToString([]byte(`{"v":2,"t":"Category","k":"id","d":["UP"],"vals":["x"]}`))},
		{"value mismatch", base64.URLEncoding.EncodeToString([]byte(`{"v":2,"t":"Category","k":"id","d":["ASC"],"vals":["x","y"]}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestDecodeFor_ContextMismatch(t *testing.T) {
	raw := Encode("Category", "name", []string{"ASC", "ASC"}, "Phonics", "id-1")

	_, err := DecodeFor(raw, "Subject", "name", []string{"ASC", "ASC"})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = DecodeFor(raw, "Category", "id", []string{"ASC"})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = DecodeFor(raw, "Category", "name", []string{"DESC", "DESC"})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	pos, err := DecodeFor(raw, "Category", "name", []string{"asc", "asc"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", pos.PrimaryKey())
}
