package apierrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonExistentEntity_Extensions(t *testing.T) {
	err := NewNonExistentEntity(3, "Organization", "org-1")

	assert.Equal(t, "On index 3, Organization org-1 doesn't exist or is inactive.", err.Error())
	ext := err.Extensions()
	assert.Equal(t, "nonexistent_entity", ext["code"])
	assert.Equal(t, 3, ext["index"])
	assert.Equal(t, []string{"id"}, ext["variables"])
	assert.Equal(t, "Organization", ext["entity"])
	assert.Equal(t, "org-1", ext["entityName"])
}

func TestRequestLevelErrorHasNoIndex(t *testing.T) {
	err := NewArrayMaxLength(nil, "CategoryInput", "input array", 50)

	assert.False(t, err.HasIndex())
	assert.Equal(t, -1, err.IndexOr(-1))
	ext := err.Extensions()
	_, hasIndex := ext["index"]
	assert.False(t, hasIndex)
	assert.Equal(t, 50, ext["max"])
	assert.Equal(t, "invalid_array_max_length", ext["code"])
}

func TestDuplicateAttributeValues_Attribute(t *testing.T) {
	err := NewDuplicateAttributeValues(2, "CreateCategoryInput", "organizationId", "name")

	assert.Equal(t, "(organizationId, name)", err.Attribute)
	assert.Equal(t, 2, *err.Index)
}

func TestCollection_SortsByIndexStable(t *testing.T) {
	c := NewCollection(
		NewNonExistentEntity(2, "Category", "c"),
		NewDuplicateAttributeValues(0, "Category", "id"),
		NewNonExistentEntity(0, "Organization", "o"),
		nil,
	)
	require.Equal(t, 3, c.Len())

	err := c.ErrOrNil()
	require.Error(t, err)

	got := make([]string, 0, c.Len())
	for _, e := range c.Errors {
		got = append(got, fmt.Sprintf("%d:%s", *e.Index, e.Code))
	}
	want := []string{"0:duplicate_attribute_values", "0:nonexistent_entity", "2:nonexistent_entity"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sorted errors mismatch (-want +got):\n%s", diff)
	}
}

func TestCollection_EmptyIsNil(t *testing.T) {
	c := NewCollection()
	assert.NoError(t, c.ErrOrNil())
}

func TestCollection_Extensions(t *testing.T) {
	c := NewCollection(NewNonExistentEntity(0, "Organization", "o"))
	ext := c.Extensions()

	assert.Equal(t, "ERR_API_BAD_INPUT", ext["code"])
	items, ok := ext["errors"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "nonexistent_entity", items[0]["code"])
	assert.Contains(t, items[0]["message"], "Organization o")
}

func TestAsCollection_Wrapped(t *testing.T) {
	c := NewCollection(NewNonExistentEntity(0, "Organization", "o"))
	wrapped := fmt.Errorf("create categories: %w", c)

	got, ok := AsCollection(wrapped)
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestClassifyStorageError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
		code     uint16
	}{
		{"duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, "unique_violation", 1062},
		{"fk parent", &mysql.MySQLError{Number: 1451}, "foreign_key_violation", 1451},
		{"fk child", &mysql.MySQLError{Number: 1452}, "foreign_key_violation", 1452},
		{"not null", &mysql.MySQLError{Number: 1048}, "not_null_violation", 1048},
		{"no default", &mysql.MySQLError{Number: 1364}, "not_null_violation", 1364},
		{"access", &mysql.MySQLError{Number: 1142}, "access_denied", 1142},
		{"other mysql", &mysql.MySQLError{Number: 1205}, "internal", 1205},
		{"wrapped", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062}), "unique_violation", 1062},
		{"plain", errors.New("connection reset"), "unknown", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classification, code := ClassifyStorageError(tt.err)
			assert.Equal(t, tt.expected, classification)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestDatabaseSaveError_Unwraps(t *testing.T) {
	cause := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'uniq_name'"}
	err := NewDatabaseSaveError("Category", cause)

	assert.Equal(t, CodeDatabaseSaveError, err.Code)
	assert.ErrorIs(t, err, cause)
	ext := err.Extensions()
	assert.Equal(t, "unique_violation", ext["classification"])
	assert.Equal(t, uint16(1062), ext["mysql_code"])
}
