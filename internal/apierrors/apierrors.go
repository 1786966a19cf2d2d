// Package apierrors defines the typed errors returned to GraphQL callers.
//
// Request-level failures (bad cursor, unknown filter field, array length) are
// single *APIError values. Row-level validation failures of a bulk mutation are
// collected into a *Collection so every problem in a batch is reported at once.
// Both types implement the Extensions hook that graphql-go copies into the
// response's error extensions.
package apierrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is the machine-readable error code exposed in extensions.code.
type Code string

const (
	CodeInvalidArrayMinLength    Code = "invalid_array_min_length"
	CodeInvalidArrayMaxLength    Code = "invalid_array_max_length"
	CodeNonExistentEntity        Code = "nonexistent_entity"
	CodeNonExistentChild         Code = "nonexistent_child"
	CodeExistentChild            Code = "existent_child"
	CodeExistentEntity           Code = "existent_entity"
	CodeDuplicateAttributeValues Code = "duplicate_attribute_values"
	CodeRequiresAtLeastOne       Code = "ERR_API_AT_LEAST_ONE"
	CodeUnauthorized             Code = "unauthorized"
	CodeInvalidCursor            Code = "invalid_cursor"
	CodeInvalidPageSize          Code = "invalid_page_size"
	CodeUnknownFilterField       Code = "unknown_filter_field"
	CodeUnknownSortField         Code = "unknown_sort_field"
	CodeInvalidFilter            Code = "invalid_filter"
	CodeDatabaseSaveError        Code = "database_save_error"

	// CodeBadInput is the extensions.code of an aggregated Collection.
	CodeBadInput Code = "ERR_API_BAD_INPUT"
)

// APIError is a single tagged error. Index is set for row-level errors of a
// batch and is nil for request-level errors.
type APIError struct {
	Code    Code
	Message string

	Index          *int
	Entity         string
	EntityName     string
	Attribute      string
	AttributeValue string
	Variables      []string
	ParentEntity   string
	ParentName     string
	Fields         []string
	Min            *int
	Max            *int

	// Classification and MySQLCode describe storage failures.
	Classification string
	MySQLCode      uint16

	Err error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// HasIndex reports whether the error is attached to an input row.
func (e *APIError) HasIndex() bool {
	return e.Index != nil
}

// IndexOr returns the row index, or fallback for request-level errors.
func (e *APIError) IndexOr(fallback int) int {
	if e.Index == nil {
		return fallback
	}
	return *e.Index
}

// Extensions implements graphql-go's gqlerrors.ExtendedError.
func (e *APIError) Extensions() map[string]interface{} {
	ext := map[string]interface{}{
		"code": string(e.Code),
	}
	if e.Index != nil {
		ext["index"] = *e.Index
	}
	setIfNotEmpty(ext, "entity", e.Entity)
	setIfNotEmpty(ext, "entityName", e.EntityName)
	setIfNotEmpty(ext, "attribute", e.Attribute)
	setIfNotEmpty(ext, "attributeValue", e.AttributeValue)
	setIfNotEmpty(ext, "parentEntity", e.ParentEntity)
	setIfNotEmpty(ext, "parentName", e.ParentName)
	setIfNotEmpty(ext, "classification", e.Classification)
	if len(e.Variables) > 0 {
		ext["variables"] = append([]string(nil), e.Variables...)
	}
	if len(e.Fields) > 0 {
		ext["fields"] = strings.Join(e.Fields, ", ")
	}
	if e.Min != nil {
		ext["min"] = *e.Min
	}
	if e.Max != nil {
		ext["max"] = *e.Max
	}
	if e.MySQLCode != 0 {
		ext["mysql_code"] = e.MySQLCode
	}
	return ext
}

func setIfNotEmpty(ext map[string]interface{}, key, value string) {
	if value != "" {
		ext[key] = value
	}
}

// Collection aggregates row errors discovered across a whole batch.
type Collection struct {
	Errors []*APIError
}

// NewCollection returns a collection holding errs.
func NewCollection(errs ...*APIError) *Collection {
	c := &Collection{}
	c.Add(errs...)
	return c
}

// Add appends non-nil errors.
func (c *Collection) Add(errs ...*APIError) {
	for _, err := range errs {
		if err != nil {
			c.Errors = append(c.Errors, err)
		}
	}
}

// Len returns the number of collected errors.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Errors)
}

// Sort orders the errors by row index, request-level errors first. The sort is
// stable so errors on the same row keep their discovery order.
func (c *Collection) Sort() {
	sort.SliceStable(c.Errors, func(i, j int) bool {
		return c.Errors[i].IndexOr(-1) < c.Errors[j].IndexOr(-1)
	})
}

// ErrOrNil returns the sorted collection when it holds errors, nil otherwise.
func (c *Collection) ErrOrNil() error {
	if c.Len() == 0 {
		return nil
	}
	c.Sort()
	return c
}

func (c *Collection) Error() string {
	if c.Len() == 0 {
		return string(CodeBadInput)
	}
	messages := make([]string, len(c.Errors))
	for i, err := range c.Errors {
		messages[i] = err.Message
	}
	return fmt.Sprintf("%s: %s", CodeBadInput, strings.Join(messages, "; "))
}

// Extensions implements graphql-go's gqlerrors.ExtendedError.
func (c *Collection) Extensions() map[string]interface{} {
	items := make([]map[string]interface{}, len(c.Errors))
	for i, err := range c.Errors {
		item := err.Extensions()
		item["message"] = err.Message
		items[i] = item
	}
	return map[string]interface{}{
		"code":   string(CodeBadInput),
		"errors": items,
	}
}

// AsCollection extracts a Collection from err.
func AsCollection(err error) (*Collection, bool) {
	var c *Collection
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// AsAPIError extracts an APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
