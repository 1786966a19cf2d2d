package apierrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

func intPtr(v int) *int {
	return &v
}

func onIndex(index *int, message string) string {
	if index == nil {
		return message
	}
	return fmt.Sprintf("On index %d, %s", *index, message)
}

// NewArrayMinLength reports an array shorter than min. A nil index marks the
// top-level input array, which is request-fatal.
func NewArrayMinLength(index *int, entity, attribute string, min int) *APIError {
	return &APIError{
		Code:      CodeInvalidArrayMinLength,
		Message:   onIndex(index, fmt.Sprintf("%s %s requires at least %d value(s).", entity, attribute, min)),
		Index:     index,
		Entity:    entity,
		Attribute: attribute,
		Min:       intPtr(min),
	}
}

// NewArrayMaxLength reports an array longer than max.
func NewArrayMaxLength(index *int, entity, attribute string, max int) *APIError {
	return &APIError{
		Code:      CodeInvalidArrayMaxLength,
		Message:   onIndex(index, fmt.Sprintf("%s %s accepts at most %d value(s).", entity, attribute, max)),
		Index:     index,
		Entity:    entity,
		Attribute: attribute,
		Max:       intPtr(max),
	}
}

// NewNonExistentEntity reports a referenced id that is missing or inactive.
func NewNonExistentEntity(index int, entity, entityName string, variables ...string) *APIError {
	if len(variables) == 0 {
		variables = []string{"id"}
	}
	return &APIError{
		Code:       CodeNonExistentEntity,
		Message:    onIndex(intPtr(index), fmt.Sprintf("%s %s doesn't exist or is inactive.", entity, entityName)),
		Index:      intPtr(index),
		Entity:     entity,
		EntityName: entityName,
		Variables:  variables,
	}
}

// NewNonExistentChild reports a child that is not attached to, or may not be
// attached to, the parent.
func NewNonExistentChild(index int, entity, entityName, parentEntity, parentName string) *APIError {
	return &APIError{
		Code:         CodeNonExistentChild,
		Message:      onIndex(intPtr(index), fmt.Sprintf("%s %s doesn't exist for %s %s.", entity, entityName, parentEntity, parentName)),
		Index:        intPtr(index),
		Entity:       entity,
		EntityName:   entityName,
		ParentEntity: parentEntity,
		ParentName:   parentName,
	}
}

// NewExistentChild reports a child that is already attached to the parent.
func NewExistentChild(index int, entity, entityName, parentEntity, parentName string) *APIError {
	return &APIError{
		Code:         CodeExistentChild,
		Message:      onIndex(intPtr(index), fmt.Sprintf("%s %s already exists for %s %s.", entity, entityName, parentEntity, parentName)),
		Index:        intPtr(index),
		Entity:       entity,
		EntityName:   entityName,
		ParentEntity: parentEntity,
		ParentName:   parentName,
	}
}

// NewExistentEntityAttribute reports a persisted record that already uses the
// attribute value in the same scope.
func NewExistentEntityAttribute(index int, entity, entityName, attribute, attributeValue string) *APIError {
	return &APIError{
		Code:           CodeExistentEntity,
		Message:        onIndex(intPtr(index), fmt.Sprintf("%s %s already exists with %s %s.", entity, entityName, attribute, attributeValue)),
		Index:          intPtr(index),
		Entity:         entity,
		EntityName:     entityName,
		Attribute:      attribute,
		AttributeValue: attributeValue,
	}
}

// NewDuplicateAttributeValues reports a key repeated within the same input.
// The index is the one of the later occurrence.
func NewDuplicateAttributeValues(index int, entity string, variables ...string) *APIError {
	attribute := "(" + strings.Join(variables, ", ") + ")"
	return &APIError{
		Code:      CodeDuplicateAttributeValues,
		Message:   onIndex(intPtr(index), fmt.Sprintf("%s %s values are duplicated in the input.", entity, attribute)),
		Index:     intPtr(index),
		Entity:    entity,
		Attribute: attribute,
		Variables: variables,
	}
}

// NewRequiresAtLeastOne reports a row that sets none of fields.
func NewRequiresAtLeastOne(index int, entity string, fields ...string) *APIError {
	return &APIError{
		Code:    CodeRequiresAtLeastOne,
		Message: onIndex(intPtr(index), fmt.Sprintf("%s requires at least one of the following fields: %s.", entity, strings.Join(fields, ", "))),
		Index:   intPtr(index),
		Entity:  entity,
		Fields:  fields,
	}
}

// NewUnauthorized reports a caller lacking permission for the row's scope. A
// nil index marks a request without any permission context.
func NewUnauthorized(index *int, entity, entityName, permission string) *APIError {
	target := entity
	if entityName != "" {
		target = entity + " " + entityName
	}
	return &APIError{
		Code:       CodeUnauthorized,
		Message:    onIndex(index, fmt.Sprintf("you are not allowed to modify %s (requires %s).", target, permission)),
		Index:      index,
		Entity:     entity,
		EntityName: entityName,
		Variables:  []string{permission},
	}
}

// NewInvalidCursor wraps a cursor decode or validation failure.
func NewInvalidCursor(err error) *APIError {
	return &APIError{
		Code:    CodeInvalidCursor,
		Message: fmt.Sprintf("invalid cursor: %v", err),
		Err:     err,
	}
}

// NewInvalidPageSize reports a page size outside [min, max].
func NewInvalidPageSize(value, min, max int) *APIError {
	return &APIError{
		Code:      CodeInvalidPageSize,
		Message:   fmt.Sprintf("count must be between %d and %d, got %d", min, max, value),
		Attribute: "count",
		Min:       intPtr(min),
		Max:       intPtr(max),
	}
}

// NewUnknownFilterField reports a filter key outside the allow-list.
func NewUnknownFilterField(entity, field string) *APIError {
	return &APIError{
		Code:      CodeUnknownFilterField,
		Message:   fmt.Sprintf("unknown filter field %q for %s", field, entity),
		Entity:    entity,
		Attribute: field,
	}
}

// NewUnknownSortField reports a sort field outside the allow-list.
func NewUnknownSortField(entity, field string) *APIError {
	return &APIError{
		Code:      CodeUnknownSortField,
		Message:   fmt.Sprintf("unknown sort field %q for %s", field, entity),
		Entity:    entity,
		Attribute: field,
	}
}

// NewInvalidFilter reports a structurally invalid filter.
func NewInvalidFilter(entity, format string, args ...interface{}) *APIError {
	return &APIError{
		Code:    CodeInvalidFilter,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity,
	}
}

// MySQL error numbers that map to a stable classification.
const (
	mysqlErrDBAccessDenied     = 1044
	mysqlErrTableAccessDenied  = 1142
	mysqlErrColumnAccessDenied = 1143
	mysqlErrDuplicateEntry     = 1062
	mysqlErrRowIsReferenced    = 1451
	mysqlErrNoReferencedRow    = 1452
	mysqlErrBadNull            = 1048
	mysqlErrNoDefault          = 1364
)

// ClassifyStorageError returns a stable classification and the MySQL error
// number for err. Non-MySQL errors classify as "unknown".
func ClassifyStorageError(err error) (string, uint16) {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return "unknown", 0
	}
	switch mysqlErr.Number {
	case mysqlErrDBAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
		return "access_denied", mysqlErr.Number
	case mysqlErrDuplicateEntry:
		return "unique_violation", mysqlErr.Number
	case mysqlErrRowIsReferenced, mysqlErrNoReferencedRow:
		return "foreign_key_violation", mysqlErr.Number
	case mysqlErrBadNull, mysqlErrNoDefault:
		return "not_null_violation", mysqlErr.Number
	default:
		return "internal", mysqlErr.Number
	}
}

// NewDatabaseSaveError wraps a persistence failure. It is never retried.
func NewDatabaseSaveError(entity string, err error) *APIError {
	classification, code := ClassifyStorageError(err)
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	return &APIError{
		Code:           CodeDatabaseSaveError,
		Message:        fmt.Sprintf("%s could not be saved: %s", entity, message),
		Entity:         entity,
		Attribute:      message,
		Classification: classification,
		MySQLCode:      code,
		Err:            err,
	}
}
