package planner

import (
	"fmt"
	"strings"

	"taxonomy-graphql/internal/apierrors"
	"taxonomy-graphql/internal/catalog"
)

// OrderBy describes the ordering fields (primary key last) and their shared
// direction.
type OrderBy struct {
	Fields    []catalog.Field
	Direction string
}

// ParseSort validates a {field, order} sort input against the entity's
// sortable fields. A nil or empty input orders by primary key ascending.
func ParseSort(entity *catalog.Entity, sort map[string]interface{}) (*OrderBy, error) {
	pk := entity.PK()
	if len(sort) == 0 {
		return &OrderBy{Fields: []catalog.Field{pk}, Direction: "ASC"}, nil
	}

	fieldName, _ := sort["field"].(string)
	if fieldName == "" {
		fieldName = pk.Name
	}
	direction := "ASC"
	if raw, ok := sort["order"]; ok && raw != nil {
		value, ok := raw.(string)
		if !ok {
			return nil, apierrors.NewInvalidFilter(entity.Name, "sort order must be ASC or DESC")
		}
		direction = strings.ToUpper(value)
		if direction != "ASC" && direction != "DESC" {
			return nil, apierrors.NewInvalidFilter(entity.Name, "sort order must be ASC or DESC")
		}
	}

	field, ok := entity.Field(fieldName)
	if !ok || !field.Sortable {
		return nil, apierrors.NewUnknownSortField(entity.Name, fieldName)
	}

	fields := []catalog.Field{field}
	if field.Name != pk.Name {
		fields = append(fields, pk)
	}
	return &OrderBy{Fields: fields, Direction: direction}, nil
}

// Key identifies the ordering inside cursors, e.g. "name".
func (o *OrderBy) Key() string {
	return o.Fields[0].Name
}

// Columns returns the backing columns in order.
func (o *OrderBy) Columns() []string {
	cols := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		cols[i] = f.Column
	}
	return cols
}

// Directions returns one direction per ordering field.
func (o *OrderBy) Directions() []string {
	dirs := make([]string, len(o.Fields))
	for i := range dirs {
		dirs[i] = o.Direction
	}
	return dirs
}

// Reverse returns the ordering with the direction flipped.
func (o *OrderBy) Reverse() *OrderBy {
	fields := make([]catalog.Field, len(o.Fields))
	copy(fields, o.Fields)
	return &OrderBy{Fields: fields, Direction: reverseDirection(o.Direction)}
}

// Clauses renders ORDER BY terms qualified by table.
func (o *OrderBy) Clauses(table string) []string {
	clauses := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		clauses[i] = fmt.Sprintf("%s %s", qualify(table, f.Column), o.Direction)
	}
	return clauses
}

func reverseDirection(direction string) string {
	if strings.EqualFold(direction, "DESC") {
		return "ASC"
	}
	return "DESC"
}
