package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"taxonomy-graphql/internal/apierrors"
	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// WhereClause represents a parsed filter condition.
type WhereClause struct {
	Condition  sq.Sqlizer
	UsedFields []string
	Depth      int
}

// BuildWhereClause parses a filter input into a SQL condition over entity.
// Columns are qualified with alias (normally the table name). Relation filters
// of the form {relation: {some|none: filter}} become correlated EXISTS
// subqueries; reg resolves their target entities.
func BuildWhereClause(reg *catalog.Registry, entity *catalog.Entity, alias string, filter map[string]interface{}, maxDepth int) (*WhereClause, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	if alias == "" {
		alias = entity.Table
	}
	state := &whereBuildState{registry: reg, maxDepth: maxDepth, used: map[string]struct{}{}}
	condition, err := state.build(entity, alias, filter, 1, true)
	if err != nil {
		return nil, err
	}
	used := make([]string, 0, len(state.used))
	for name := range state.used {
		used = append(used, name)
	}
	sort.Strings(used)
	return &WhereClause{Condition: condition, UsedFields: used, Depth: state.deepest}, nil
}

type whereBuildState struct {
	registry     *catalog.Registry
	maxDepth     int
	deepest      int
	aliasCounter int
	used         map[string]struct{}
}

func (s *whereBuildState) nextAlias(table string) string {
	s.aliasCounter++
	return fmt.Sprintf("__%s_%d", table, s.aliasCounter)
}

func (s *whereBuildState) enter(entity *catalog.Entity, depth int) error {
	if depth > s.deepest {
		s.deepest = depth
	}
	if s.maxDepth > 0 && depth > s.maxDepth {
		return apierrors.NewInvalidFilter(entity.Name, "filter nesting exceeds maximum depth of %d", s.maxDepth)
	}
	return nil
}

// build recursively builds conditions with AND/OR support. Keys are visited in
// sorted order so the generated SQL is deterministic.
func (s *whereBuildState) build(entity *catalog.Entity, alias string, filter map[string]interface{}, depth int, root bool) (sq.Sqlizer, error) {
	if err := s.enter(entity, depth); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := sq.And{}
	for _, key := range keys {
		value := filter[key]
		switch key {
		case "AND", "OR":
			items, ok := value.([]interface{})
			if !ok {
				return nil, apierrors.NewInvalidFilter(entity.Name, "%s must be an array", key)
			}
			nested := make([]sq.Sqlizer, 0, len(items))
			for _, item := range items {
				itemMap, ok := item.(map[string]interface{})
				if !ok {
					return nil, apierrors.NewInvalidFilter(entity.Name, "%s array items must be objects", key)
				}
				cond, err := s.build(entity, alias, itemMap, depth+1, root)
				if err != nil {
					return nil, err
				}
				if cond != nil {
					nested = append(nested, cond)
				}
			}
			if len(nested) == 0 {
				continue
			}
			if key == "AND" {
				conditions = append(conditions, sq.And(nested))
			} else {
				conditions = append(conditions, sq.Or(nested))
			}

		default:
			if field, ok := entity.Field(key); ok && field.Filterable {
				ops, ok := value.(map[string]interface{})
				if !ok {
					return nil, apierrors.NewInvalidFilter(entity.Name, "filter for %s must be an object", key)
				}
				if root {
					s.used[field.Name] = struct{}{}
				}
				colConditions, err := buildFieldFilter(entity, field, qualify(alias, field.Column), ops)
				if err != nil {
					return nil, err
				}
				conditions = append(conditions, colConditions...)
				continue
			}
			if rel, ok := entity.Relation(key); ok {
				relFilter, ok := value.(map[string]interface{})
				if !ok {
					return nil, apierrors.NewInvalidFilter(entity.Name, "filter for %s must be an object", key)
				}
				relConditions, err := s.buildRelationFilter(entity, alias, rel, relFilter, depth)
				if err != nil {
					return nil, err
				}
				conditions = append(conditions, relConditions...)
				continue
			}
			return nil, apierrors.NewUnknownFilterField(entity.Name, key)
		}
	}

	if len(conditions) == 0 {
		return nil, nil
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return conditions, nil
}

func (s *whereBuildState) buildRelationFilter(entity *catalog.Entity, alias string, rel catalog.Relation, relFilter map[string]interface{}, depth int) ([]sq.Sqlizer, error) {
	keys := make([]string, 0, len(relFilter))
	for key := range relFilter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := []sq.Sqlizer{}
	for _, key := range keys {
		var shouldExist bool
		switch key {
		case "some":
			shouldExist = true
		case "none":
			shouldExist = false
		default:
			return nil, apierrors.NewInvalidFilter(entity.Name, "relation filter %s supports only some and none, got %s", rel.Name, key)
		}
		var nested map[string]interface{}
		if raw := relFilter[key]; raw != nil {
			m, ok := raw.(map[string]interface{})
			if !ok {
				return nil, apierrors.NewInvalidFilter(entity.Name, "%s.%s must be an object", rel.Name, key)
			}
			nested = m
		}
		cond, err := s.buildExistsPredicate(entity, alias, rel, nested, shouldExist, depth)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

func (s *whereBuildState) buildExistsPredicate(entity *catalog.Entity, outerAlias string, rel catalog.Relation, nested map[string]interface{}, shouldExist bool, depth int) (sq.Sqlizer, error) {
	target, ok := s.registry.Entity(rel.Target)
	if !ok {
		return nil, fmt.Errorf("relation %s.%s targets unknown entity %s", entity.Name, rel.Name, rel.Target)
	}
	targetAlias := s.nextAlias(target.Table)
	targetPK := qualify(targetAlias, target.PK().Column)

	var builder sq.SelectBuilder
	switch rel.Kind {
	case catalog.ManyToOne:
		builder = sq.Select("1").
			From(quotedFrom(target.Table, targetAlias)).
			Where(fmt.Sprintf("%s = %s", targetPK, qualify(outerAlias, rel.LocalColumn)))
	case catalog.ManyToMany:
		joinAlias := s.nextAlias(rel.JoinTable)
		builder = sq.Select("1").
			From(quotedFrom(rel.JoinTable, joinAlias)).
			Join(fmt.Sprintf("%s ON %s = %s", quotedFrom(target.Table, targetAlias), targetPK, qualify(joinAlias, rel.ChildColumn))).
			Where(fmt.Sprintf("%s = %s", qualify(joinAlias, rel.ParentColumn), qualify(outerAlias, entity.PK().Column)))
	default:
		return nil, fmt.Errorf("relation %s.%s has unsupported kind", entity.Name, rel.Name)
	}

	if len(nested) > 0 {
		nestedCond, err := s.build(target, targetAlias, nested, depth+1, false)
		if err != nil {
			return nil, err
		}
		if nestedCond != nil {
			builder = builder.Where(nestedCond)
		}
	}

	subquery, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	prefix := "EXISTS"
	if !shouldExist {
		prefix = "NOT EXISTS"
	}
	return sq.Expr(fmt.Sprintf("%s (%s)", prefix, subquery), args...), nil
}

var operatorsByKind = map[catalog.Kind]map[string]bool{
	catalog.KindID:        {"eq": true, "ne": true, "neq": true, "in": true, "notIn": true, "isNull": true},
	catalog.KindString:    {"eq": true, "ne": true, "neq": true, "lt": true, "lte": true, "gt": true, "gte": true, "in": true, "notIn": true, "like": true, "notLike": true, "contains": true, "isNull": true},
	catalog.KindBoolean:   {"eq": true, "ne": true, "neq": true},
	catalog.KindEnum:      {"eq": true, "ne": true, "neq": true, "in": true, "notIn": true},
	catalog.KindTimestamp: {"eq": true, "ne": true, "neq": true, "lt": true, "lte": true, "gt": true, "gte": true, "isNull": true},
}

// buildFieldFilter builds filter conditions for one field.
func buildFieldFilter(entity *catalog.Entity, field catalog.Field, quotedColumn string, ops map[string]interface{}) ([]sq.Sqlizer, error) {
	opNames := make([]string, 0, len(ops))
	for op := range ops {
		opNames = append(opNames, op)
	}
	sort.Strings(opNames)

	conditions := []sq.Sqlizer{}
	for _, op := range opNames {
		if !operatorsByKind[field.Kind][op] {
			return nil, apierrors.NewInvalidFilter(entity.Name, "operator %s is not supported for %s field %s", op, field.Kind, field.Name)
		}
		raw := ops[op]
		if op == "isNull" {
			cond, err := isNullCondition(entity, quotedColumn, raw)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, cond)
			continue
		}

		if op == "in" || op == "notIn" {
			items, ok := raw.([]interface{})
			if !ok {
				return nil, apierrors.NewInvalidFilter(entity.Name, "%s operator on %s requires an array", op, field.Name)
			}
			values := make([]interface{}, len(items))
			for i, item := range items {
				v, err := filterValue(entity, field, item)
				if err != nil {
					return nil, err
				}
				values[i] = v
			}
			if op == "in" {
				conditions = append(conditions, sq.Eq{quotedColumn: values})
			} else {
				conditions = append(conditions, sq.NotEq{quotedColumn: values})
			}
			continue
		}

		value, err := filterValue(entity, field, raw)
		if err != nil {
			return nil, err
		}
		switch op {
		case "eq":
			conditions = append(conditions, sq.Eq{quotedColumn: value})
		case "ne", "neq":
			conditions = append(conditions, sq.NotEq{quotedColumn: value})
		case "lt":
			conditions = append(conditions, sq.Lt{quotedColumn: value})
		case "lte":
			conditions = append(conditions, sq.LtOrEq{quotedColumn: value})
		case "gt":
			conditions = append(conditions, sq.Gt{quotedColumn: value})
		case "gte":
			conditions = append(conditions, sq.GtOrEq{quotedColumn: value})
		case "like":
			conditions = append(conditions, sq.Like{quotedColumn: value})
		case "notLike":
			conditions = append(conditions, sq.NotLike{quotedColumn: value})
		case "contains":
			text, _ := value.(string)
			conditions = append(conditions, sq.Like{quotedColumn: "%" + sqlutil.EscapeLike(text) + "%"})
		}
	}
	return conditions, nil
}

func isNullCondition(entity *catalog.Entity, quotedColumn string, value interface{}) (sq.Sqlizer, error) {
	boolVal, ok := value.(bool)
	if !ok {
		return nil, apierrors.NewInvalidFilter(entity.Name, "isNull must be a boolean")
	}
	if boolVal {
		return sq.Eq{quotedColumn: nil}, nil
	}
	return sq.NotEq{quotedColumn: nil}, nil
}

// filterValue coerces a filter operand to the field's stored representation.
func filterValue(entity *catalog.Entity, field catalog.Field, raw interface{}) (interface{}, error) {
	switch field.Kind {
	case catalog.KindID, catalog.KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, apierrors.NewInvalidFilter(entity.Name, "%s expects a string value", field.Name)
		}
		return s, nil
	case catalog.KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, apierrors.NewInvalidFilter(entity.Name, "%s expects a boolean value", field.Name)
		}
		return b, nil
	case catalog.KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, apierrors.NewInvalidFilter(entity.Name, "%s expects one of %s", field.Name, strings.Join(field.EnumValues, ", "))
		}
		stored, ok := field.EnumDBValue(s)
		if !ok {
			return nil, apierrors.NewInvalidFilter(entity.Name, "%s expects one of %s", field.Name, strings.Join(field.EnumValues, ", "))
		}
		return stored, nil
	case catalog.KindTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case *time.Time:
			if v != nil {
				return v.UTC(), nil
			}
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err == nil {
				return t.UTC(), nil
			}
		}
		return nil, apierrors.NewInvalidFilter(entity.Name, "%s expects an RFC 3339 timestamp", field.Name)
	default:
		return nil, apierrors.NewInvalidFilter(entity.Name, "%s cannot be filtered", field.Name)
	}
}
