package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"taxonomy-graphql/internal/apierrors"
	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/cursor"
	"taxonomy-graphql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Direction is the traversal direction of a connection page.
type Direction string

const (
	Forward  Direction = "FORWARD"
	Backward Direction = "BACKWARD"
)

// ConnectionArgs holds the parsed arguments of a connection field.
type ConnectionArgs struct {
	Direction Direction
	Count     int
	Cursor    string
	HasCursor bool
	Sort      map[string]interface{}
	Filter    map[string]interface{}
}

// ParseConnectionArgs reads direction, directionArgs {count, cursor}, sort and
// filter from GraphQL field arguments. A count outside [1, MaxPageSize] is
// rejected before any SQL is planned.
func ParseConnectionArgs(args map[string]interface{}, limits Limits) (ConnectionArgs, error) {
	limits = limits.normalized()
	parsed := ConnectionArgs{
		Direction: Forward,
		Count:     limits.DefaultPageSize,
	}
	if args == nil {
		return parsed, nil
	}

	if raw, ok := args["direction"]; ok && raw != nil {
		value, ok := raw.(string)
		if !ok {
			return ConnectionArgs{}, fmt.Errorf("direction must be FORWARD or BACKWARD")
		}
		switch Direction(strings.ToUpper(value)) {
		case Forward:
			parsed.Direction = Forward
		case Backward:
			parsed.Direction = Backward
		default:
			return ConnectionArgs{}, fmt.Errorf("direction must be FORWARD or BACKWARD")
		}
	}

	if raw, ok := args["directionArgs"]; ok && raw != nil {
		directionArgs, ok := raw.(map[string]interface{})
		if !ok {
			return ConnectionArgs{}, fmt.Errorf("directionArgs must be an input object")
		}
		if rawCount, ok := directionArgs["count"]; ok && rawCount != nil {
			count, err := parseCount(rawCount)
			if err != nil {
				return ConnectionArgs{}, err
			}
			if count < 1 || count > limits.MaxPageSize {
				return ConnectionArgs{}, apierrors.NewInvalidPageSize(count, 1, limits.MaxPageSize)
			}
			parsed.Count = count
		}
		if rawCursor, ok := directionArgs["cursor"]; ok && rawCursor != nil {
			value, ok := rawCursor.(string)
			if !ok {
				return ConnectionArgs{}, fmt.Errorf("cursor must be a string")
			}
			if value != "" {
				parsed.Cursor = value
				parsed.HasCursor = true
			}
		}
	}

	if raw, ok := args["sort"]; ok && raw != nil {
		sortArgs, ok := raw.(map[string]interface{})
		if !ok {
			return ConnectionArgs{}, fmt.Errorf("sort must be an input object")
		}
		parsed.Sort = sortArgs
	}
	if raw, ok := args["filter"]; ok && raw != nil {
		filterArgs, ok := raw.(map[string]interface{})
		if !ok {
			return ConnectionArgs{}, fmt.Errorf("filter must be an input object")
		}
		parsed.Filter = filterArgs
	}
	return parsed, nil
}

func parseCount(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("count must be an integer")
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("count must be an integer")
		}
		return n, nil
	default:
		return 0, fmt.Errorf("count must be an integer")
	}
}

// ConnectionPlan holds the planned SQL for a connection query.
type ConnectionPlan struct {
	Entity    *catalog.Entity
	Root      SQLQuery // page query (count+1 rows)
	Count     SQLQuery // totalCount query (filter only, no cursor)
	OrderBy   *OrderBy // display ordering
	PageSize  int
	Direction Direction
	HasCursor bool
	// CursorValues are the decoded ordering values of the cursor, if any.
	CursorValues []interface{}
	// Filter is the parsed filter argument; nil when none was given.
	Filter *WhereClause

	scope scope
}

// Columns returns the record columns selected by Root, in scan order.
func (p *ConnectionPlan) Columns() []string {
	return p.Entity.RecordColumns()
}

// scope is the candidate row set: a FROM target optionally joined through a
// relation table and restricted by fixed predicates and the caller's filter.
type scope struct {
	table      string
	join       string
	predicates []sq.Sqlizer
	where      *WhereClause
}

func (s scope) apply(builder sq.SelectBuilder) sq.SelectBuilder {
	builder = builder.From(sqlutil.QuoteIdentifier(s.table))
	if s.join != "" {
		builder = builder.Join(s.join)
	}
	for _, pred := range s.predicates {
		builder = builder.Where(pred)
	}
	if s.where != nil && s.where.Condition != nil {
		builder = builder.Where(s.where.Condition)
	}
	return builder
}

// PlanConnection plans a root connection over every row of entity.
func PlanConnection(reg *catalog.Registry, entity *catalog.Entity, args ConnectionArgs, limits Limits) (*ConnectionPlan, error) {
	return planConnection(reg, entity, scope{table: entity.Table}, args, limits)
}

// PlanManyToManyConnection plans a connection over the targets of rel for one
// parent row, joining through the relation table.
func PlanManyToManyConnection(reg *catalog.Registry, parent *catalog.Entity, rel catalog.Relation, parentID string, args ConnectionArgs, limits Limits) (*ConnectionPlan, error) {
	if rel.Kind != catalog.ManyToMany {
		return nil, fmt.Errorf("relation %s.%s is not many-to-many", parent.Name, rel.Name)
	}
	target, ok := reg.Entity(rel.Target)
	if !ok {
		return nil, fmt.Errorf("relation %s.%s targets unknown entity %s", parent.Name, rel.Name, rel.Target)
	}
	join := fmt.Sprintf("%s ON %s = %s",
		sqlutil.QuoteIdentifier(rel.JoinTable),
		sqlutil.QualifiedColumn(rel.JoinTable, rel.ChildColumn),
		sqlutil.QualifiedColumn(target.Table, target.PK().Column),
	)
	s := scope{
		table:      target.Table,
		join:       join,
		predicates: []sq.Sqlizer{sq.Eq{sqlutil.QualifiedColumn(rel.JoinTable, rel.ParentColumn): parentID}},
	}
	return planConnection(reg, target, s, args, limits)
}

func planConnection(reg *catalog.Registry, entity *catalog.Entity, s scope, args ConnectionArgs, limits Limits) (*ConnectionPlan, error) {
	limits = limits.normalized()
	if args.Count < 1 || args.Count > limits.MaxPageSize {
		return nil, apierrors.NewInvalidPageSize(args.Count, 1, limits.MaxPageSize)
	}

	orderBy, err := ParseSort(entity, args.Sort)
	if err != nil {
		return nil, err
	}

	where, err := BuildWhereClause(reg, entity, entity.Table, args.Filter, limits.MaxFilterDepth)
	if err != nil {
		return nil, err
	}
	s.where = where

	sqlOrderBy := orderBy
	if args.Direction == Backward {
		sqlOrderBy = orderBy.Reverse()
	}

	var (
		seek         sq.Sqlizer
		cursorValues []interface{}
	)
	if args.HasCursor {
		pos, err := cursor.DecodeFor(args.Cursor, entity.Name, orderBy.Key(), orderBy.Directions())
		if err != nil {
			return nil, apierrors.NewInvalidCursor(err)
		}
		values, err := ParseCursorValues(orderBy.Fields, pos.Values)
		if err != nil {
			return nil, apierrors.NewInvalidCursor(err)
		}
		// The SQL ordering already points in the traversal direction, so the
		// seek compares with the SQL ordering's direction.
		seek = BuildSeekCondition(entity.Table, orderBy.Columns(), values, sqlOrderBy.Direction)
		cursorValues = values
	}

	root, err := buildPageSQL(entity, s, seek, sqlOrderBy, args.Count+1)
	if err != nil {
		return nil, err
	}
	count, err := buildCountSQL(entity, s)
	if err != nil {
		return nil, err
	}

	return &ConnectionPlan{
		Entity:    entity,
		Root:      root,
		Count:     count,
		OrderBy:   orderBy,
		PageSize:  args.Count,
		Direction: args.Direction,
		HasCursor: args.HasCursor,

		CursorValues: cursorValues,
		Filter:       where,
		scope:        s,
	}, nil
}

// BeyondPageSQL plans the existence-only query for the direction opposite to
// the traversal: rows strictly before the first displayed row for FORWARD, or
// strictly after the last displayed row for BACKWARD. edgeValues are the
// ordering values of that boundary row. When the page is empty the cursor
// position itself is the boundary and is included.
func (p *ConnectionPlan) BeyondPageSQL(edgeValues []interface{}, inclusive bool) (SQLQuery, error) {
	direction := p.OrderBy.Direction
	if p.Direction == Forward {
		direction = reverseDirection(direction)
	}
	seek := buildSeek(p.Entity.Table, p.OrderBy.Columns(), edgeValues, direction, inclusive)
	builder := p.scope.apply(sq.Select("1")).
		Where(seek).
		Limit(1).
		PlaceholderFormat(sq.Question)
	query, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

func buildPageSQL(entity *catalog.Entity, s scope, seek sq.Sqlizer, orderBy *OrderBy, limit int) (SQLQuery, error) {
	cols := entity.RecordColumns()
	selected := make([]string, len(cols))
	for i, col := range cols {
		selected[i] = sqlutil.QualifiedColumn(entity.Table, col)
	}
	builder := s.apply(sq.Select(selected...))
	if seek != nil {
		builder = builder.Where(seek)
	}
	builder = builder.OrderBy(orderBy.Clauses(entity.Table)...).
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Question)

	query, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

func buildCountSQL(entity *catalog.Entity, s scope) (SQLQuery, error) {
	builder := s.apply(sq.Select(sqlutil.QualifiedColumn(entity.Table, entity.PK().Column))).
		PlaceholderFormat(sq.Question)
	query, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return buildCountFromBaseSQL(SQLQuery{SQL: query, Args: args}), nil
}

func buildCountFromBaseSQL(base SQLQuery) SQLQuery {
	return SQLQuery{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS __count", base.SQL),
		Args: append([]interface{}(nil), base.Args...),
	}
}

// BuildSeekCondition creates a row-value comparison for cursor-based seek.
// For ASC: (t.col1, t.col2) > (?, ?)
// For DESC: (t.col1, t.col2) < (?, ?)
func BuildSeekCondition(table string, columns []string, values []interface{}, direction string) sq.Sqlizer {
	return buildSeek(table, columns, values, direction, false)
}

func buildSeek(table string, columns []string, values []interface{}, direction string, inclusive bool) sq.Sqlizer {
	lhs := "(" + sqlutil.QuoteColumns(table, columns) + ")"
	rhs := "(" + sqlutil.Placeholders(len(values)) + ")"

	op := ">"
	if strings.EqualFold(direction, "DESC") {
		op = "<"
	}
	if inclusive {
		op += "="
	}
	return sq.Expr(lhs+" "+op+" "+rhs, values...)
}

// ParseCursorValues converts string-encoded cursor values into the native
// types of the ordering fields.
func ParseCursorValues(fields []catalog.Field, values []string) ([]interface{}, error) {
	if len(values) != len(fields) {
		return nil, fmt.Errorf("cursor value count mismatch: expected %d, got %d", len(fields), len(values))
	}
	parsed := make([]interface{}, len(values))
	for i, raw := range values {
		switch fields[i].Kind {
		case catalog.KindTimestamp:
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("invalid cursor value for %s: %w", fields[i].Name, err)
			}
			parsed[i] = t.UTC()
		case catalog.KindBoolean:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid cursor value for %s: %w", fields[i].Name, err)
			}
			parsed[i] = b
		default:
			parsed[i] = raw
		}
	}
	return parsed, nil
}

// CursorValues extracts the ordering values of a record in cursor order.
func CursorValues(orderBy *OrderBy, node map[string]interface{}) []interface{} {
	values := make([]interface{}, len(orderBy.Fields))
	for i, f := range orderBy.Fields {
		values[i] = node[f.Name]
	}
	return values
}
