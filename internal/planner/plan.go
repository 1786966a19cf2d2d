// Package planner translates connection arguments (sort, filter, cursor and
// page window) into SQL for one entity type. Every identifier it emits comes
// from the catalog; request values only ever become bound arguments.
package planner

import (
	"fmt"

	"taxonomy-graphql/internal/sqlutil"
)

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Limits bounds connection arguments.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	// MaxFilterDepth rejects deeper filter trees when positive.
	MaxFilterDepth int
}

const (
	// DefaultPageSize is the page size used when directionArgs.count is omitted.
	DefaultPageSize = 10
	// MaxPageSize is the largest accepted directionArgs.count.
	MaxPageSize = 50
)

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{DefaultPageSize: DefaultPageSize, MaxPageSize: MaxPageSize}
}

func (l Limits) normalized() Limits {
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = MaxPageSize
	}
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = DefaultPageSize
	}
	if l.DefaultPageSize > l.MaxPageSize {
		l.DefaultPageSize = l.MaxPageSize
	}
	return l
}

func qualify(table, column string) string {
	if table == "" {
		return sqlutil.QuoteIdentifier(column)
	}
	return sqlutil.QualifiedColumn(table, column)
}

func quotedFrom(table, alias string) string {
	if alias == "" || alias == table {
		return sqlutil.QuoteIdentifier(table)
	}
	return fmt.Sprintf("%s AS %s", sqlutil.QuoteIdentifier(table), sqlutil.QuoteIdentifier(alias))
}
