// Package catalog declares the static allow-list of entity types exposed by the
// API: their tables, the logical fields callers may sort and filter by, and the
// relations between them. Nothing outside the catalog maps a request string to
// a SQL identifier.
package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
)

// Kind is the semantic type of a field.
type Kind int

const (
	KindID Kind = iota
	KindString
	KindBoolean
	KindEnum
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindID:
		return "id"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindEnum:
		return "enum"
	case KindTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field maps a logical field name to its backing column.
type Field struct {
	Name       string
	Column     string
	Kind       Kind
	Nullable   bool
	Sortable   bool
	Filterable bool
	// EnumValues lists the API values of an enum field. They are stored lower-cased.
	EnumValues []string
}

// EnumDBValue converts an API enum value to its stored form.
func (f Field) EnumDBValue(value string) (string, bool) {
	for _, allowed := range f.EnumValues {
		if allowed == value {
			return strings.ToLower(value), true
		}
	}
	return "", false
}

// RelationKind distinguishes join-table relations from foreign keys.
type RelationKind int

const (
	ManyToMany RelationKind = iota
	ManyToOne
)

// Relation connects an entity to a target entity.
//
// ManyToMany relations go through JoinTable, where ParentColumn references the
// owning entity's key and ChildColumn the target's key. ManyToOne relations use
// LocalColumn on the owning table referencing the target's primary key.
type Relation struct {
	Name   string
	Kind   RelationKind
	Target string

	JoinTable    string
	ParentColumn string
	ChildColumn  string

	LocalColumn string
}

// Entity describes one record type.
type Entity struct {
	Name       string
	Table      string
	PrimaryKey string
	Fields     []Field
	Relations  []Relation

	// Column roles used by record scanning and the mutation pipeline. Empty
	// roles are absent from the table.
	NameColumn         string
	SystemColumn       string
	OrganizationColumn string
	StatusColumn       string
	CreatedAtColumn    string
	DeletedAtColumn    string
}

// Field returns the field with the given logical name.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PK returns the primary key field.
func (e *Entity) PK() Field {
	f, _ := e.Field(e.PrimaryKey)
	return f
}

// Relation returns the relation with the given name.
func (e *Entity) Relation(name string) (Relation, bool) {
	for _, r := range e.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Plural returns the pluralized type name, e.g. "Categories".
func (e *Entity) Plural() string {
	return inflection.Plural(e.Name)
}

// FieldName returns the lower camel-case singular name, e.g. "category".
func (e *Entity) FieldName() string {
	return lowerFirst(e.Name)
}

// PluralFieldName returns the lower camel-case plural name, e.g. "categories".
func (e *Entity) PluralFieldName() string {
	return lowerFirst(e.Plural())
}

// OrganizationScoped reports whether records belong to an organization.
func (e *Entity) OrganizationScoped() bool {
	return e.OrganizationColumn != ""
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// validate checks internal consistency of a single entity.
func (e *Entity) validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if !identifierPattern.MatchString(e.Table) {
		return fmt.Errorf("%s: invalid table name %q", e.Name, e.Table)
	}
	seen := map[string]bool{}
	for _, f := range e.Fields {
		if f.Name == "" || seen[f.Name] {
			return fmt.Errorf("%s: empty or duplicate field name %q", e.Name, f.Name)
		}
		seen[f.Name] = true
		if !identifierPattern.MatchString(f.Column) {
			return fmt.Errorf("%s.%s: invalid column name %q", e.Name, f.Name, f.Column)
		}
		if f.Kind == KindEnum && len(f.EnumValues) == 0 {
			return fmt.Errorf("%s.%s: enum field has no values", e.Name, f.Name)
		}
	}
	pk, ok := e.Field(e.PrimaryKey)
	if !ok {
		return fmt.Errorf("%s: primary key field %q not declared", e.Name, e.PrimaryKey)
	}
	if pk.Kind != KindID || pk.Nullable {
		return fmt.Errorf("%s: primary key must be a non-null id field", e.Name)
	}
	if e.NameColumn == "" || e.StatusColumn == "" {
		return fmt.Errorf("%s: name and status columns are required", e.Name)
	}
	for _, col := range []string{e.NameColumn, e.SystemColumn, e.OrganizationColumn, e.StatusColumn, e.CreatedAtColumn, e.DeletedAtColumn} {
		if col != "" && !identifierPattern.MatchString(col) {
			return fmt.Errorf("%s: invalid role column %q", e.Name, col)
		}
	}
	relSeen := map[string]bool{}
	for _, r := range e.Relations {
		if r.Name == "" || relSeen[r.Name] || seen[r.Name] {
			return fmt.Errorf("%s: empty or duplicate relation name %q", e.Name, r.Name)
		}
		relSeen[r.Name] = true
		switch r.Kind {
		case ManyToMany:
			for _, ident := range []string{r.JoinTable, r.ParentColumn, r.ChildColumn} {
				if !identifierPattern.MatchString(ident) {
					return fmt.Errorf("%s.%s: invalid join identifier %q", e.Name, r.Name, ident)
				}
			}
		case ManyToOne:
			if !identifierPattern.MatchString(r.LocalColumn) {
				return fmt.Errorf("%s.%s: invalid local column %q", e.Name, r.Name, r.LocalColumn)
			}
		default:
			return fmt.Errorf("%s.%s: unknown relation kind", e.Name, r.Name)
		}
	}
	return nil
}
