package catalog

import "fmt"

// Entity type names.
const (
	Organization = "Organization"
	Category     = "Category"
	Subcategory  = "Subcategory"
	Subject      = "Subject"
	Program      = "Program"
)

// Status values as exposed by the API.
var statusValues = []string{"ACTIVE", "INACTIVE"}

// Registry is the validated set of entity descriptors.
type Registry struct {
	entities map[string]*Entity
	order    []string
}

// NewRegistry validates entities and their cross references.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		if err := e.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %s", e.Name)
		}
		r.entities[e.Name] = e
		r.order = append(r.order, e.Name)
	}
	for _, e := range entities {
		for _, rel := range e.Relations {
			if _, ok := r.entities[rel.Target]; !ok {
				return nil, fmt.Errorf("%s.%s: unknown target entity %s", e.Name, rel.Name, rel.Target)
			}
		}
	}
	return r, nil
}

// Entity returns the descriptor for name.
func (r *Registry) Entity(name string) (*Entity, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// MustEntity returns the descriptor for name or panics. Only for names
// declared in this package.
func (r *Registry) MustEntity(name string) *Entity {
	e, ok := r.entities[name]
	if !ok {
		panic(fmt.Sprintf("catalog: unknown entity %s", name))
	}
	return e
}

// Entities returns descriptors in declaration order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name])
	}
	return out
}

// Default returns the registry of the taxonomy entities.
func Default() (*Registry, error) {
	return NewRegistry(
		organizationEntity(),
		taxonomyEntity(Category, "category",
			manyToMany("subcategories", Subcategory, "category_subcategory", "category_id", "subcategory_id"),
			manyToMany("subjects", Subject, "subject_category", "category_id", "subject_id"),
		),
		taxonomyEntity(Subcategory, "subcategory",
			manyToMany("categories", Category, "category_subcategory", "subcategory_id", "category_id"),
		),
		taxonomyEntity(Subject, "subject",
			manyToMany("categories", Category, "subject_category", "subject_id", "category_id"),
			manyToMany("programs", Program, "program_subject", "subject_id", "program_id"),
		),
		taxonomyEntity(Program, "program",
			manyToMany("subjects", Subject, "program_subject", "program_id", "subject_id"),
		),
	)
}

func organizationEntity() *Entity {
	return &Entity{
		Name:       Organization,
		Table:      "organization",
		PrimaryKey: "id",
		Fields: []Field{
			{Name: "id", Column: "organization_id", Kind: KindID, Sortable: true, Filterable: true},
			{Name: "name", Column: "organization_name", Kind: KindString, Sortable: true, Filterable: true},
			{Name: "status", Column: "status", Kind: KindEnum, Filterable: true, EnumValues: statusValues},
			{Name: "createdAt", Column: "created_at", Kind: KindTimestamp, Sortable: true, Filterable: true},
		},
		NameColumn:      "organization_name",
		StatusColumn:    "status",
		CreatedAtColumn: "created_at",
		DeletedAtColumn: "deleted_at",
	}
}

// taxonomyEntity builds the shared shape of categories, subcategories,
// subjects and programs.
func taxonomyEntity(name, table string, relations ...Relation) *Entity {
	relations = append(relations, Relation{
		Name:        "organization",
		Kind:        ManyToOne,
		Target:      Organization,
		LocalColumn: "organization_id",
	})
	return &Entity{
		Name:       name,
		Table:      table,
		PrimaryKey: "id",
		Fields: []Field{
			{Name: "id", Column: "id", Kind: KindID, Sortable: true, Filterable: true},
			{Name: "name", Column: "name", Kind: KindString, Sortable: true, Filterable: true},
			{Name: "system", Column: "system", Kind: KindBoolean, Filterable: true},
			{Name: "organizationId", Column: "organization_id", Kind: KindID, Nullable: true, Filterable: true},
			{Name: "status", Column: "status", Kind: KindEnum, Filterable: true, EnumValues: statusValues},
			{Name: "createdAt", Column: "created_at", Kind: KindTimestamp, Sortable: true, Filterable: true},
		},
		Relations:          relations,
		NameColumn:         "name",
		SystemColumn:       "system",
		OrganizationColumn: "organization_id",
		StatusColumn:       "status",
		CreatedAtColumn:    "created_at",
		DeletedAtColumn:    "deleted_at",
	}
}

func manyToMany(name, target, joinTable, parentColumn, childColumn string) Relation {
	return Relation{
		Name:         name,
		Kind:         ManyToMany,
		Target:       target,
		JoinTable:    joinTable,
		ParentColumn: parentColumn,
		ChildColumn:  childColumn,
	}
}
