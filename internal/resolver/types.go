package resolver

import (
	"strings"
	"unicode"

	"github.com/graphql-go/graphql"

	"taxonomy-graphql/internal/catalog"
)

func (r *Resolver) cachedEnum(name string, build func() *graphql.Enum) *graphql.Enum {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.enums[name]; ok {
		return cached
	}
	e := build()
	r.enums[name] = e
	return e
}

func (r *Resolver) cachedInput(name string, build func() *graphql.InputObject) *graphql.InputObject {
	r.mu.Lock()
	if cached, ok := r.inputs[name]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	in := build()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.inputs[name]; ok {
		return cached
	}
	r.inputs[name] = in
	return in
}

func stringEnum(name, description string, values ...string) *graphql.Enum {
	config := graphql.EnumValueConfigMap{}
	for _, v := range values {
		config[v] = &graphql.EnumValueConfig{Value: v}
	}
	return graphql.NewEnum(graphql.EnumConfig{Name: name, Description: description, Values: config})
}

func (r *Resolver) directionEnum() *graphql.Enum {
	return r.cachedEnum("ConnectionDirection", func() *graphql.Enum {
		return stringEnum("ConnectionDirection", "Traversal direction of a connection page.", "FORWARD", "BACKWARD")
	})
}

func (r *Resolver) sortOrderEnum() *graphql.Enum {
	return r.cachedEnum("SortOrder", func() *graphql.Enum {
		return stringEnum("SortOrder", "", "ASC", "DESC")
	})
}

// fieldEnum returns the enum type of an enum-kind field, e.g. Status.
func (r *Resolver) fieldEnum(field catalog.Field) *graphql.Enum {
	name := upperFirst(field.Name)
	return r.cachedEnum(name, func() *graphql.Enum {
		return stringEnum(name, "", field.EnumValues...)
	})
}

// sortByEnum maps enum values such as CREATED_AT to catalog field names.
func (r *Resolver) sortByEnum(entity *catalog.Entity) *graphql.Enum {
	name := entity.Name + "SortBy"
	return r.cachedEnum(name, func() *graphql.Enum {
		values := graphql.EnumValueConfigMap{}
		for _, f := range entity.Fields {
			if f.Sortable {
				values[screamingSnake(f.Name)] = &graphql.EnumValueConfig{Value: f.Name}
			}
		}
		return graphql.NewEnum(graphql.EnumConfig{Name: name, Values: values})
	})
}

func (r *Resolver) pageInfo() *graphql.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pageInfoType != nil {
		return r.pageInfoType
	}
	r.pageInfoType = graphql.NewObject(graphql.ObjectConfig{
		Name: "ConnectionPageInfo",
		Fields: graphql.Fields{
			"hasNextPage":     &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"hasPreviousPage": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"startCursor":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"endCursor":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	return r.pageInfoType
}

func (r *Resolver) outputType(field catalog.Field) graphql.Output {
	var t graphql.Output
	switch field.Kind {
	case catalog.KindID:
		t = graphql.ID
	case catalog.KindBoolean:
		t = graphql.Boolean
	case catalog.KindEnum:
		t = r.fieldEnum(field)
	case catalog.KindTimestamp:
		// Records created before created_at existed have no value.
		return graphql.DateTime
	default:
		t = graphql.String
	}
	if field.Nullable {
		return t
	}
	return graphql.NewNonNull(t)
}

// nodeType returns the object type of an entity. Child connections are
// added lazily because entities reference each other.
func (r *Resolver) nodeType(entity *catalog.Entity) *graphql.Object {
	r.mu.Lock()
	if cached, ok := r.nodeTypes[entity.Name]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	obj := graphql.NewObject(graphql.ObjectConfig{
		Name: entity.Name + "ConnectionNode",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			fields := graphql.Fields{}
			for _, f := range entity.Fields {
				fields[f.Name] = &graphql.Field{Type: r.outputType(f)}
			}
			for _, rel := range entity.Relations {
				if rel.Kind != catalog.ManyToMany {
					continue
				}
				target := r.registry.MustEntity(rel.Target)
				fields[rel.Name+"Connection"] = &graphql.Field{
					Type:    r.connectionType(target),
					Args:    r.connectionArgs(target),
					Resolve: r.makeChildConnectionResolver(entity, rel),
				}
			}
			return fields
		}),
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.nodeTypes[entity.Name]; ok {
		return cached
	}
	r.nodeTypes[entity.Name] = obj
	return obj
}

func (r *Resolver) connectionType(entity *catalog.Entity) *graphql.Object {
	r.mu.Lock()
	if cached, ok := r.connectionTypes[entity.Name]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	nodeType := r.nodeType(entity)
	edgeType := graphql.NewObject(graphql.ObjectConfig{
		Name: entity.Plural() + "ConnectionEdge",
		Fields: graphql.Fields{
			"cursor": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"node":   &graphql.Field{Type: graphql.NewNonNull(nodeType)},
		},
	})
	connType := graphql.NewObject(graphql.ObjectConfig{
		Name: entity.Plural() + "ConnectionResponse",
		Fields: graphql.Fields{
			"totalCount": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					source, ok := p.Source.(map[string]interface{})
					if !ok {
						return 0, nil
					}
					cr, ok := source["__connectionResult"].(*connectionResult)
					if !ok || cr == nil {
						return 0, nil
					}
					return cr.totalCount()
				},
			},
			"pageInfo": &graphql.Field{Type: graphql.NewNonNull(r.pageInfo())},
			"edges":    &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(edgeType)))},
		},
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.connectionTypes[entity.Name]; ok {
		return cached
	}
	r.connectionTypes[entity.Name] = connType
	return connType
}

func (r *Resolver) connectionArgs(entity *catalog.Entity) graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"direction": &graphql.ArgumentConfig{
			Type: graphql.NewNonNull(r.directionEnum()),
		},
		"directionArgs": &graphql.ArgumentConfig{
			Type: r.directionArgsInput(),
		},
		"sort": &graphql.ArgumentConfig{
			Type: r.sortInput(entity),
		},
		"filter": &graphql.ArgumentConfig{
			Type: r.filterInput(entity),
		},
	}
}

func (r *Resolver) directionArgsInput() *graphql.InputObject {
	return r.cachedInput("ConnectionsDirectionArgs", func() *graphql.InputObject {
		return graphql.NewInputObject(graphql.InputObjectConfig{
			Name: "ConnectionsDirectionArgs",
			Fields: graphql.InputObjectConfigFieldMap{
				"count":  &graphql.InputObjectFieldConfig{Type: graphql.Int},
				"cursor": &graphql.InputObjectFieldConfig{Type: graphql.String},
			},
		})
	})
}

func (r *Resolver) sortInput(entity *catalog.Entity) *graphql.InputObject {
	name := entity.Name + "SortInput"
	return r.cachedInput(name, func() *graphql.InputObject {
		return graphql.NewInputObject(graphql.InputObjectConfig{
			Name: name,
			Fields: graphql.InputObjectConfigFieldMap{
				"field": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(r.sortByEnum(entity))},
				"order": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(r.sortOrderEnum())},
			},
		})
	})
}

// operatorFilter returns the operator input of a field kind.
func (r *Resolver) operatorFilter(field catalog.Field) *graphql.InputObject {
	var (
		name  string
		value graphql.Input
		ops   []string
	)
	switch field.Kind {
	case catalog.KindID:
		name, value = "IDFilter", graphql.ID
		ops = []string{"eq", "ne", "neq", "in", "notIn", "isNull"}
	case catalog.KindBoolean:
		name, value = "BooleanFilter", graphql.Boolean
		ops = []string{"eq", "ne", "neq"}
	case catalog.KindEnum:
		enum := r.fieldEnum(field)
		name, value = enum.Name()+"Filter", enum
		ops = []string{"eq", "ne", "neq", "in", "notIn"}
	case catalog.KindTimestamp:
		name, value = "DateTimeFilter", graphql.DateTime
		ops = []string{"eq", "ne", "neq", "lt", "lte", "gt", "gte", "isNull"}
	default:
		name, value = "StringFilter", graphql.String
		ops = []string{"eq", "ne", "neq", "lt", "lte", "gt", "gte", "in", "notIn", "like", "notLike", "contains", "isNull"}
	}

	return r.cachedInput(name, func() *graphql.InputObject {
		fields := graphql.InputObjectConfigFieldMap{}
		for _, op := range ops {
			switch op {
			case "isNull":
				fields[op] = &graphql.InputObjectFieldConfig{Type: graphql.Boolean}
			case "in", "notIn":
				fields[op] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(value))}
			default:
				fields[op] = &graphql.InputObjectFieldConfig{Type: value}
			}
		}
		return graphql.NewInputObject(graphql.InputObjectConfig{Name: name, Fields: fields})
	})
}

// filterInput returns <Entity>Filter. It is recursive through AND/OR and
// relation filters, so its fields are a thunk.
func (r *Resolver) filterInput(entity *catalog.Entity) *graphql.InputObject {
	name := entity.Name + "Filter"
	return r.cachedInput(name, func() *graphql.InputObject {
		var self *graphql.InputObject
		self = graphql.NewInputObject(graphql.InputObjectConfig{
			Name: name,
			Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
				fields := graphql.InputObjectConfigFieldMap{
					"AND": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(self))},
					"OR":  &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(self))},
				}
				for _, f := range entity.Fields {
					if f.Filterable {
						fields[f.Name] = &graphql.InputObjectFieldConfig{Type: r.operatorFilter(f)}
					}
				}
				for _, rel := range entity.Relations {
					fields[rel.Name] = &graphql.InputObjectFieldConfig{Type: r.relationFilterInput(r.registry.MustEntity(rel.Target))}
				}
				return fields
			}),
		})
		return self
	})
}

func (r *Resolver) relationFilterInput(target *catalog.Entity) *graphql.InputObject {
	name := target.Name + "RelationFilter"
	return r.cachedInput(name, func() *graphql.InputObject {
		return graphql.NewInputObject(graphql.InputObjectConfig{
			Name: name,
			Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
				return graphql.InputObjectConfigFieldMap{
					"some": &graphql.InputObjectFieldConfig{Type: r.filterInput(target)},
					"none": &graphql.InputObjectFieldConfig{Type: r.filterInput(target)},
				}
			}),
		})
	})
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// screamingSnake converts createdAt to CREATED_AT.
func screamingSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
