// Package mutation implements the bulk mutation pipeline shared by every
// taxonomy entity.
//
// A batch runs through the same stages regardless of entity: input length
// check, normalization, entity-map preload, validation over all inputs,
// per-row validation and, only when no error was found, one transaction of
// batched writes. Errors are reported together as an apierrors.Collection.
package mutation

import (
	"fmt"

	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/permissions"
)

// Family names an operation shape of the pipeline.
type Family string

const (
	FamilyCreate         Family = "create"
	FamilyUpdate         Family = "update"
	FamilyDelete         Family = "delete"
	FamilyAddRelation    Family = "add_relation"
	FamilyRemoveRelation Family = "remove_relation"
)

// Descriptor parameterizes the pipeline for one entity.
type Descriptor struct {
	Entity *catalog.Entity

	// Child and ChildRelation are set for entities with an editable
	// many-to-many child list.
	Child         *catalog.Entity
	ChildRelation catalog.Relation
	// ChildAttribute is the input attribute carrying child ids.
	ChildAttribute string

	CreatePermission permissions.Permission
	EditPermission   permissions.Permission
	DeletePermission permissions.Permission
}

// HasChildren reports whether the entity supports child ids and the relation
// families.
func (d *Descriptor) HasChildren() bool {
	return d.Child != nil
}

// Supports reports whether family can run for the entity.
func (d *Descriptor) Supports(family Family) bool {
	switch family {
	case FamilyCreate, FamilyUpdate, FamilyDelete:
		return true
	case FamilyAddRelation, FamilyRemoveRelation:
		return d.HasChildren()
	default:
		return false
	}
}

// InputTypeName is the GraphQL input type of family, used as the entity of
// input-shape errors.
func (d *Descriptor) InputTypeName(family Family) string {
	switch family {
	case FamilyCreate:
		return "Create" + d.Entity.Name + "Input"
	case FamilyUpdate:
		return "Update" + d.Entity.Name + "Input"
	case FamilyDelete:
		return "Delete" + d.Entity.Name + "Input"
	case FamilyAddRelation:
		return "Add" + d.Child.Plural() + "To" + d.Entity.Name + "Input"
	case FamilyRemoveRelation:
		return "Remove" + d.Child.Plural() + "From" + d.Entity.Name + "Input"
	default:
		return d.Entity.Name + "Input"
	}
}

func (d *Descriptor) permissionFor(family Family) permissions.Permission {
	switch family {
	case FamilyCreate:
		return d.CreatePermission
	case FamilyDelete:
		return d.DeletePermission
	default:
		return d.EditPermission
	}
}

// Descriptors returns the pipeline descriptors of the mutable taxonomy
// entities, keyed by entity name. Organizations are read-only.
func Descriptors(reg *catalog.Registry) (map[string]*Descriptor, error) {
	specs := []struct {
		entity   string
		children string
		create   permissions.Permission
		edit     permissions.Permission
		del      permissions.Permission
	}{
		{catalog.Category, "subcategories", permissions.CreateSubjects, permissions.EditSubjects, permissions.DeleteSubjects},
		{catalog.Subcategory, "", permissions.CreateSubjects, permissions.EditSubjects, permissions.DeleteSubjects},
		{catalog.Subject, "categories", permissions.CreateSubjects, permissions.EditSubjects, permissions.DeleteSubjects},
		{catalog.Program, "subjects", permissions.CreatePrograms, permissions.EditPrograms, permissions.DeletePrograms},
	}

	out := make(map[string]*Descriptor, len(specs))
	for _, s := range specs {
		entity, ok := reg.Entity(s.entity)
		if !ok {
			return nil, fmt.Errorf("mutation: entity %s not registered", s.entity)
		}
		d := &Descriptor{
			Entity:           entity,
			CreatePermission: s.create,
			EditPermission:   s.edit,
			DeletePermission: s.del,
		}
		if s.children != "" {
			rel, ok := entity.Relation(s.children)
			if !ok || rel.Kind != catalog.ManyToMany {
				return nil, fmt.Errorf("mutation: %s has no many-to-many relation %s", s.entity, s.children)
			}
			child, ok := reg.Entity(rel.Target)
			if !ok {
				return nil, fmt.Errorf("mutation: unknown child entity %s", rel.Target)
			}
			d.Child = child
			d.ChildRelation = rel
			d.ChildAttribute = childAttribute(child)
		}
		out[s.entity] = d
	}
	return out, nil
}

// childAttribute returns the input attribute for child ids, e.g.
// subcategoryIds.
func childAttribute(child *catalog.Entity) string {
	return child.FieldName() + "Ids"
}
