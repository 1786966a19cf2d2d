package resolver

import (
	"fmt"

	"taxonomy-graphql/internal/mutation"

	"github.com/graphql-go/graphql"
	"go.opentelemetry.io/otel/attribute"
)

// addEntityMutations registers create/update/delete and, for entities with a
// child list, add/remove fields. Every field takes a list of inputs and
// returns the affected nodes in input order.
func (r *Resolver) addEntityMutations(fields graphql.Fields, d *mutation.Descriptor) {
	entity := d.Entity
	payload := graphql.NewObject(graphql.ObjectConfig{
		Name: entity.Plural() + "MutationResult",
		Fields: graphql.Fields{
			entity.PluralFieldName(): &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(r.nodeType(entity)))),
			},
		},
	})

	inputArg := func(family mutation.Family) graphql.FieldConfigArgument {
		return graphql.FieldConfigArgument{
			"input": &graphql.ArgumentConfig{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(r.mutationInput(d, family)))),
			},
		}
	}

	fields["create"+entity.Plural()] = &graphql.Field{
		Type: payload,
		Args: inputArg(mutation.FamilyCreate),
		Resolve: r.makeMutationResolver(d, mutation.FamilyCreate, func(p graphql.ResolveParams, rows []map[string]interface{}) (*mutation.Result, error) {
			inputs := make([]mutation.CreateInput, len(rows))
			for i, row := range rows {
				inputs[i] = mutation.CreateInput{
					OrganizationID: stringArg(row, "organizationId"),
					Name:           stringArg(row, "name"),
				}
				if d.HasChildren() {
					inputs[i].ChildIDs, inputs[i].HasChildIDs = idListArg(row, d.ChildAttribute)
				}
			}
			return r.pipeline.Create(p.Context, d, inputs)
		}),
	}

	fields["update"+entity.Plural()] = &graphql.Field{
		Type: payload,
		Args: inputArg(mutation.FamilyUpdate),
		Resolve: r.makeMutationResolver(d, mutation.FamilyUpdate, func(p graphql.ResolveParams, rows []map[string]interface{}) (*mutation.Result, error) {
			inputs := make([]mutation.UpdateInput, len(rows))
			for i, row := range rows {
				inputs[i] = mutation.UpdateInput{ID: stringArg(row, "id")}
				if name, ok := row["name"].(string); ok {
					inputs[i].Name = &name
				}
				if d.HasChildren() {
					inputs[i].ChildIDs, inputs[i].HasChildIDs = idListArg(row, d.ChildAttribute)
				}
			}
			return r.pipeline.Update(p.Context, d, inputs)
		}),
	}

	fields["delete"+entity.Plural()] = &graphql.Field{
		Type: payload,
		Args: inputArg(mutation.FamilyDelete),
		Resolve: r.makeMutationResolver(d, mutation.FamilyDelete, func(p graphql.ResolveParams, rows []map[string]interface{}) (*mutation.Result, error) {
			inputs := make([]mutation.DeleteInput, len(rows))
			for i, row := range rows {
				inputs[i] = mutation.DeleteInput{ID: stringArg(row, "id")}
			}
			return r.pipeline.Delete(p.Context, d, inputs)
		}),
	}

	if !d.HasChildren() {
		return
	}

	relationInputs := func(rows []map[string]interface{}) []mutation.RelationInput {
		inputs := make([]mutation.RelationInput, len(rows))
		for i, row := range rows {
			ids, _ := idListArg(row, d.ChildAttribute)
			inputs[i] = mutation.RelationInput{
				ParentID: stringArg(row, parentAttribute(d)),
				ChildIDs: ids,
			}
		}
		return inputs
	}

	fields["add"+d.Child.Plural()+"To"+entity.Plural()] = &graphql.Field{
		Type: payload,
		Args: inputArg(mutation.FamilyAddRelation),
		Resolve: r.makeMutationResolver(d, mutation.FamilyAddRelation, func(p graphql.ResolveParams, rows []map[string]interface{}) (*mutation.Result, error) {
			return r.pipeline.AddChildren(p.Context, d, relationInputs(rows))
		}),
	}
	fields["remove"+d.Child.Plural()+"From"+entity.Plural()] = &graphql.Field{
		Type: payload,
		Args: inputArg(mutation.FamilyRemoveRelation),
		Resolve: r.makeMutationResolver(d, mutation.FamilyRemoveRelation, func(p graphql.ResolveParams, rows []map[string]interface{}) (*mutation.Result, error) {
			return r.pipeline.RemoveChildren(p.Context, d, relationInputs(rows))
		}),
	}
}

type mutationRunner func(p graphql.ResolveParams, rows []map[string]interface{}) (*mutation.Result, error)

func (r *Resolver) makeMutationResolver(d *mutation.Descriptor, family mutation.Family, run mutationRunner) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx, span := startResolverSpan(p.Context, "graphql.mutation",
			attribute.String("graphql.entity", d.Entity.Name),
			attribute.String("graphql.mutation.family", string(family)),
		)
		defer span.End()
		p.Context = ctx

		rows, err := inputRows(p.Args["input"])
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}
		span.SetAttributes(attribute.Int("graphql.mutation.inputs", len(rows)))

		result, err := run(p, rows)
		if err != nil {
			setRejectedRows(span, err)
			finishResolverSpan(span, err)
			return nil, err
		}
		span.SetAttributes(attribute.Int("graphql.mutation.rows", len(result.Nodes())))
		finishResolverSpan(span, nil)
		return map[string]interface{}{
			d.Entity.PluralFieldName(): result.Nodes(),
		}, nil
	}
}

// mutationInput returns the input object of one family. Child id lists are
// optional on create and update and required on the relation families.
func (r *Resolver) mutationInput(d *mutation.Descriptor, family mutation.Family) *graphql.InputObject {
	name := d.InputTypeName(family)
	return r.cachedInput(name, func() *graphql.InputObject {
		idList := graphql.NewList(graphql.NewNonNull(graphql.ID))
		fields := graphql.InputObjectConfigFieldMap{}
		switch family {
		case mutation.FamilyCreate:
			fields["organizationId"] = &graphql.InputObjectFieldConfig{
				Type:        graphql.ID,
				Description: "Omit to create a system record.",
			}
			fields["name"] = &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)}
			if d.HasChildren() {
				fields[d.ChildAttribute] = &graphql.InputObjectFieldConfig{Type: idList}
			}
		case mutation.FamilyUpdate:
			fields["id"] = &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.ID)}
			fields["name"] = &graphql.InputObjectFieldConfig{Type: graphql.String}
			if d.HasChildren() {
				fields[d.ChildAttribute] = &graphql.InputObjectFieldConfig{
					Type:        idList,
					Description: "Replaces the current children when present.",
				}
			}
		case mutation.FamilyDelete:
			fields["id"] = &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.ID)}
		case mutation.FamilyAddRelation, mutation.FamilyRemoveRelation:
			fields[parentAttribute(d)] = &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.ID)}
			fields[d.ChildAttribute] = &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(idList)}
		}
		return graphql.NewInputObject(graphql.InputObjectConfig{Name: name, Fields: fields})
	})
}

// parentAttribute names the parent id of relation inputs, e.g. categoryId.
func parentAttribute(d *mutation.Descriptor) string {
	return d.Entity.FieldName() + "Id"
}

func inputRows(raw interface{}) ([]map[string]interface{}, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("input must be a list")
	}
	rows := make([]map[string]interface{}, len(list))
	for i, item := range list {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("input[%d] must be an input object", i)
		}
		rows[i] = row
	}
	return rows, nil
}

func stringArg(row map[string]interface{}, key string) string {
	s, _ := row[key].(string)
	return s
}

// idListArg reports the ids under key and whether the key was given a list.
func idListArg(row map[string]interface{}, key string) ([]string, bool) {
	raw, ok := row[key]
	if !ok || raw == nil {
		return nil, false
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, true
}
