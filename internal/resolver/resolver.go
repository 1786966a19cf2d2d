// Package resolver builds the taxonomy GraphQL schema from the entity catalog.
// Every entity gets a cursor connection, an id lookup and, for mutable
// entities, the bulk mutation fields backed by the mutation pipeline.
package resolver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/graphql-go/graphql"
	"go.opentelemetry.io/otel/attribute"

	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/mutation"
	"taxonomy-graphql/internal/planner"
	"taxonomy-graphql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Resolver builds and serves the GraphQL schema. Types are cached by name so
// every entity type is created once even though relations reference each
// other.
type Resolver struct {
	executor    dbexec.QueryExecutor
	registry    *catalog.Registry
	pipeline    *mutation.Pipeline
	descriptors map[string]*mutation.Descriptor
	limits      planner.Limits
	logger      *slog.Logger

	nodeTypes       map[string]*graphql.Object
	connectionTypes map[string]*graphql.Object
	enums           map[string]*graphql.Enum
	inputs          map[string]*graphql.InputObject
	pageInfoType    *graphql.Object
	mu              sync.Mutex
}

// Options configures NewResolver.
type Options struct {
	Limits planner.Limits
	Logger *slog.Logger
}

// NewResolver creates a Resolver. pipeline may be nil to build a read-only
// schema.
func NewResolver(executor dbexec.QueryExecutor, registry *catalog.Registry, pipeline *mutation.Pipeline, opts Options) (*Resolver, error) {
	if executor == nil {
		return nil, errors.New("resolver: executor is required")
	}
	if registry == nil {
		return nil, errors.New("resolver: registry is required")
	}
	r := &Resolver{
		executor:        executor,
		registry:        registry,
		pipeline:        pipeline,
		limits:          opts.Limits,
		logger:          opts.Logger,
		nodeTypes:       map[string]*graphql.Object{},
		connectionTypes: map[string]*graphql.Object{},
		enums:           map[string]*graphql.Enum{},
		inputs:          map[string]*graphql.InputObject{},
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if pipeline != nil {
		descriptors, err := mutation.Descriptors(registry)
		if err != nil {
			return nil, err
		}
		r.descriptors = descriptors
	}
	return r, nil
}

// BuildGraphQLSchema constructs the executable schema.
func (r *Resolver) BuildGraphQLSchema() (graphql.Schema, error) {
	queryFields := graphql.Fields{}
	for _, entity := range r.registry.Entities() {
		r.addEntityQueries(queryFields, entity)
	}

	schemaConfig := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: queryFields,
		}),
	}

	if r.pipeline != nil {
		mutationFields := graphql.Fields{}
		for _, entity := range r.registry.Entities() {
			if d, ok := r.descriptors[entity.Name]; ok {
				r.addEntityMutations(mutationFields, d)
			}
		}
		if len(mutationFields) > 0 {
			schemaConfig.Mutation = graphql.NewObject(graphql.ObjectConfig{
				Name:   "Mutation",
				Fields: mutationFields,
			})
		}
	}

	return graphql.NewSchema(schemaConfig)
}

func (r *Resolver) addEntityQueries(fields graphql.Fields, entity *catalog.Entity) {
	nodeType := r.nodeType(entity)

	fields[entity.PluralFieldName()+"Connection"] = &graphql.Field{
		Type:        r.connectionType(entity),
		Args:        r.connectionArgs(entity),
		Description: fmt.Sprintf("Cursor-paginated %s.", entity.PluralFieldName()),
		Resolve:     r.makeRootConnectionResolver(entity),
	}
	fields[entity.FieldName()] = &graphql.Field{
		Type: nodeType,
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
		},
		Resolve: r.makeLookupResolver(entity),
	}
}

// makeLookupResolver returns the record with the given id regardless of
// status, or null.
func (r *Resolver) makeLookupResolver(entity *catalog.Entity) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		id, _ := p.Args["id"].(string)
		ctx, span := startResolverSpan(p.Context, "graphql.lookup",
			attribute.String("graphql.entity", entity.Name),
		)
		defer span.End()

		query, args, err := sq.Select(qualifiedRecordColumns(entity)...).
			From(sqlutil.QuoteIdentifier(entity.Table)).
			Where(sq.Eq{sqlutil.QualifiedColumn(entity.Table, entity.PK().Column): id}).
			Limit(1).
			PlaceholderFormat(sq.Question).
			ToSql()
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}

		records, err := r.queryRecords(ctx, entity, query, args)
		finishResolverSpan(span, err)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		return records[0].Node(), nil
	}
}

func qualifiedRecordColumns(entity *catalog.Entity) []string {
	cols := entity.RecordColumns()
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = sqlutil.QualifiedColumn(entity.Table, col)
	}
	return out
}
