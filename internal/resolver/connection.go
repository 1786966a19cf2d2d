package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/graphql-go/graphql"
	"go.opentelemetry.io/otel/attribute"

	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/cursor"
	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/planner"
)

// connectionResult carries the state totalCount needs. The count query only
// runs when the field is selected, and at most once.
type connectionResult struct {
	ctx     context.Context
	querier dbexec.Querier
	count   planner.SQLQuery

	mu     sync.Mutex
	done   bool
	total  int
	errVal error
}

func (c *connectionResult) totalCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return c.total, c.errVal
	}
	c.done = true

	rows, err := c.querier.QueryContext(c.ctx, c.count.SQL, c.count.Args...)
	if err != nil {
		c.errVal = fmt.Errorf("count query: %w", err)
		return 0, c.errVal
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&c.total); err != nil {
			c.errVal = fmt.Errorf("scan count: %w", err)
			return 0, c.errVal
		}
	}
	if err := rows.Err(); err != nil {
		c.errVal = err
		return 0, err
	}
	return c.total, nil
}

func (r *Resolver) makeRootConnectionResolver(entity *catalog.Entity) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		args, err := planner.ParseConnectionArgs(p.Args, r.limits)
		if err != nil {
			return nil, err
		}
		plan, err := planner.PlanConnection(r.registry, entity, args, r.limits)
		if err != nil {
			return nil, err
		}
		return r.runConnection(p.Context, plan)
	}
}

func (r *Resolver) makeChildConnectionResolver(parent *catalog.Entity, rel catalog.Relation) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		source, ok := p.Source.(map[string]interface{})
		if !ok {
			return nil, nil
		}
		parentID, _ := source["id"].(string)
		if parentID == "" {
			return nil, nil
		}
		args, err := planner.ParseConnectionArgs(p.Args, r.limits)
		if err != nil {
			return nil, err
		}
		plan, err := planner.PlanManyToManyConnection(r.registry, parent, rel, parentID, args, r.limits)
		if err != nil {
			return nil, err
		}
		return r.runConnection(p.Context, plan)
	}
}

// runConnection executes a planned page. The page query fetches one extra row
// to learn whether the traversal direction continues; the opposite direction
// is answered by an existence query, which is only needed when a cursor was
// given.
func (r *Resolver) runConnection(ctx context.Context, plan *planner.ConnectionPlan) (map[string]interface{}, error) {
	ctx, span := startResolverSpan(ctx, "graphql.connection",
		attribute.String("graphql.entity", plan.Entity.Name),
		attribute.String("graphql.connection.direction", string(plan.Direction)),
		attribute.Int("graphql.connection.page_size", plan.PageSize),
	)
	defer span.End()
	if f := plan.Filter; f != nil {
		span.SetAttributes(
			attribute.Int("graphql.filter.depth", f.Depth),
			attribute.StringSlice("graphql.filter.fields", f.UsedFields),
		)
	}

	records, err := r.queryRecords(ctx, plan.Entity, plan.Root.SQL, plan.Root.Args)
	if err != nil {
		finishResolverSpan(span, err)
		return nil, err
	}

	hasMore := len(records) > plan.PageSize
	if hasMore {
		records = records[:plan.PageSize]
	}
	if plan.Direction == planner.Backward {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	}

	edges := make([]map[string]interface{}, len(records))
	nodes := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		node := rec.Node()
		nodes[i] = node
		edges[i] = map[string]interface{}{
			"cursor": r.encodeCursor(plan, node),
			"node":   node,
		}
	}

	opposite := false
	if plan.HasCursor {
		edgeValues, inclusive := plan.CursorValues, true
		if len(nodes) > 0 {
			boundary := nodes[0]
			if plan.Direction == planner.Backward {
				boundary = nodes[len(nodes)-1]
			}
			edgeValues, inclusive = planner.CursorValues(plan.OrderBy, boundary), false
		}
		opposite, err = r.rowsExist(ctx, plan, edgeValues, inclusive)
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}
	}

	hasNext, hasPrev := hasMore, opposite
	if plan.Direction == planner.Backward {
		hasNext, hasPrev = opposite, hasMore
	}

	startCursor, endCursor := "", ""
	if len(edges) > 0 {
		startCursor = edges[0]["cursor"].(string)
		endCursor = edges[len(edges)-1]["cursor"].(string)
	}

	span.SetAttributes(attribute.Int("graphql.connection.rows", len(edges)))
	finishResolverSpan(span, nil)

	return map[string]interface{}{
		"edges": edges,
		"pageInfo": map[string]interface{}{
			"hasNextPage":     hasNext,
			"hasPreviousPage": hasPrev,
			"startCursor":     startCursor,
			"endCursor":       endCursor,
		},
		"__connectionResult": &connectionResult{
			// totalCount resolves after the page resolver returns.
			ctx:     context.WithoutCancel(ctx),
			querier: dbexec.QuerierForContext(ctx, r.executor),
			count:   plan.Count,
		},
	}, nil
}

func (r *Resolver) encodeCursor(plan *planner.ConnectionPlan, node map[string]interface{}) string {
	return cursor.Encode(plan.Entity.Name, plan.OrderBy.Key(), plan.OrderBy.Directions(), planner.CursorValues(plan.OrderBy, node)...)
}

func (r *Resolver) rowsExist(ctx context.Context, plan *planner.ConnectionPlan, edgeValues []interface{}, inclusive bool) (bool, error) {
	query, err := plan.BeyondPageSQL(edgeValues, inclusive)
	if err != nil {
		return false, err
	}
	rows, err := dbexec.QuerierForContext(ctx, r.executor).QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return false, fmt.Errorf("page boundary query: %w", err)
	}
	defer rows.Close()
	exists := rows.Next()
	return exists, rows.Err()
}

// queryRecords runs a select built from entity.RecordColumns and scans every
// row.
func (r *Resolver) queryRecords(ctx context.Context, entity *catalog.Entity, query string, args []interface{}) ([]catalog.Record, error) {
	rows, err := dbexec.QuerierForContext(ctx, r.executor).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity.Table, err)
	}
	defer rows.Close()

	var records []catalog.Record
	for rows.Next() {
		rec, err := entity.ScanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
