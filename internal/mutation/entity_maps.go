package mutation

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/sqlutil"
)

// nameKey scopes a name to an organization. System records use an empty
// OrganizationID.
type nameKey struct {
	OrganizationID string
	Name           string
}

type pairKey struct {
	ParentID string
	ChildID  string
}

// EntityMaps is the per-batch snapshot every validator reads from. Only
// ACTIVE records are loaded, so a missing key means "missing or inactive".
type EntityMaps struct {
	Primary          map[string]catalog.Record
	Children         map[string]catalog.Record
	Organizations    map[string]catalog.Record
	ConflictingNames map[nameKey]catalog.Record
	Pairs            map[pairKey]struct{}
}

func newEntityMaps() *EntityMaps {
	return &EntityMaps{
		Primary:          map[string]catalog.Record{},
		Children:         map[string]catalog.Record{},
		Organizations:    map[string]catalog.Record{},
		ConflictingNames: map[nameKey]catalog.Record{},
		Pairs:            map[pairKey]struct{}{},
	}
}

// preloadRequest lists every id and key a batch references.
type preloadRequest struct {
	primaryIDs []string
	childIDs   []string
	orgIDs     []string
	// scopedNames matches exact (organization, name) tuples.
	scopedNames []nameKey
	// names matches a name in any organization.
	names       []string
	pairParents []string
}

// generateEntityMaps issues at most one query per map, independent of the
// batch size. Queries run concurrently unless the request shares a
// transaction, which cannot serve concurrent statements.
func (p *Pipeline) generateEntityMaps(ctx context.Context, d *Descriptor, req preloadRequest) (*EntityMaps, error) {
	ctx, span := p.tracer.Start(ctx, "mutation.preload")
	defer span.End()

	q := dbexec.QuerierForContext(ctx, p.exec)
	maps := newEntityMaps()

	g, gctx := errgroup.WithContext(ctx)
	if dbexec.MutationContextFromContext(ctx) != nil {
		g.SetLimit(1)
	}

	queries := 0
	if ids := uniqueNonEmpty(req.primaryIDs); len(ids) > 0 {
		queries++
		g.Go(func() error {
			return loadRecords(gctx, q, d.Entity, ids, maps.Primary)
		})
	}
	if ids := uniqueNonEmpty(req.childIDs); len(ids) > 0 && d.HasChildren() {
		queries++
		g.Go(func() error {
			return loadRecords(gctx, q, d.Child, ids, maps.Children)
		})
	}
	if ids := uniqueNonEmpty(req.orgIDs); len(ids) > 0 {
		queries++
		g.Go(func() error {
			return loadRecords(gctx, q, p.organization, ids, maps.Organizations)
		})
	}
	if len(req.scopedNames) > 0 || len(req.names) > 0 {
		queries++
		g.Go(func() error {
			return loadConflictingNames(gctx, q, d.Entity, req, maps.ConflictingNames)
		})
	}
	if ids := uniqueNonEmpty(req.pairParents); len(ids) > 0 && d.HasChildren() {
		queries++
		g.Go(func() error {
			return loadPairs(gctx, q, d.ChildRelation, ids, maps.Pairs)
		})
	}

	span.SetAttributes(attribute.Int("mutation.preload.queries", queries))
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return maps, nil
}

func selectRecords(entity *catalog.Entity) sq.SelectBuilder {
	cols := entity.RecordColumns()
	selected := make([]string, len(cols))
	for i, col := range cols {
		selected[i] = sqlutil.QualifiedColumn(entity.Table, col)
	}
	return sq.Select(selected...).
		From(sqlutil.QuoteIdentifier(entity.Table)).
		Where(sq.Eq{sqlutil.QualifiedColumn(entity.Table, entity.StatusColumn): string(catalog.StatusActive)}).
		PlaceholderFormat(sq.Question)
}

func loadRecords(ctx context.Context, q dbexec.Querier, entity *catalog.Entity, ids []string, into map[string]catalog.Record) error {
	query, args, err := selectRecords(entity).
		Where(sq.Eq{sqlutil.QualifiedColumn(entity.Table, entity.PK().Column): ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s preload: %w", entity.Name, err)
	}
	return scanRecords(ctx, q, entity, query, args, func(rec catalog.Record) {
		into[rec.ID] = rec
	})
}

func loadConflictingNames(ctx context.Context, q dbexec.Querier, entity *catalog.Entity, req preloadRequest, into map[nameKey]catalog.Record) error {
	nameCol := sqlutil.QualifiedColumn(entity.Table, entity.NameColumn)
	orgCol := sqlutil.QualifiedColumn(entity.Table, entity.OrganizationColumn)

	var match sq.Or
	if names := uniqueNonEmpty(req.names); len(names) > 0 {
		match = append(match, sq.Eq{nameCol: names})
	}
	seen := make(map[nameKey]struct{}, len(req.scopedNames))
	for _, key := range req.scopedNames {
		if key.Name == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		var org interface{}
		if key.OrganizationID != "" {
			org = key.OrganizationID
		}
		match = append(match, sq.Eq{orgCol: org, nameCol: key.Name})
	}
	if len(match) == 0 {
		return nil
	}

	query, args, err := selectRecords(entity).Where(match).ToSql()
	if err != nil {
		return fmt.Errorf("build %s name preload: %w", entity.Name, err)
	}
	return scanRecords(ctx, q, entity, query, args, func(rec catalog.Record) {
		into[nameKey{OrganizationID: rec.OrganizationID, Name: rec.Name}] = rec
	})
}

func loadPairs(ctx context.Context, q dbexec.Querier, rel catalog.Relation, parentIDs []string, into map[pairKey]struct{}) error {
	query, args, err := sq.Select(
		sqlutil.QuoteIdentifier(rel.ParentColumn),
		sqlutil.QuoteIdentifier(rel.ChildColumn),
	).
		From(sqlutil.QuoteIdentifier(rel.JoinTable)).
		Where(sq.Eq{sqlutil.QuoteIdentifier(rel.ParentColumn): parentIDs}).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s preload: %w", rel.JoinTable, err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("preload %s: %w", rel.JoinTable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key pairKey
		if err := rows.Scan(&key.ParentID, &key.ChildID); err != nil {
			return fmt.Errorf("scan %s: %w", rel.JoinTable, err)
		}
		into[key] = struct{}{}
	}
	return rows.Err()
}

func scanRecords(ctx context.Context, q dbexec.Querier, entity *catalog.Entity, query string, args []interface{}, fn func(catalog.Record)) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("preload %s: %w", entity.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := entity.ScanRecord(rows.Scan)
		if err != nil {
			return err
		}
		fn(rec)
	}
	return rows.Err()
}

// uniqueNonEmpty deduplicates values, keeping first-seen order.
func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
