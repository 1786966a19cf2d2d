package mutation

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/sqlutil"
)

// writer issues the batched statements of one batch. Each method sends at
// most one statement no matter how many rows it touches.
type writer struct {
	tx  dbexec.Querier
	d   *Descriptor
	now time.Time
}

func (w *writer) exec(ctx context.Context, builder sq.Sqlizer, what string) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", what, err)
	}
	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// insertRecords writes new rows in one multi-row INSERT.
func (w *writer) insertRecords(ctx context.Context, records []catalog.Record) error {
	if len(records) == 0 {
		return nil
	}
	e := w.d.Entity
	cols := e.RecordColumns()
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = sqlutil.QuoteIdentifier(col)
	}
	builder := sq.Insert(sqlutil.QuoteIdentifier(e.Table)).
		Columns(quoted...).
		PlaceholderFormat(sq.Question)
	for _, rec := range records {
		builder = builder.Values(recordValues(e, rec)...)
	}
	return w.exec(ctx, builder, "insert "+e.Table)
}

// recordValues returns rec's values in RecordColumns order.
func recordValues(e *catalog.Entity, rec catalog.Record) []interface{} {
	values := []interface{}{rec.ID, rec.Name}
	if e.SystemColumn != "" {
		values = append(values, rec.System)
	}
	if e.OrganizationColumn != "" {
		var org interface{}
		if rec.OrganizationID != "" {
			org = rec.OrganizationID
		}
		values = append(values, org)
	}
	values = append(values, string(rec.Status))
	if e.CreatedAtColumn != "" {
		values = append(values, rec.CreatedAt)
	}
	return values
}

// rename sets new names with a single CASE expression.
func (w *writer) rename(ctx context.Context, names map[string]string, order []string) error {
	if len(order) == 0 {
		return nil
	}
	e := w.d.Entity
	pk := sqlutil.QuoteIdentifier(e.PK().Column)

	var sb strings.Builder
	sb.WriteString("CASE ")
	sb.WriteString(pk)
	args := make([]interface{}, 0, len(order)*2)
	for _, id := range order {
		sb.WriteString(" WHEN ? THEN ?")
		args = append(args, id, names[id])
	}
	sb.WriteString(" END")

	builder := sq.Update(sqlutil.QuoteIdentifier(e.Table)).
		Set(sqlutil.QuoteIdentifier(e.NameColumn), sq.Expr(sb.String(), args...)).
		Where(sq.Eq{pk: order}).
		PlaceholderFormat(sq.Question)
	return w.exec(ctx, builder, "rename "+e.Table)
}

// softDelete marks rows inactive. Rows are never removed.
func (w *writer) softDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	e := w.d.Entity
	builder := sq.Update(sqlutil.QuoteIdentifier(e.Table)).
		Set(sqlutil.QuoteIdentifier(e.StatusColumn), string(catalog.StatusInactive))
	if e.DeletedAtColumn != "" {
		builder = builder.Set(sqlutil.QuoteIdentifier(e.DeletedAtColumn), w.now)
	}
	builder = builder.
		Where(sq.Eq{sqlutil.QuoteIdentifier(e.PK().Column): ids}).
		PlaceholderFormat(sq.Question)
	return w.exec(ctx, builder, "delete "+e.Table)
}

// insertPairs attaches children in one multi-row INSERT.
func (w *writer) insertPairs(ctx context.Context, pairs []pairKey) error {
	if len(pairs) == 0 {
		return nil
	}
	rel := w.d.ChildRelation
	builder := sq.Insert(sqlutil.QuoteIdentifier(rel.JoinTable)).
		Columns(sqlutil.QuoteIdentifier(rel.ParentColumn), sqlutil.QuoteIdentifier(rel.ChildColumn)).
		PlaceholderFormat(sq.Question)
	for _, p := range pairs {
		builder = builder.Values(p.ParentID, p.ChildID)
	}
	return w.exec(ctx, builder, "insert "+rel.JoinTable)
}

// deletePairs detaches exactly the listed (parent, child) pairs.
func (w *writer) deletePairs(ctx context.Context, pairs []pairKey) error {
	if len(pairs) == 0 {
		return nil
	}
	rel := w.d.ChildRelation
	tuples := make([]string, len(pairs))
	args := make([]interface{}, 0, len(pairs)*2)
	for i, p := range pairs {
		tuples[i] = "(" + sqlutil.Placeholders(2) + ")"
		args = append(args, p.ParentID, p.ChildID)
	}
	lhs := "(" + sqlutil.QuoteColumns("", []string{rel.ParentColumn, rel.ChildColumn}) + ")"
	builder := sq.Delete(sqlutil.QuoteIdentifier(rel.JoinTable)).
		Where(sq.Expr(lhs+" IN ("+strings.Join(tuples, ", ")+")", args...)).
		PlaceholderFormat(sq.Question)
	return w.exec(ctx, builder, "delete "+rel.JoinTable)
}

// clearChildren detaches every child of the parents.
func (w *writer) clearChildren(ctx context.Context, parentIDs []string) error {
	if len(parentIDs) == 0 {
		return nil
	}
	rel := w.d.ChildRelation
	builder := sq.Delete(sqlutil.QuoteIdentifier(rel.JoinTable)).
		Where(sq.Eq{sqlutil.QuoteIdentifier(rel.ParentColumn): parentIDs}).
		PlaceholderFormat(sq.Question)
	return w.exec(ctx, builder, "clear "+rel.JoinTable)
}

func pairsFor(parentID string, childIDs []string) []pairKey {
	pairs := make([]pairKey, len(childIDs))
	for i, id := range childIDs {
		pairs[i] = pairKey{ParentID: parentID, ChildID: id}
	}
	return pairs
}
