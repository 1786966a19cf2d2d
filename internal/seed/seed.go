// Package seed creates the taxonomy tables and loads the system records
// every organization can use.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/sqlutil"
)

//go:embed schema.sql
var schemaSQL string

//go:embed taxonomy.yaml
var taxonomyYAML []byte

// Item is one system record with the ids of its children.
type Item struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Children []string `yaml:"-"`
}

type categoryItem struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Subcategories []string `yaml:"subcategories"`
}

type subjectItem struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Categories []string `yaml:"categories"`
}

type programItem struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Subjects []string `yaml:"subjects"`
}

type document struct {
	Subcategories []Item         `yaml:"subcategories"`
	Categories    []categoryItem `yaml:"categories"`
	Subjects      []subjectItem  `yaml:"subjects"`
	Programs      []programItem  `yaml:"programs"`
}

// Taxonomy is the parsed system data set.
type Taxonomy struct {
	Subcategories []Item
	Categories    []Item
	Subjects      []Item
	Programs      []Item
}

// Result counts the rows written by Seed.
type Result struct {
	Subcategories int `json:"subcategories"`
	Categories    int `json:"categories"`
	Subjects      int `json:"subjects"`
	Programs      int `json:"programs"`
	Links         int `json:"links"`
}

// DefaultTaxonomy parses the embedded data set.
func DefaultTaxonomy() (*Taxonomy, error) {
	return Parse(taxonomyYAML)
}

// Parse decodes and validates a taxonomy document. Every id must be a UUID and
// every child reference must resolve within the document.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	t := &Taxonomy{Subcategories: doc.Subcategories}
	for _, c := range doc.Categories {
		t.Categories = append(t.Categories, Item{ID: c.ID, Name: c.Name, Children: c.Subcategories})
	}
	for _, s := range doc.Subjects {
		t.Subjects = append(t.Subjects, Item{ID: s.ID, Name: s.Name, Children: s.Categories})
	}
	for _, p := range doc.Programs {
		t.Programs = append(t.Programs, Item{ID: p.ID, Name: p.Name, Children: p.Subjects})
	}

	subcategories, err := index("subcategories", t.Subcategories)
	if err != nil {
		return nil, err
	}
	categories, err := index("categories", t.Categories)
	if err != nil {
		return nil, err
	}
	subjects, err := index("subjects", t.Subjects)
	if err != nil {
		return nil, err
	}
	if _, err := index("programs", t.Programs); err != nil {
		return nil, err
	}

	checks := []struct {
		section string
		items   []Item
		targets map[string]struct{}
	}{
		{"categories", t.Categories, subcategories},
		{"subjects", t.Subjects, categories},
		{"programs", t.Programs, subjects},
	}
	for _, c := range checks {
		for _, item := range c.items {
			for _, child := range item.Children {
				if _, ok := c.targets[child]; !ok {
					return nil, fmt.Errorf("taxonomy %s %s: unknown child %s", c.section, item.ID, child)
				}
			}
		}
	}
	return t, nil
}

func index(section string, items []Item) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, err := uuid.Parse(item.ID); err != nil {
			return nil, fmt.Errorf("taxonomy %s: invalid id %q: %w", section, item.ID, err)
		}
		if strings.TrimSpace(item.Name) == "" {
			return nil, fmt.Errorf("taxonomy %s %s: name is required", section, item.ID)
		}
		if _, dup := ids[item.ID]; dup {
			return nil, fmt.Errorf("taxonomy %s: duplicate id %s", section, item.ID)
		}
		ids[item.ID] = struct{}{}
	}
	return ids, nil
}

// Seeder writes the schema and system records.
type Seeder struct {
	exec     dbexec.QueryExecutor
	reg      *catalog.Registry
	taxonomy *Taxonomy
	logger   *slog.Logger
}

// NewSeeder creates a Seeder for the given data set.
func NewSeeder(exec dbexec.QueryExecutor, reg *catalog.Registry, taxonomy *Taxonomy, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{exec: exec, reg: reg, taxonomy: taxonomy, logger: logger}
}

// SchemaStatements returns the DDL statements in execution order.
func SchemaStatements() []string {
	var out []string
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// ApplySchema creates missing tables. Existing tables are left untouched.
func (s *Seeder) ApplySchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements() {
		if _, err := s.exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "schema applied", slog.Int("statements", len(SchemaStatements())))
	return nil
}

// Seed upserts the system records in one transaction. Running it again
// restores names and attaches missing children; it never detaches.
func (s *Seeder) Seed(ctx context.Context) (Result, error) {
	type step struct {
		entity   string
		relation string
		items    []Item
		count    *int
	}
	var res Result
	steps := []step{
		{catalog.Subcategory, "", s.taxonomy.Subcategories, &res.Subcategories},
		{catalog.Category, "subcategories", s.taxonomy.Categories, &res.Categories},
		{catalog.Subject, "categories", s.taxonomy.Subjects, &res.Subjects},
		{catalog.Program, "subjects", s.taxonomy.Programs, &res.Programs},
	}

	err := dbexec.RunInTx(ctx, s.exec, func(tx dbexec.Querier) error {
		for _, st := range steps {
			entity, ok := s.reg.Entity(st.entity)
			if !ok {
				return fmt.Errorf("seed: entity %s not registered", st.entity)
			}
			if err := upsertRecords(ctx, tx, entity, st.items); err != nil {
				return err
			}
			*st.count = len(st.items)
			if st.relation == "" {
				continue
			}
			rel, ok := entity.Relation(st.relation)
			if !ok {
				return fmt.Errorf("seed: %s has no relation %s", st.entity, st.relation)
			}
			links, err := attachChildren(ctx, tx, rel, st.items)
			if err != nil {
				return err
			}
			res.Links += links
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.InfoContext(ctx, "system taxonomy seeded",
		slog.Int("subcategories", res.Subcategories),
		slog.Int("categories", res.Categories),
		slog.Int("subjects", res.Subjects),
		slog.Int("programs", res.Programs),
		slog.Int("links", res.Links),
	)
	return res, nil
}

func upsertRecords(ctx context.Context, tx dbexec.Querier, entity *catalog.Entity, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	cols := []string{entity.PK().Column, entity.NameColumn, entity.SystemColumn, entity.OrganizationColumn, entity.StatusColumn}
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = sqlutil.QuoteIdentifier(col)
	}
	builder := sq.Insert(sqlutil.QuoteIdentifier(entity.Table)).
		Columns(quoted...).
		PlaceholderFormat(sq.Question)
	for _, item := range items {
		builder = builder.Values(item.ID, item.Name, true, nil, string(catalog.StatusActive))
	}

	updates := make([]string, 0, 3)
	for _, col := range quoted[1:4] {
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", col, col))
	}
	builder = builder.Suffix("ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", "))

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build %s seed: %w", entity.Table, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("seed %s: %w", entity.Table, err)
	}
	return nil
}

func attachChildren(ctx context.Context, tx dbexec.Querier, rel catalog.Relation, items []Item) (int, error) {
	builder := sq.Insert(sqlutil.QuoteIdentifier(rel.JoinTable)).
		Options("IGNORE").
		Columns(sqlutil.QuoteIdentifier(rel.ParentColumn), sqlutil.QuoteIdentifier(rel.ChildColumn)).
		PlaceholderFormat(sq.Question)
	links := 0
	for _, item := range items {
		for _, child := range item.Children {
			builder = builder.Values(item.ID, child)
			links++
		}
	}
	if links == 0 {
		return 0, nil
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s seed: %w", rel.JoinTable, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("seed %s: %w", rel.JoinTable, err)
	}
	return links, nil
}
