package resolver

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/cursor"
	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/mutation"
	"taxonomy-graphql/internal/permissions"
	"taxonomy-graphql/internal/planner"
)

var (
	fixedNow   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	recordCols = []string{"id", "name", "system", "organization_id", "status", "created_at"}

	categoryPage   = regexp.QuoteMeta("SELECT `category`.`id`, `category`.`name`")
	categoryExists = regexp.QuoteMeta("SELECT 1 FROM `category`")
	categoryCount  = regexp.QuoteMeta("SELECT COUNT(*) FROM (SELECT `category`.`id` FROM `category`")
)

type testEnv struct {
	schema graphql.Schema
	mock   sqlmock.Sqlmock
	exec   *dbexec.StandardExecutor
}

func newTestEnv(t *testing.T, withMutations bool) *testEnv {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	reg, err := catalog.Default()
	require.NoError(t, err)
	exec := dbexec.NewStandardExecutor(db)

	var pipeline *mutation.Pipeline
	if withMutations {
		seq := 0
		pipeline, err = mutation.NewPipeline(exec, reg, mutation.Options{
			Now: func() time.Time { return fixedNow },
			NewID: func() string {
				seq++
				return fmt.Sprintf("new-%d", seq)
			},
		})
		require.NoError(t, err)
	}

	r, err := NewResolver(exec, reg, pipeline, Options{Limits: planner.DefaultLimits()})
	require.NoError(t, err)
	schema, err := r.BuildGraphQLSchema()
	require.NoError(t, err)
	return &testEnv{schema: schema, mock: mock, exec: exec}
}

func (e *testEnv) do(ctx context.Context, query string) *graphql.Result {
	return graphql.Do(graphql.Params{Schema: e.schema, RequestString: query, Context: ctx})
}

func categoryRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows(recordCols)
	for _, id := range ids {
		rows.AddRow(id, "Category "+id, false, "org-1", "active", fixedNow)
	}
	return rows
}

func seq(from, to int) []string {
	var ids []string
	for i := from; i <= to; i++ {
		ids = append(ids, fmt.Sprintf("id-%02d", i))
	}
	return ids
}

func edgeIDs(t *testing.T, data interface{}, field string) []string {
	t.Helper()
	conn := data.(map[string]interface{})[field].(map[string]interface{})
	var ids []string
	for _, edge := range conn["edges"].([]interface{}) {
		node := edge.(map[string]interface{})["node"].(map[string]interface{})
		ids = append(ids, node["id"].(string))
	}
	return ids
}

func pageInfo(data interface{}, field string) map[string]interface{} {
	conn := data.(map[string]interface{})[field].(map[string]interface{})
	return conn["pageInfo"].(map[string]interface{})
}

func TestSchema_Fields(t *testing.T) {
	env := newTestEnv(t, true)

	query := env.schema.QueryType().Fields()
	for _, name := range []string{"organizationsConnection", "categoriesConnection", "subcategoriesConnection", "subjectsConnection", "programsConnection", "category", "organization"} {
		assert.Contains(t, query, name)
	}

	mutations := env.schema.MutationType().Fields()
	for _, name := range []string{
		"createCategories", "updateCategories", "deleteCategories",
		"addSubcategoriesToCategories", "removeSubcategoriesFromCategories",
		"createSubcategories", "addCategoriesToSubjects", "removeSubjectsFromPrograms",
	} {
		assert.Contains(t, mutations, name)
	}
	assert.NotContains(t, mutations, "createOrganizations")
	assert.NotContains(t, mutations, "addCategoriesToSubcategories")
}

func TestSchema_ReadOnlyWithoutPipeline(t *testing.T) {
	env := newTestEnv(t, false)
	assert.Nil(t, env.schema.MutationType())
}

func TestConnection_FirstPage(t *testing.T) {
	env := newTestEnv(t, false)
	env.mock.ExpectQuery(categoryPage + ".*ORDER BY `category`.`id` ASC LIMIT 6").
		WillReturnRows(categoryRows(seq(1, 6)...))
	env.mock.ExpectQuery(categoryCount).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	res := env.do(context.Background(), `{
		categoriesConnection(direction: FORWARD, directionArgs: {count: 5}) {
			totalCount
			pageInfo { hasNextPage hasPreviousPage startCursor endCursor }
			edges { cursor node { id name status } }
		}
	}`)
	require.Empty(t, res.Errors)

	assert.Equal(t, seq(1, 5), edgeIDs(t, res.Data, "categoriesConnection"))
	info := pageInfo(res.Data, "categoriesConnection")
	assert.Equal(t, true, info["hasNextPage"])
	assert.Equal(t, false, info["hasPreviousPage"])
	assert.Equal(t, cursor.Encode(catalog.Category, "id", []string{"ASC"}, "id-01"), info["startCursor"])
	assert.Equal(t, cursor.Encode(catalog.Category, "id", []string{"ASC"}, "id-05"), info["endCursor"])

	conn := res.Data.(map[string]interface{})["categoriesConnection"].(map[string]interface{})
	assert.Equal(t, 12, conn["totalCount"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestConnection_LastPageHasNoNext(t *testing.T) {
	env := newTestEnv(t, false)
	after := cursor.Encode(catalog.Category, "id", []string{"ASC"}, "id-10")
	env.mock.ExpectQuery(categoryPage + ".*> \\(\\?\\) ORDER BY").
		WithArgs("id-10").
		WillReturnRows(categoryRows("id-11", "id-12"))
	env.mock.ExpectQuery(categoryExists + ".*< \\(\\?\\) LIMIT 1").
		WithArgs("id-11").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	res := env.do(context.Background(), fmt.Sprintf(`{
		categoriesConnection(direction: FORWARD, directionArgs: {count: 5, cursor: %q}) {
			pageInfo { hasNextPage hasPreviousPage }
			edges { node { id } }
		}
	}`, after))
	require.Empty(t, res.Errors)

	assert.Equal(t, []string{"id-11", "id-12"}, edgeIDs(t, res.Data, "categoriesConnection"))
	info := pageInfo(res.Data, "categoriesConnection")
	assert.Equal(t, false, info["hasNextPage"])
	assert.Equal(t, true, info["hasPreviousPage"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestConnection_BackwardPageKeepsDisplayOrder(t *testing.T) {
	env := newTestEnv(t, false)
	before := cursor.Encode(catalog.Category, "id", []string{"ASC"}, "id-06")
	env.mock.ExpectQuery(categoryPage + ".*< \\(\\?\\) ORDER BY `category`.`id` DESC LIMIT 3").
		WithArgs("id-06").
		WillReturnRows(categoryRows("id-05", "id-04", "id-03"))
	env.mock.ExpectQuery(categoryExists + ".*> \\(\\?\\) LIMIT 1").
		WithArgs("id-05").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	res := env.do(context.Background(), fmt.Sprintf(`{
		categoriesConnection(direction: BACKWARD, directionArgs: {count: 2, cursor: %q}) {
			pageInfo { hasNextPage hasPreviousPage }
			edges { node { id } }
		}
	}`, before))
	require.Empty(t, res.Errors)

	assert.Equal(t, []string{"id-04", "id-05"}, edgeIDs(t, res.Data, "categoriesConnection"))
	info := pageInfo(res.Data, "categoriesConnection")
	assert.Equal(t, true, info["hasNextPage"])
	assert.Equal(t, true, info["hasPreviousPage"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestConnection_EmptyPageAfterCursor(t *testing.T) {
	env := newTestEnv(t, false)
	after := cursor.Encode(catalog.Category, "id", []string{"ASC"}, "id-12")
	env.mock.ExpectQuery(categoryPage).WillReturnRows(sqlmock.NewRows(recordCols))
	env.mock.ExpectQuery(categoryExists + ".*<= \\(\\?\\) LIMIT 1").
		WithArgs("id-12").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	res := env.do(context.Background(), fmt.Sprintf(`{
		categoriesConnection(direction: FORWARD, directionArgs: {cursor: %q}) {
			pageInfo { hasNextPage hasPreviousPage startCursor endCursor }
			edges { node { id } }
		}
	}`, after))
	require.Empty(t, res.Errors)

	info := pageInfo(res.Data, "categoriesConnection")
	assert.Equal(t, false, info["hasNextPage"])
	assert.Equal(t, true, info["hasPreviousPage"])
	assert.Equal(t, "", info["startCursor"])
	assert.Equal(t, "", info["endCursor"])
}

func TestConnection_SortByNameUsesTieBreakCursor(t *testing.T) {
	env := newTestEnv(t, false)
	env.mock.ExpectQuery(categoryPage + ".*ORDER BY `category`.`name` DESC, `category`.`id` DESC LIMIT 3").
		WillReturnRows(categoryRows("id-02", "id-01"))

	res := env.do(context.Background(), `{
		categoriesConnection(direction: FORWARD, directionArgs: {count: 2}, sort: {field: NAME, order: DESC}) {
			pageInfo { hasNextPage endCursor }
			edges { cursor node { id } }
		}
	}`)
	require.Empty(t, res.Errors)

	info := pageInfo(res.Data, "categoriesConnection")
	assert.Equal(t, false, info["hasNextPage"])
	assert.Equal(t, cursor.Encode(catalog.Category, "name", []string{"DESC", "DESC"}, "Category id-01", "id-01"), info["endCursor"])
}

func TestConnection_FilterIsBound(t *testing.T) {
	env := newTestEnv(t, false)
	env.mock.ExpectQuery(categoryPage + ".*`category`.`name` LIKE \\?").
		WithArgs("%Math%").
		WillReturnRows(categoryRows("id-01"))

	res := env.do(context.Background(), `{
		categoriesConnection(direction: FORWARD, filter: {name: {contains: "Math"}}) {
			edges { node { id } }
		}
	}`)
	require.Empty(t, res.Errors)
	assert.Equal(t, []string{"id-01"}, edgeIDs(t, res.Data, "categoriesConnection"))
}

func TestConnection_ErrorExtensions(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{
			name:  "malformed cursor",
			query: `{ categoriesConnection(direction: FORWARD, directionArgs: {cursor: "not-a-cursor"}) { edges { cursor } } }`,
			code:  "invalid_cursor",
		},
		{
			name:  "cursor for another sort",
			query: fmt.Sprintf(`{ categoriesConnection(direction: FORWARD, directionArgs: {cursor: %q}) { edges { cursor } } }`, cursor.Encode(catalog.Category, "name", []string{"ASC", "ASC"}, "Math", "id-1")),
			code:  "invalid_cursor",
		},
		{
			name:  "count above maximum",
			query: `{ categoriesConnection(direction: FORWARD, directionArgs: {count: 51}) { edges { cursor } } }`,
			code:  "invalid_page_size",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.do(context.Background(), tt.query)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.code, res.Errors[0].Extensions["code"])
		})
	}
	// Rejected before any SQL.
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestChildConnection(t *testing.T) {
	env := newTestEnv(t, false)
	env.mock.ExpectQuery(categoryPage + ".*WHERE `category`.`id` = \\? LIMIT 1").
		WithArgs("cat-1").
		WillReturnRows(categoryRows("cat-1"))
	env.mock.ExpectQuery(regexp.QuoteMeta("FROM `subcategory` JOIN `category_subcategory` ON `category_subcategory`.`subcategory_id` = `subcategory`.`id` WHERE `category_subcategory`.`category_id` = ?")).
		WithArgs("cat-1").
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow("sub-1", "Algebra", true, nil, "active", fixedNow))

	res := env.do(context.Background(), `{
		category(id: "cat-1") {
			id
			subcategoriesConnection(direction: FORWARD) { edges { node { id name system organizationId } } }
		}
	}`)
	require.Empty(t, res.Errors)

	category := res.Data.(map[string]interface{})["category"]
	assert.Equal(t, []string{"sub-1"}, edgeIDs(t, category, "subcategoriesConnection"))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestLookup_Missing(t *testing.T) {
	env := newTestEnv(t, false)
	env.mock.ExpectQuery(categoryPage).WithArgs("nope").WillReturnRows(sqlmock.NewRows(recordCols))

	res := env.do(context.Background(), `{ category(id: "nope") { id } }`)
	require.Empty(t, res.Errors)
	assert.Nil(t, res.Data.(map[string]interface{})["category"])
}

func editorContext() context.Context {
	set := permissions.NewSet("editor", false, map[string][]permissions.Permission{
		"org-1": {permissions.CreateSubjects, permissions.EditSubjects, permissions.DeleteSubjects},
	})
	return permissions.WithChecker(context.Background(), set)
}

func TestMutation_CreateCategories(t *testing.T) {
	env := newTestEnv(t, true)
	env.mock.ExpectQuery(regexp.QuoteMeta("FROM `organization` WHERE")).
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "organization_name", "status", "created_at"}).
			AddRow("org-1", "Org", "active", fixedNow))
	env.mock.ExpectQuery(regexp.QuoteMeta("FROM `category` WHERE")).
		WillReturnRows(sqlmock.NewRows(recordCols))
	env.mock.ExpectBegin()
	env.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `category`")).
		WithArgs("new-1", "Math", false, "org-1", "active", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	res := env.do(editorContext(), `mutation {
		createCategories(input: [{organizationId: "org-1", name: "Math"}]) {
			categories { id name status organizationId }
		}
	}`)
	require.Empty(t, res.Errors)

	payload := res.Data.(map[string]interface{})["createCategories"].(map[string]interface{})
	categories := payload["categories"].([]interface{})
	require.Len(t, categories, 1)
	node := categories[0].(map[string]interface{})
	assert.Equal(t, "new-1", node["id"])
	assert.Equal(t, "ACTIVE", node["status"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestMutation_RowErrorsInExtensions(t *testing.T) {
	env := newTestEnv(t, true)
	env.mock.ExpectQuery(regexp.QuoteMeta("FROM `organization` WHERE")).
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "organization_name", "status", "created_at"}).
			AddRow("org-1", "Org", "active", fixedNow))
	env.mock.ExpectQuery(regexp.QuoteMeta("FROM `category` WHERE")).
		WillReturnRows(sqlmock.NewRows(recordCols))

	res := env.do(editorContext(), `mutation {
		createCategories(input: [{organizationId: "org-1", name: "A"}, {organizationId: "org-1", name: "B"}, {organizationId: "org-1", name: "A"}]) {
			categories { id }
		}
	}`)
	require.Len(t, res.Errors, 1)
	ext := res.Errors[0].Extensions
	assert.Equal(t, "ERR_API_BAD_INPUT", ext["code"])

	rowErrors := ext["errors"].([]map[string]interface{})
	require.Len(t, rowErrors, 1)
	assert.Equal(t, "duplicate_attribute_values", rowErrors[0]["code"])
	assert.Equal(t, 2, rowErrors[0]["index"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestMutation_InputLengthIsRequestError(t *testing.T) {
	env := newTestEnv(t, true)

	res := env.do(editorContext(), `mutation { deleteCategories(input: []) { categories { id } } }`)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "invalid_array_min_length", res.Errors[0].Extensions["code"])
	assert.NotContains(t, res.Errors[0].Extensions, "index")
}

func TestMutation_FailedFieldDoesNotUndoSiblingField(t *testing.T) {
	env := newTestEnv(t, true)
	for i := 0; i < 2; i++ {
		env.mock.ExpectQuery(regexp.QuoteMeta("FROM `organization` WHERE")).
			WillReturnRows(sqlmock.NewRows([]string{"organization_id", "organization_name", "status", "created_at"}).
				AddRow("org-1", "Org", "active", fixedNow))
		env.mock.ExpectQuery(regexp.QuoteMeta("FROM `category` WHERE")).
			WillReturnRows(sqlmock.NewRows(recordCols))
	}
	env.mock.ExpectBegin()
	env.mock.ExpectExec("^SAVEPOINT batch_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `category`")).
		WithArgs("new-1", "Math", false, "org-1", "active", fixedNow).
		WillReturnError(fmt.Errorf("boom"))
	env.mock.ExpectExec("^ROLLBACK TO SAVEPOINT batch_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectExec("^SAVEPOINT batch_2$").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `category`")).
		WithArgs("new-2", "Physics", false, "org-1", "active", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("^RELEASE SAVEPOINT batch_2$").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectCommit()

	ctx := editorContext()
	tx, err := env.exec.BeginTx(ctx)
	require.NoError(t, err)
	mc := dbexec.NewMutationContext(tx)
	ctx = dbexec.WithMutationContext(ctx, mc)

	res := env.do(ctx, `mutation {
		a: createCategories(input: [{organizationId: "org-1", name: "Math"}]) { categories { id } }
		b: createCategories(input: [{organizationId: "org-1", name: "Physics"}]) { categories { id name } }
	}`)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "database_save_error", res.Errors[0].Extensions["code"])

	data := res.Data.(map[string]interface{})
	assert.Nil(t, data["a"])
	b := data["b"].(map[string]interface{})["categories"].([]interface{})
	require.Len(t, b, 1)
	assert.Equal(t, "new-2", b[0].(map[string]interface{})["id"])

	require.NoError(t, mc.Finalize())
	assert.False(t, mc.HasError())
	assert.NoError(t, env.mock.ExpectationsWereMet())
}
