package mutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/permissions"
)

func TestDescriptors(t *testing.T) {
	reg, err := catalog.Default()
	require.NoError(t, err)
	ds, err := Descriptors(reg)
	require.NoError(t, err)

	assert.NotContains(t, ds, catalog.Organization)

	cat := ds[catalog.Category]
	require.True(t, cat.HasChildren())
	assert.Equal(t, catalog.Subcategory, cat.Child.Name)
	assert.Equal(t, "category_subcategory", cat.ChildRelation.JoinTable)
	assert.Equal(t, "subcategoryIds", cat.ChildAttribute)
	assert.Equal(t, "AddSubcategoriesToCategoryInput", cat.InputTypeName(FamilyAddRelation))
	assert.Equal(t, "RemoveSubcategoriesFromCategoryInput", cat.InputTypeName(FamilyRemoveRelation))

	sub := ds[catalog.Subcategory]
	assert.False(t, sub.HasChildren())
	assert.True(t, sub.Supports(FamilyUpdate))
	assert.False(t, sub.Supports(FamilyAddRelation))

	prog := ds[catalog.Program]
	assert.Equal(t, catalog.Subject, prog.Child.Name)
	assert.Equal(t, permissions.DeletePrograms, prog.permissionFor(FamilyDelete))
	assert.Equal(t, permissions.EditPrograms, prog.permissionFor(FamilyAddRelation))

	assert.Equal(t, "categoryIds", ds[catalog.Subject].ChildAttribute)
}

func TestDuplicateIndexes(t *testing.T) {
	assert.Equal(t, []int{2, 4}, duplicateIndexes([]string{"a", "b", "a", "", "b", ""}))
	assert.Nil(t, duplicateIndexes([]string{"a", "b"}))
}

func TestLimitsNormalized(t *testing.T) {
	assert.Equal(t, DefaultLimits(), Limits{}.normalized())
	assert.Equal(t, Limits{MinInputArraySize: 5, MaxInputArraySize: 5}, Limits{MinInputArraySize: 5, MaxInputArraySize: 2}.normalized())
}
