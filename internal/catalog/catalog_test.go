package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	names := make([]string, 0)
	for _, e := range reg.Entities() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{Organization, Category, Subcategory, Subject, Program}, names)

	category := reg.MustEntity(Category)
	assert.Equal(t, "Categories", category.Plural())
	assert.Equal(t, "categories", category.PluralFieldName())
	assert.Equal(t, "category", category.FieldName())
	assert.True(t, category.OrganizationScoped())

	rel, ok := category.Relation("subcategories")
	require.True(t, ok)
	assert.Equal(t, "category_subcategory", rel.JoinTable)
	assert.Equal(t, "category_id", rel.ParentColumn)

	org := reg.MustEntity(Organization)
	assert.False(t, org.OrganizationScoped())
	assert.Equal(t, "organization_id", org.PK().Column)
}

func TestPluralNames(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "subcategories", reg.MustEntity(Subcategory).PluralFieldName())
	assert.Equal(t, "subjects", reg.MustEntity(Subject).PluralFieldName())
	assert.Equal(t, "programs", reg.MustEntity(Program).PluralFieldName())
	assert.Equal(t, "organizations", reg.MustEntity(Organization).PluralFieldName())
}

func TestNewRegistry_RejectsInvalidIdentifiers(t *testing.T) {
	bad := taxonomyEntity("Widget", "widget; DROP TABLE x")
	_, err := NewRegistry(organizationEntity(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
}

func TestNewRegistry_RejectsUnknownTarget(t *testing.T) {
	e := taxonomyEntity("Widget", "widget", manyToMany("gadgets", "Gadget", "widget_gadget", "widget_id", "gadget_id"))
	_, err := NewRegistry(organizationEntity(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target entity Gadget")
}

func TestNewRegistry_RejectsMissingPrimaryKey(t *testing.T) {
	e := taxonomyEntity("Widget", "widget")
	e.PrimaryKey = "uuid"
	_, err := NewRegistry(organizationEntity(), e)
	require.Error(t, err)
}

func TestEnumDBValue(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	status, ok := reg.MustEntity(Subject).Field("status")
	require.True(t, ok)

	v, ok := status.EnumDBValue("INACTIVE")
	assert.True(t, ok)
	assert.Equal(t, "inactive", v)

	_, ok = status.EnumDBValue("inactive")
	assert.False(t, ok)
}

func TestScanRecord(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	program := reg.MustEntity(Program)
	assert.Equal(t, []string{"id", "name", "system", "organization_id", "status", "created_at"}, program.RecordColumns())

	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec, err := program.ScanRecord(func(dest ...interface{}) error {
		require.Len(t, dest, 6)
		*dest[0].(*string) = "p1"
		*dest[1].(*string) = "ESL"
		require.NoError(t, dest[2].(interface{ Scan(interface{}) error }).Scan(true))
		require.NoError(t, dest[3].(interface{ Scan(interface{}) error }).Scan(nil))
		*dest[4].(*string) = "active"
		require.NoError(t, dest[5].(interface{ Scan(interface{}) error }).Scan(created))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Record{ID: "p1", Name: "ESL", System: true, Status: StatusActive, CreatedAt: created}, rec)

	node := rec.Node()
	assert.Equal(t, "ACTIVE", node["status"])
	assert.Nil(t, node["organizationId"])
	assert.Equal(t, true, node["system"])
}

func TestScanRecord_OrganizationColumns(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	org := reg.MustEntity(Organization)
	assert.Equal(t, []string{"organization_id", "organization_name", "status", "created_at"}, org.RecordColumns())

	_, err = org.ScanRecord(func(dest ...interface{}) error {
		assert.Len(t, dest, 4)
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan Organization")
}
