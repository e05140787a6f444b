package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/datafilter"
	"tenantdb/internal/core/entity"
	"tenantdb/internal/core/id"
)

type order struct {
	entity.BaseEntity
	entity.Versioning
	entity.MustHaveTenantField
	entity.SoftDeleteFields
	Number string `db:"number"`
	Memo   string
}

type tag struct {
	ID   int64 `db:"id"`
	entity.MayHaveTenantField
	Label string `db:"label"`
}

type plain struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func TestColumnsOf_IncludesEmbedded(t *testing.T) {
	cols := ColumnsOf[order]()
	assert.Equal(t, []string{
		"id", "version", "tenant_id", "is_deleted", "deleted_at", "deleted_by", "number",
	}, cols)
}

func TestStructToMapAndValues(t *testing.T) {
	now := time.Now().UTC()
	o := &order{Number: "INV-1"}
	o.ID = id.New()
	o.Version = 4
	o.TenantID = 9
	o.MarkDeleted(now, nil)

	m := StructToMap(o)
	assert.Equal(t, o.ID, m["id"])
	assert.Equal(t, 4, m["version"])
	assert.Equal(t, int64(9), m["tenant_id"])
	assert.Equal(t, true, m["is_deleted"])
	assert.Equal(t, "INV-1", m["number"])
	assert.NotContains(t, m, "Memo")

	assert.Equal(t, []any{"INV-1", int64(9), nil}, Values(o, []string{"number", "tenant_id", "missing"}))
}

func TestFieldPointer(t *testing.T) {
	tg := &tag{}
	ptr, ok := FieldPointer(tg, "id")
	require.True(t, ok)
	*(ptr.(*int64)) = 42
	assert.Equal(t, int64(42), tg.ID)

	_, ok = FieldPointer(tg, "nope")
	assert.False(t, ok)
	_, ok = FieldPointer(*tg, "id")
	assert.False(t, ok, "non-pointer values are not addressable")
}

func TestBuild_InfersCapabilitiesAndAttachesFilter(t *testing.T) {
	b := NewBuilder()
	Register[order](b, Definition{Name: "orders", Table: "orders"})
	Register[tag](b, Definition{Table: "tags", KeyGeneration: KeyDatabase})
	Register[plain](b, Definition{Table: "plains"})

	reg, err := b.Build()
	require.NoError(t, err)

	d, ok := reg.Lookup(&order{})
	require.True(t, ok)
	assert.Equal(t, "orders", d.Name)
	assert.Equal(t, entity.SoftDelete|entity.MustHaveTenant, d.Capabilities)
	assert.Equal(t, "version", d.VersionColumn)
	assert.NotNil(t, d.Filter)
	assert.Equal(t, []string{"tenant_id", "is_deleted", "deleted_at", "deleted_by", "number"}, d.UpdateColumns())

	_, ok = reg.ByName("tag")
	assert.True(t, ok, "names default to the Go type name")

	d, ok = reg.Lookup(tag{})
	require.True(t, ok)
	assert.Equal(t, entity.MayHaveTenant, d.Capabilities)
	assert.False(t, d.Versioned())
	assert.Equal(t, []string{"tenant_id", "label"}, d.InsertColumns())

	d, ok = reg.Lookup(&plain{})
	require.True(t, ok)
	assert.Nil(t, d.Filter)

	assert.Len(t, reg.Descriptors(), 3)
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		register func(b *Builder)
		contains string
	}{
		{
			name: "declared but not implemented",
			register: func(b *Builder) {
				Register[plain](b, Definition{Table: "plains", Capabilities: entity.SoftDelete})
			},
			contains: "declares soft_delete but does not implement it",
		},
		{
			name: "implemented but not declared",
			register: func(b *Builder) {
				Register[order](b, Definition{Table: "orders", Capabilities: entity.SoftDelete})
			},
			contains: "implements must_have_tenant but does not declare it",
		},
		{
			name: "missing table",
			register: func(b *Builder) {
				Register[plain](b, Definition{})
			},
			contains: "table is required",
		},
		{
			name: "unmapped marker column",
			register: func(b *Builder) {
				Register[tag](b, Definition{Table: "tags", Columns: datafilterColumns("org_id")})
			},
			contains: `tenant column "org_id" is not mapped`,
		},
		{
			name: "duplicate type",
			register: func(b *Builder) {
				Register[plain](b, Definition{Table: "a"})
				Register[plain](b, Definition{Name: "other", Table: "b"})
			},
			contains: "registered twice",
		},
		{
			name: "non-struct",
			register: func(b *Builder) {
				Register[int](b, Definition{Table: "ints"})
			},
			contains: "must be structs",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			tt.register(b)
			reg, err := b.Build()
			assert.Nil(t, reg)
			require.Error(t, err)
			assert.True(t, apperror.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func datafilterColumns(tenantCol string) datafilter.Columns {
	return datafilter.Columns{TenantID: tenantCol}
}
