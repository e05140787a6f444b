package querycache

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantdb/internal/core/datafilter"
)

func tenant(v int64) *int64 { return &v }

var listInvoices = Query{Entity: "invoices", Shape: "SELECT * FROM invoices WHERE number = ?"}

func TestFilterStateKey_DiffersBySignature(t *testing.T) {
	gen := NewFilterStateKeyGenerator(nil)

	host := gen.GenerateKey(listInvoices, datafilter.State{})
	t1 := gen.GenerateKey(listInvoices, datafilter.State{TenantID: tenant(1)})
	t2 := gen.GenerateKey(listInvoices, datafilter.State{TenantID: tenant(2)})
	t1NoSoftDelete := gen.GenerateKey(listInvoices, datafilter.State{
		TenantID: tenant(1),
		Toggles:  datafilter.Toggles{}.With(datafilter.SoftDelete, false),
	})

	assert.Equal(t, host.Inner, t1.Inner, "same shape, same inner key")
	keys := map[Key]struct{}{host: {}, t1: {}, t2: {}, t1NoSoftDelete: {}}
	assert.Len(t, keys, 4)

	again := gen.GenerateKey(listInvoices, datafilter.State{TenantID: tenant(1)})
	assert.Equal(t, t1, again)
}

func TestShapeKeyGenerator_SeparatesEntities(t *testing.T) {
	var gen ShapeKeyGenerator
	a := gen.GenerateKey(Query{Entity: "a", Shape: "bc"})
	b := gen.GenerateKey(Query{Entity: "ab", Shape: "c"})
	assert.NotEqual(t, a, b)
}

type constantKeys struct{}

func (constantKeys) GenerateKey(Query) uint64 { return 42 }

func TestFilterStateKey_InnerCollisionKeepsShapesApart(t *testing.T) {
	gen := NewFilterStateKeyGenerator(constantKeys{})
	cache := New(4)
	state := datafilter.State{TenantID: tenant(1)}

	byNumber := gen.GenerateKey(listInvoices, state)
	byCustomer := gen.GenerateKey(Query{Entity: "invoices", Shape: "SELECT * FROM invoices WHERE customer = ?"}, state)
	require.Equal(t, byNumber.Inner, byCustomer.Inner)
	assert.NotEqual(t, byNumber, byCustomer)

	first, _, err := cache.GetOrCompile(byNumber, func() (*Plan, error) { return &Plan{SQL: "number"}, nil })
	require.NoError(t, err)
	second, cached, err := cache.GetOrCompile(byCustomer, func() (*Plan, error) { return &Plan{SQL: "customer"}, nil })
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "number", first.SQL)
	assert.Equal(t, "customer", second.SQL)
}

func TestCache_NoPlanSharingAcrossSignatures(t *testing.T) {
	cache := New(16)
	gen := NewFilterStateKeyGenerator(nil)

	compileFor := func(tenantID int64) func() (*Plan, error) {
		return func() (*Plan, error) {
			return &Plan{SQL: "SELECT * FROM invoices WHERE (tenant_id = ?)", FilterArgs: []any{tenantID}}, nil
		}
	}

	p1, cached, err := cache.GetOrCompile(gen.GenerateKey(listInvoices, datafilter.State{TenantID: tenant(1)}), compileFor(1))
	require.NoError(t, err)
	assert.False(t, cached)

	p2, cached, err := cache.GetOrCompile(gen.GenerateKey(listInvoices, datafilter.State{TenantID: tenant(2)}), compileFor(2))
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []any{int64(2), "X"}, p2.Args("X"))

	again, cached, err := cache.GetOrCompile(gen.GenerateKey(listInvoices, datafilter.State{TenantID: tenant(1)}), compileFor(99))
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Same(t, p1, again)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, 2, stats.Size)
}

func TestCache_CompileErrorNotStored(t *testing.T) {
	cache := New(4)
	key := Key{Inner: 1}

	_, _, err := cache.GetOrCompile(key, func() (*Plan, error) { return nil, errors.New("bad") })
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := New(2)
	compile := func() (*Plan, error) { return &Plan{}, nil }

	_, _, _ = cache.GetOrCompile(Key{Inner: 1}, compile)
	_, _, _ = cache.GetOrCompile(Key{Inner: 2}, compile)
	_, ok := cache.Get(Key{Inner: 1})
	require.True(t, ok)
	_, _, _ = cache.GetOrCompile(Key{Inner: 3}, compile)

	_, ok = cache.Get(Key{Inner: 2})
	assert.False(t, ok)
	_, ok = cache.Get(Key{Inner: 1})
	assert.True(t, ok)
	assert.Equal(t, int64(1), cache.Stats().Evictions)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, int64(1), cache.Stats().Evictions, "purged plans are not evictions")
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := New(8)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key{Inner: uint64(i % 4)}
			plan, _, err := cache.GetOrCompile(key, func() (*Plan, error) {
				return &Plan{SQL: "q"}, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "q", plan.SQL)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, cache.Len())
}
