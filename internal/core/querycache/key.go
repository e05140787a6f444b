// Package querycache keys and stores compiled query plans.
//
// The inner key identifies a query purely by its shape. Filter predicates
// read tenant and toggle state at call time, so the state signature is
// appended to the inner key: two calls with the same shape but different
// signatures never share a plan. The shape text itself is part of the key,
// so an inner hash collision cannot hand one query another's plan.
package querycache

import (
	"github.com/cespare/xxhash/v2"

	"tenantdb/internal/core/datafilter"
)

// Query identifies a read by entity and shape. Shape is the SQL of the
// query without its filter clause, with user arguments as placeholders.
type Query struct {
	Entity string
	Shape  string
}

// KeyGenerator produces the shape-only key of a query.
type KeyGenerator interface {
	GenerateKey(q Query) uint64
}

// ShapeKeyGenerator hashes entity name and shape with xxhash.
type ShapeKeyGenerator struct{}

// GenerateKey implements KeyGenerator.
func (ShapeKeyGenerator) GenerateKey(q Query) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(q.Entity)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(q.Shape)
	return d.Sum64()
}

// Key is the compound cache key. Every part takes part in equality and
// map hashing.
type Key struct {
	Inner     uint64
	Shape     string
	Signature string
}

// FilterStateKeyGenerator extends an inner generator with the filter state
// signature.
type FilterStateKeyGenerator struct {
	inner KeyGenerator
}

// NewFilterStateKeyGenerator wraps inner. A nil inner uses ShapeKeyGenerator.
func NewFilterStateKeyGenerator(inner KeyGenerator) *FilterStateKeyGenerator {
	if inner == nil {
		inner = ShapeKeyGenerator{}
	}
	return &FilterStateKeyGenerator{inner: inner}
}

// GenerateKey returns the compound key for q under state.
func (g *FilterStateKeyGenerator) GenerateKey(q Query, state datafilter.State) Key {
	return Key{
		Inner:     g.inner.GenerateKey(q),
		Shape:     q.Entity + "\x00" + q.Shape,
		Signature: state.Signature(),
	}
}
