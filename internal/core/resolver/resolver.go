// Package resolver picks the concrete session implementation for an
// abstract session type, based on the tenant side of the ambient unit of
// work.
package resolver

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/uow"
)

// Side is the tenant side a candidate applies to.
type Side uint8

const (
	SideHost Side = 1 << iota
	SideTenant
	SideBoth = SideHost | SideTenant
)

func (s Side) String() string {
	switch s {
	case SideHost:
		return "host"
	case SideTenant:
		return "tenant"
	case SideBoth:
		return "both"
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

// Candidate is one concrete implementation known to the resolver.
type Candidate struct {
	Type    reflect.Type
	Side    Side
	Default bool
	// New builds an instance; optional for type-only resolution.
	New func() any
}

func (c Candidate) name() string {
	return c.Type.String()
}

// Resolver is populated once at startup and then read without locks.
type Resolver struct {
	candidates atomic.Pointer[[]Candidate]
}

// New creates an empty resolver.
func New() *Resolver {
	return &Resolver{}
}

// Populate installs the candidate table. It may be called only once.
func (r *Resolver) Populate(cands []Candidate) error {
	table := make([]Candidate, 0, len(cands))
	seen := make(map[reflect.Type]struct{}, len(cands))
	for _, c := range cands {
		if c.Type == nil {
			return apperror.NewConfiguration("resolver: candidate without type")
		}
		if c.Type.Kind() == reflect.Interface {
			return apperror.NewConfiguration(fmt.Sprintf("resolver: candidate %s is not concrete", c.name()))
		}
		if _, dup := seen[c.Type]; dup {
			return apperror.NewConfiguration(fmt.Sprintf("resolver: candidate %s registered twice", c.name()))
		}
		seen[c.Type] = struct{}{}
		if c.Side == 0 {
			c.Side = SideBoth
		}
		table = append(table, c)
	}
	if !r.candidates.CompareAndSwap(nil, &table) {
		return apperror.NewConfiguration("resolver: already populated")
	}
	return nil
}

// Resolve returns the concrete type to use for abstract. Concrete types are
// returned unchanged. Interfaces are resolved against the candidates
// implementing them, which requires an active unit of work.
func (r *Resolver) Resolve(ctx context.Context, abstract reflect.Type) (reflect.Type, error) {
	c, err := r.resolve(ctx, abstract)
	if err != nil {
		return nil, err
	}
	return c.Type, nil
}

// Instantiate resolves abstract and builds an instance of the winner.
func (r *Resolver) Instantiate(ctx context.Context, abstract reflect.Type) (any, error) {
	c, err := r.resolve(ctx, abstract)
	if err != nil {
		return nil, err
	}
	if c.New == nil {
		return nil, apperror.NewConfiguration(fmt.Sprintf("resolver: candidate %s has no constructor", c.name()))
	}
	return c.New(), nil
}

func (r *Resolver) resolve(ctx context.Context, abstract reflect.Type) (Candidate, error) {
	if abstract == nil {
		return Candidate{}, apperror.NewUsage("resolver: nil type")
	}
	if abstract.Kind() != reflect.Interface {
		if c, ok := r.lookup(abstract); ok {
			return c, nil
		}
		return Candidate{Type: abstract}, nil
	}

	tenantID, err := uow.CurrentTenantID(ctx)
	if err != nil {
		return Candidate{}, apperror.NewUsage(fmt.Sprintf("resolver: %s resolved outside a unit of work", abstract))
	}

	impls := r.implementations(abstract)
	if len(impls) == 0 {
		return Candidate{}, apperror.NewConfiguration(fmt.Sprintf("resolver: no implementation of %s", abstract))
	}
	if len(impls) == 1 {
		return impls[0], nil
	}

	side := SideTenant
	if tenantID == nil {
		side = SideHost
	}
	var onSide []Candidate
	for _, c := range impls {
		if c.Side&side != 0 {
			onSide = append(onSide, c)
		}
	}
	if len(onSide) == 1 {
		return onSide[0], nil
	}

	pool := onSide
	if len(pool) == 0 {
		pool = impls
	}
	var defaults []Candidate
	for _, c := range pool {
		if c.Default {
			defaults = append(defaults, c)
		}
	}
	if len(defaults) == 1 {
		return defaults[0], nil
	}

	names := make([]string, len(pool))
	for i, c := range pool {
		names[i] = c.name()
	}
	sort.Strings(names)
	return Candidate{}, apperror.NewAmbiguous(fmt.Sprintf("implementation of %s for %s side", abstract, side), names)
}

func (r *Resolver) table() []Candidate {
	if t := r.candidates.Load(); t != nil {
		return *t
	}
	return nil
}

func (r *Resolver) lookup(t reflect.Type) (Candidate, bool) {
	for _, c := range r.table() {
		if c.Type == t {
			return c, true
		}
	}
	return Candidate{}, false
}

func (r *Resolver) implementations(abstract reflect.Type) []Candidate {
	var out []Candidate
	for _, c := range r.table() {
		if c.Type.Implements(abstract) {
			out = append(out, c)
		}
	}
	return out
}

// ResolveType resolves the interface type T.
func ResolveType[T any](ctx context.Context, r *Resolver) (reflect.Type, error) {
	return r.Resolve(ctx, reflect.TypeOf((*T)(nil)).Elem())
}

// ResolveInstance resolves T and instantiates the winner.
func ResolveInstance[T any](ctx context.Context, r *Resolver) (T, error) {
	var zero T
	v, err := r.Instantiate(ctx, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, apperror.NewConfiguration(fmt.Sprintf("resolver: constructor returned %T, not %s", v, reflect.TypeOf((*T)(nil)).Elem()))
	}
	return t, nil
}
