// Package model is the static registration table of persisted entity types.
//
// Every entity type is registered once at startup with its table, key and
// capability set. Build validates the declarations against the Go types and
// attaches the query filter predicate of each type, after which the
// registry is read-only and safe for concurrent use.
package model

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/datafilter"
	"tenantdb/internal/core/entity"
)

// KeyGeneration tells who assigns the primary key on insert.
type KeyGeneration int

const (
	// KeyClient keys are assigned before insert; zero UUIDs are generated.
	KeyClient KeyGeneration = iota
	// KeyDatabase keys come back from the INSERT (identity/serial columns).
	KeyDatabase
)

// Definition is the registration input of one entity type.
type Definition struct {
	// Name identifies the type in change reports and audit rows.
	// Defaults to the Go type name.
	Name  string
	Table string

	// KeyColumn defaults to "id".
	KeyColumn     string
	KeyGeneration KeyGeneration

	// Capabilities must match the marker interfaces the type implements.
	// Zero means "infer from the type".
	Capabilities entity.Capability

	// Columns overrides the filter marker columns; empty fields use defaults.
	Columns datafilter.Columns
	// VersionColumn defaults to "version" for Versioned types.
	VersionColumn string
}

// Descriptor is the validated, immutable registration of one entity type.
type Descriptor struct {
	Name          string
	Table         string
	Type          reflect.Type // struct type, entities are handled as pointers to it
	KeyColumn     string
	KeyGeneration KeyGeneration
	Capabilities  entity.Capability
	FilterColumns datafilter.Columns
	VersionColumn string // empty when not versioned
	Columns       []string

	// Filter is nil for types without filterable capabilities.
	Filter datafilter.Predicate
}

// New allocates a zero entity of the described type.
func (d *Descriptor) New() any {
	return reflect.New(d.Type).Interface()
}

// Key returns the primary key value of e.
func (d *Descriptor) Key(e any) any {
	return Values(e, []string{d.KeyColumn})[0]
}

// Versioned reports whether writes carry an optimistic concurrency token.
func (d *Descriptor) Versioned() bool {
	return d.VersionColumn != ""
}

// InsertColumns lists the columns written by INSERT.
func (d *Descriptor) InsertColumns() []string {
	if d.KeyGeneration == KeyDatabase {
		return d.without(d.KeyColumn)
	}
	return d.Columns
}

// UpdateColumns lists the columns written by UPDATE (key and version excluded).
func (d *Descriptor) UpdateColumns() []string {
	return d.without(d.KeyColumn, d.VersionColumn)
}

func (d *Descriptor) without(skip ...string) []string {
	out := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		drop := false
		for _, s := range skip {
			if s != "" && c == s {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, c)
		}
	}
	return out
}

type pending struct {
	typ reflect.Type
	def Definition
}

// Builder collects definitions until Build.
type Builder struct {
	pending []pending
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Register adds entity type T. T is the struct type; the registry handles *T.
func Register[T any](b *Builder, def Definition) {
	var zero T
	b.pending = append(b.pending, pending{typ: reflect.TypeOf(zero), def: def})
}

// Build validates every definition and returns the registry.
// All problems are reported together as one configuration error.
func (b *Builder) Build() (*Registry, error) {
	reg := &Registry{
		byType: make(map[reflect.Type]*Descriptor, len(b.pending)),
		byName: make(map[string]*Descriptor, len(b.pending)),
	}

	var problems []string
	for _, p := range b.pending {
		d, errs := describe(p.typ, p.def)
		if len(errs) > 0 {
			problems = append(problems, errs...)
			continue
		}
		if _, dup := reg.byType[d.Type]; dup {
			problems = append(problems, fmt.Sprintf("%s: registered twice", d.Type))
			continue
		}
		if _, dup := reg.byName[d.Name]; dup {
			problems = append(problems, fmt.Sprintf("%s: name %q already taken", d.Type, d.Name))
			continue
		}
		reg.byType[d.Type] = d
		reg.byName[d.Name] = d
		reg.all = append(reg.all, d)
	}

	if len(problems) > 0 {
		return nil, apperror.NewConfiguration("invalid entity model: " + strings.Join(problems, "; ")).
			WithDetail("problems", problems)
	}
	return reg, nil
}

// InferCapabilities derives the capability set from the marker interfaces
// implemented by *T (or t when it is already a pointer type).
func InferCapabilities(t reflect.Type) entity.Capability {
	pt := t
	if pt.Kind() != reflect.Ptr {
		pt = reflect.PointerTo(t)
	}
	var caps entity.Capability
	if pt.Implements(softDeletableType) {
		caps |= entity.SoftDelete
	}
	if pt.Implements(mayHaveTenantType) {
		caps |= entity.MayHaveTenant
	}
	if pt.Implements(mustHaveTenantType) {
		caps |= entity.MustHaveTenant
	}
	return caps
}

var (
	softDeletableType  = reflect.TypeOf((*entity.SoftDeletable)(nil)).Elem()
	mayHaveTenantType  = reflect.TypeOf((*entity.MayHaveTenantScoped)(nil)).Elem()
	mustHaveTenantType = reflect.TypeOf((*entity.MustHaveTenantScoped)(nil)).Elem()
	versionedType      = reflect.TypeOf((*entity.Versioned)(nil)).Elem()
)

func describe(t reflect.Type, def Definition) (*Descriptor, []string) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, []string{fmt.Sprintf("%v: entity types must be structs", t)}
	}

	d := &Descriptor{
		Name:          def.Name,
		Table:         def.Table,
		Type:          t,
		KeyColumn:     def.KeyColumn,
		KeyGeneration: def.KeyGeneration,
		FilterColumns: def.Columns,
		Columns:       columnNames(t),
	}
	if d.Name == "" {
		d.Name = t.Name()
	}
	if d.KeyColumn == "" {
		d.KeyColumn = "id"
	}
	defaults := datafilter.DefaultColumns()
	if d.FilterColumns.TenantID == "" {
		d.FilterColumns.TenantID = defaults.TenantID
	}
	if d.FilterColumns.IsDeleted == "" {
		d.FilterColumns.IsDeleted = defaults.IsDeleted
	}

	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, d.Name+": "+fmt.Sprintf(format, args...))
	}

	if d.Table == "" {
		fail("table is required")
	}
	if d.KeyGeneration != KeyClient && d.KeyGeneration != KeyDatabase {
		fail("unsupported key generation %d", d.KeyGeneration)
	}
	if !hasColumn(t, d.KeyColumn) {
		fail("key column %q is not mapped", d.KeyColumn)
	}

	implemented := InferCapabilities(t)
	d.Capabilities = def.Capabilities
	if d.Capabilities == 0 {
		d.Capabilities = implemented
	}
	if missing := d.Capabilities &^ implemented; missing != 0 {
		fail("declares %s but does not implement it", missing)
	}
	if undeclared := implemented &^ d.Capabilities; undeclared != 0 {
		fail("implements %s but does not declare it", undeclared)
	}
	if d.Capabilities.Has(entity.MayHaveTenant | entity.MustHaveTenant) {
		fail("may-have-tenant and must-have-tenant are exclusive")
	}
	if d.Capabilities.Has(entity.SoftDelete) && !hasColumn(t, d.FilterColumns.IsDeleted) {
		fail("soft delete column %q is not mapped", d.FilterColumns.IsDeleted)
	}
	if (d.Capabilities.Has(entity.MayHaveTenant) || d.Capabilities.Has(entity.MustHaveTenant)) &&
		!hasColumn(t, d.FilterColumns.TenantID) {
		fail("tenant column %q is not mapped", d.FilterColumns.TenantID)
	}

	if reflect.PointerTo(t).Implements(versionedType) {
		d.VersionColumn = def.VersionColumn
		if d.VersionColumn == "" {
			d.VersionColumn = "version"
		}
		if !hasColumn(t, d.VersionColumn) {
			fail("version column %q is not mapped", d.VersionColumn)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	d.Filter = datafilter.Build(d.Capabilities, d.FilterColumns)
	return d, nil
}

// Registry maps entity types to their descriptors.
type Registry struct {
	byType map[reflect.Type]*Descriptor
	byName map[string]*Descriptor
	all    []*Descriptor
}

// Lookup finds the descriptor of an entity value, pointer or reflect.Type.
func (r *Registry) Lookup(v any) (*Descriptor, bool) {
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	d, ok := r.byType[t]
	return d, ok
}

// ByName finds a descriptor by its registered name.
func (r *Registry) ByName(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Descriptors returns all registrations sorted by name.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(r.all))
	copy(out, r.all)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
