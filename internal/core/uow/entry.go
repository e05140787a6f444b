package uow

import (
	"fmt"

	"tenantdb/internal/core/entity"
	"tenantdb/internal/core/model"
)

// State is the change state of a tracked entity.
type State int

const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// pending reports whether a save has work to do for the state.
func (s State) pending() bool {
	return s == Added || s == Modified || s == Deleted
}

// Entry is one tracked entity. Entity is always a pointer to a registered
// struct type.
type Entry struct {
	Entity any
	Model  *model.Descriptor
	State  State
}

// Key returns the primary key of the entity.
func (e *Entry) Key() any {
	return e.Model.Key(e.Entity)
}

// TenantID returns the tenant of tenant-scoped entities, nil otherwise.
func (e *Entry) TenantID() *int64 {
	if ts, ok := e.Entity.(entity.TenantScoped); ok {
		return ts.GetTenantID()
	}
	return nil
}

// hardDeleteKey identifies one entity instance in the hard-delete set.
type hardDeleteKey struct {
	entity    string
	key       string
	tenant    int64
	hasTenant bool
}

func hardDeleteKeyOf(e *Entry) hardDeleteKey {
	k := hardDeleteKey{entity: e.Model.Name, key: fmt.Sprint(e.Key())}
	if t := e.TenantID(); t != nil {
		k.tenant, k.hasTenant = *t, true
	}
	return k
}
