package uow

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/datafilter"
)

// UnitOfWork tracks entity changes and saves them in one transaction.
// Filter toggles and the hard-delete set belong to it; it must only be
// used from the call chain that began it.
type UnitOfWork struct {
	manager  *Manager
	root     *Session
	suppress bool
	style    MultiTenancyStyle

	mu          sync.Mutex
	entries     []*Entry
	tracked     map[any]*Entry
	hardDeletes map[hardDeleteKey]struct{}
	closed      bool
}

// session returns the session of u that ctx observes, or the root session
// when ctx belongs to another (or no) unit of work.
func (u *UnitOfWork) session(ctx context.Context) *Session {
	if s, ok := Current(ctx); ok && s.unit == u {
		return s
	}
	return u.root
}

// SetTenantID returns a context in which u acts for tenantID (nil = host).
// Callers continuing with their own context keep the previous tenant.
func (u *UnitOfWork) SetTenantID(ctx context.Context, tenantID *int64) context.Context {
	s := u.session(ctx).with(func(s *Session) { s.tenantID = copyID(tenantID) })
	return sessions.Use(ctx, s)
}

// DisableFilter returns a context in which the named filters are off.
func (u *UnitOfWork) DisableFilter(ctx context.Context, names ...datafilter.Name) context.Context {
	return u.switchFilters(ctx, false, names)
}

// EnableFilter returns a context in which the named filters are on.
func (u *UnitOfWork) EnableFilter(ctx context.Context, names ...datafilter.Name) context.Context {
	return u.switchFilters(ctx, true, names)
}

func (u *UnitOfWork) switchFilters(ctx context.Context, enabled bool, names []datafilter.Name) context.Context {
	s := u.session(ctx).with(func(s *Session) {
		for _, n := range names {
			s.toggles = s.toggles.With(n, enabled)
		}
	})
	return sessions.Use(ctx, s)
}

// Insert tracks e as new.
func (u *UnitOfWork) Insert(e any) error {
	return u.track(e, func(entry *Entry, existed bool) {
		entry.State = Added
	})
}

// Update tracks e as modified. Entities added in this unit stay added.
func (u *UnitOfWork) Update(e any) error {
	return u.track(e, func(entry *Entry, existed bool) {
		if entry.State != Added {
			entry.State = Modified
		}
	})
}

// Delete tracks e for deletion. Whether the row is physically removed is
// decided at save time. Deleting an entity added in this unit just stops
// tracking it.
func (u *UnitOfWork) Delete(e any) error {
	return u.track(e, func(entry *Entry, existed bool) {
		if existed && entry.State == Added {
			entry.State = Detached
			return
		}
		entry.State = Deleted
	})
}

// Attach tracks e as loaded and unchanged.
func (u *UnitOfWork) Attach(e any) error {
	return u.track(e, func(entry *Entry, existed bool) {
		if !existed {
			entry.State = Unchanged
		}
	})
}

func (u *UnitOfWork) track(e any, transition func(entry *Entry, existed bool)) error {
	if rv := reflect.ValueOf(e); rv.Kind() != reflect.Ptr || rv.IsNil() {
		return apperror.NewUsage(fmt.Sprintf("tracked entities must be non-nil pointers, got %T", e))
	}
	d, ok := u.manager.registry.Lookup(e)
	if !ok {
		return apperror.NewUsage(fmt.Sprintf("entity type %T is not registered", e))
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return apperror.NewUsage("unit of work is closed")
	}

	entry, existed := u.tracked[e]
	if !existed {
		entry = &Entry{Entity: e, Model: d}
	}
	transition(entry, existed)

	switch {
	case entry.State == Detached && existed:
		u.forget(entry)
	case !existed && entry.State != Detached:
		u.tracked[e] = entry
		u.entries = append(u.entries, entry)
	}
	return nil
}

func (u *UnitOfWork) forget(entry *Entry) {
	delete(u.tracked, entry.Entity)
	for i, e := range u.entries {
		if e == entry {
			u.entries = append(u.entries[:i], u.entries[i+1:]...)
			return
		}
	}
}

// MarkForHardDelete makes a later delete of e physical even when the
// entity is soft-deletable. The mark is keyed by entity type, primary key
// and tenant id and lasts until Close.
func (u *UnitOfWork) MarkForHardDelete(e any) error {
	d, ok := u.manager.registry.Lookup(e)
	if !ok {
		return apperror.NewUsage(fmt.Sprintf("entity type %T is not registered", e))
	}
	key := hardDeleteKeyOf(&Entry{Entity: e, Model: d})

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return apperror.NewUsage("unit of work is closed")
	}
	u.hardDeletes[key] = struct{}{}
	return nil
}

func (u *UnitOfWork) isMarkedForHardDelete(e *Entry) bool {
	_, ok := u.hardDeletes[hardDeleteKeyOf(e)]
	return ok
}

// Entries returns the tracked entries in tracking order.
func (u *UnitOfWork) Entries() []*Entry {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*Entry, len(u.entries))
	copy(out, u.entries)
	return out
}

// Close discards tracking state and the hard-delete set. Safe to call twice.
func (u *UnitOfWork) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	u.entries = nil
	u.tracked = make(map[any]*Entry)
	u.hardDeletes = make(map[hardDeleteKey]struct{})
}
