// Package uow implements the unit of work: the ambient session carrying
// tenant and filter state, the change tracker, and the save pipeline that
// stamps, converts and writes tracked entities before publishing what
// changed.
package uow

import (
	"context"

	"tenantdb/internal/core/ambient"
	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/datafilter"
)

// Session is the state a call chain observes inside a unit of work.
// It is immutable: scoped changes create a new Session in a derived context.
type Session struct {
	unit     *UnitOfWork
	tenantID *int64
	toggles  datafilter.Toggles
}

var sessions = ambient.New[*Session]("uow.session")

// Unit returns the owning unit of work.
func (s *Session) Unit() *UnitOfWork {
	return s.unit
}

// TenantID returns the tenant in effect; nil is the host.
func (s *Session) TenantID() *int64 {
	return copyID(s.tenantID)
}

// FilterState returns the tenant and toggles predicates read.
func (s *Session) FilterState() datafilter.State {
	return datafilter.State{TenantID: s.TenantID(), Toggles: s.toggles}
}

func (s *Session) with(fn func(*Session)) *Session {
	next := *s
	fn(&next)
	return &next
}

// Current returns the session of the innermost unit of work on ctx.
func Current(ctx context.Context) (*Session, bool) {
	s, ok := sessions.Current(ctx)
	return s, ok && s != nil
}

// CurrentTenantID returns the ambient tenant. Calling it outside a unit of
// work is a usage error.
func CurrentTenantID(ctx context.Context) (*int64, error) {
	s, ok := Current(ctx)
	if !ok {
		return nil, apperror.NewUsage("current tenant requested outside a unit of work")
	}
	return s.TenantID(), nil
}

// FilterState returns the filter state of the ambient session. Outside a
// unit of work every filter is enabled and the tenant is the host.
func FilterState(ctx context.Context) datafilter.State {
	if s, ok := Current(ctx); ok {
		return s.FilterState()
	}
	return datafilter.State{}
}

// DisableFilter disables filters in the ambient unit of work for calls made
// with the returned context. Outside a unit of work ctx is returned as is.
func DisableFilter(ctx context.Context, names ...datafilter.Name) context.Context {
	if s, ok := Current(ctx); ok {
		return s.unit.DisableFilter(ctx, names...)
	}
	return ctx
}

// EnableFilter is the counterpart of DisableFilter.
func EnableFilter(ctx context.Context, names ...datafilter.Name) context.Context {
	if s, ok := Current(ctx); ok {
		return s.unit.EnableFilter(ctx, names...)
	}
	return ctx
}

func copyID(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
