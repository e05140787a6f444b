// Package entity provides the capability markers and base structs that
// persisted entity types compose.
package entity

import (
	"strings"
	"time"

	"tenantdb/internal/core/id"
)

// Capability is a structural marker an entity type may carry.
// Capabilities combine; the query filter ANDs the predicate of each.
type Capability uint8

const (
	// SoftDelete: rows carry an is-deleted flag and deletion audit fields.
	SoftDelete Capability = 1 << iota
	// MayHaveTenant: nullable tenant id, host-owned rows have null.
	MayHaveTenant
	// MustHaveTenant: every row belongs to exactly one tenant.
	MustHaveTenant
)

// Has reports whether all bits of o are set.
func (c Capability) Has(o Capability) bool {
	return c&o == o
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(SoftDelete) {
		parts = append(parts, "soft_delete")
	}
	if c.Has(MayHaveTenant) {
		parts = append(parts, "may_have_tenant")
	}
	if c.Has(MustHaveTenant) {
		parts = append(parts, "must_have_tenant")
	}
	return strings.Join(parts, "|")
}

// SoftDeletable is implemented by entities carrying the SoftDelete capability.
type SoftDeletable interface {
	IsDeleted() bool
	// MarkDeleted forces the flag on and stamps deletion audit fields
	// that are still unset.
	MarkDeleted(at time.Time, by *int64)
}

// TenantScoped exposes the tenant id of a row. Nil means host-owned or unset.
type TenantScoped interface {
	GetTenantID() *int64
	SetTenantID(id *int64)
}

// MayHaveTenantScoped is implemented by embedding MayHaveTenantField.
type MayHaveTenantScoped interface {
	TenantScoped
	mayHaveTenant()
}

// MustHaveTenantScoped is implemented by embedding MustHaveTenantField.
type MustHaveTenantScoped interface {
	TenantScoped
	mustHaveTenant()
}

// CreationAudited entities get creation time and creator stamped on insert.
type CreationAudited interface {
	StampCreated(at time.Time, by *int64)
}

// ModificationAudited entities get modification time and modifier stamped on update.
type ModificationAudited interface {
	StampModified(at time.Time, by *int64)
}

// Versioned entities carry an optimistic concurrency token.
type Versioned interface {
	GetVersion() int
	SetVersion(n int)
}

// GUIDKeyed entities have a client-generated UUID primary key.
type GUIDKeyed interface {
	GetID() id.ID
	SetID(v id.ID)
}

// EventSource entities carry pending domain events.
type EventSource interface {
	PendingEvents() []any
	ClearEvents()
}
