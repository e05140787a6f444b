package entity

import (
	"tenantdb/internal/core/id"
)

// BaseEntity is the base for client-keyed entities (UUIDv7 primary key).
// A zero ID is filled in by the save pipeline on insert.
type BaseEntity struct {
	ID id.ID `db:"id" json:"id"`
}

// GetID returns the primary key.
func (e *BaseEntity) GetID() id.ID {
	return e.ID
}

// SetID assigns the primary key.
func (e *BaseEntity) SetID(v id.ID) {
	e.ID = v
}

// Versioning adds an optimistic concurrency token.
// The store increments it on every successful UPDATE.
type Versioning struct {
	Version int `db:"version" json:"version"`
}

// GetVersion returns the token the row was read with.
func (v *Versioning) GetVersion() int {
	return v.Version
}

// SetVersion updates the version number (used by the store after a write).
func (v *Versioning) SetVersion(n int) {
	v.Version = n
}

// AggregateRoot collects domain events raised by business methods until the
// unit of work dispatches them after commit.
type AggregateRoot struct {
	events []any
}

// Raise records a domain event.
func (a *AggregateRoot) Raise(event any) {
	a.events = append(a.events, event)
}

// PendingEvents returns the events raised since the last save.
func (a *AggregateRoot) PendingEvents() []any {
	if len(a.events) == 0 {
		return nil
	}
	out := make([]any, len(a.events))
	copy(out, a.events)
	return out
}

// ClearEvents drops pending events.
func (a *AggregateRoot) ClearEvents() {
	a.events = nil
}
