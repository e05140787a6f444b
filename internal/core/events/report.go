// Package events defines the change report produced by a successful save
// and the publisher that dispatches it.
package events

import (
	"context"
	"reflect"
)

// ChangeType classifies an entity change.
type ChangeType int

const (
	Created ChangeType = iota + 1
	Updated
	Deleted
)

func (c ChangeType) String() string {
	switch c {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// EntityChange records one persisted entity and what happened to it.
// Entity is the post-stamping instance.
type EntityChange struct {
	Type       ChangeType
	EntityType string
	Key        any
	TenantID   *int64
	Entity     any
}

// DomainEvent is an application event raised by an entity, tagged with
// the entity that carried it.
type DomainEvent struct {
	EntityType string
	Key        any
	Source     any
	Event      any
}

// EventName returns the Go type name of the payload.
func (e DomainEvent) EventName() string {
	t := reflect.TypeOf(e.Event)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

// ChangeReport is everything one save wants to announce.
type ChangeReport struct {
	Changes      []EntityChange
	DomainEvents []DomainEvent
}

// IsEmpty reports whether there is nothing to publish.
func (r ChangeReport) IsEmpty() bool {
	return len(r.Changes) == 0 && len(r.DomainEvents) == 0
}

// Publisher dispatches a committed change report.
type Publisher interface {
	Publish(ctx context.Context, report ChangeReport) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, report ChangeReport) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, report ChangeReport) error {
	return f(ctx, report)
}

// Nop discards every report.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, ChangeReport) error { return nil }
