package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tenantdb/pkg/logger"
)

// Kind distinguishes the two message families of a report.
type Kind string

const (
	KindDomainEvent  Kind = "domain_event"
	KindEntityChange Kind = "entity_change"
)

// Message is what a subscriber receives: exactly one of Change or Event is set.
type Message struct {
	Kind   Kind
	Change *EntityChange
	Event  *DomainEvent
}

// EntityType returns the registered name of the entity behind the message.
func (m Message) EntityType() string {
	if m.Change != nil {
		return m.Change.EntityType
	}
	if m.Event != nil {
		return m.Event.EntityType
	}
	return ""
}

func (m Message) attributes() map[string]any {
	attrs := map[string]any{
		"kind":        string(m.Kind),
		"entity_type": m.EntityType(),
		"change":      "",
		"event_type":  "",
		"has_tenant":  false,
		"tenant_id":   int64(0),
	}
	if m.Change != nil {
		attrs["change"] = m.Change.Type.String()
		if m.Change.TenantID != nil {
			attrs["has_tenant"] = true
			attrs["tenant_id"] = *m.Change.TenantID
		}
	}
	if m.Event != nil {
		attrs["event_type"] = m.Event.EventName()
	}
	return attrs
}

// Handler consumes one message.
type Handler func(ctx context.Context, msg Message) error

type subscription struct {
	name    string
	when    *condition
	handler Handler
}

// Bus is an in-process Publisher fanning a report out to subscribers.
// Domain events are delivered first in capture order, then entity changes.
// A failing or panicking subscriber does not stop delivery to the others.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	log  *logger.Logger
}

// NewBus creates an empty bus.
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Default()
	}
	return &Bus{log: log.WithComponent("events")}
}

// Subscribe registers a handler for every message.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: h})
}

// SubscribeWhen registers a handler for messages matching a CEL condition,
// e.g. `kind == "entity_change" && entity_type == "invoice"`.
func (b *Bus) SubscribeWhen(name, expr string, h Handler) error {
	cond, err := compileCondition(expr)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, when: cond, handler: h})
	return nil
}

// Publish implements Publisher. Returned errors are joined subscriber failures.
func (b *Bus) Publish(ctx context.Context, report ChangeReport) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	var errs []error
	for i := range report.DomainEvents {
		errs = append(errs, b.dispatch(ctx, subs, Message{Kind: KindDomainEvent, Event: &report.DomainEvents[i]})...)
	}
	for i := range report.Changes {
		errs = append(errs, b.dispatch(ctx, subs, Message{Kind: KindEntityChange, Change: &report.Changes[i]})...)
	}
	return errors.Join(errs...)
}

func (b *Bus) dispatch(ctx context.Context, subs []subscription, msg Message) []error {
	var errs []error
	for _, s := range subs {
		if s.when != nil {
			ok, err := s.when.matches(msg)
			if err != nil {
				errs = append(errs, fmt.Errorf("subscriber %s: %w", s.name, err))
				continue
			}
			if !ok {
				continue
			}
		}
		if err := b.invoke(ctx, s, msg); err != nil {
			b.log.WithContext(ctx).Warnw("subscriber failed",
				"subscriber", s.name,
				"kind", msg.Kind,
				"entity_type", msg.EntityType(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("subscriber %s: %w", s.name, err))
		}
	}
	return errs
}

func (b *Bus) invoke(ctx context.Context, s subscription, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(ctx, msg)
}
