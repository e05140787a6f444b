package uow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/entity"
	"tenantdb/internal/core/events"
	"tenantdb/internal/core/id"
	"tenantdb/internal/core/model"
)

// ConflictError is implemented by store errors signalling that a row was
// changed or removed since it was read.
type ConflictError interface {
	error
	ConcurrencyConflict() bool
}

// conflictTarget is optionally implemented by conflict errors to name the
// row involved.
type conflictTarget interface {
	Target() (entityType string, key any)
}

// IsConflict reports whether err carries a store concurrency conflict.
func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c) && c.ConcurrencyConflict()
}

// pass is the per-save working set.
type pass struct {
	session *Session
	actorID *int64
	now     time.Time
	// entries that will be written, in tracking order
	writes []*write
	report events.ChangeReport
	// event sources whose events are cleared once the save commits
	sources []entity.EventSource
	// entity values as the caller left them, restored when the save fails
	before map[any]reflect.Value
}

type write struct {
	entry *Entry
	// op is the physical operation; a soft delete is an update
	op State
	// softDelete entries are reloaded and re-flagged inside the transaction
	softDelete bool
	// index of the change record in the report
	change int
}

// Save stamps tracked changes, writes them in one transaction and, once
// committed, publishes the change report. It returns the number of rows
// written. Store conflicts are returned as CONCURRENT_MODIFICATION and
// nothing is published when the commit did not complete.
func (u *UnitOfWork) Save(ctx context.Context) (int64, error) {
	ctx, span := u.manager.tracer.Start(ctx, "uow.save")
	defer span.End()

	rows, report, err := u.save(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return 0, err
	}
	span.SetAttributes(
		attribute.Int64("uow.rows", rows),
		attribute.Int("uow.changes", len(report.Changes)),
		attribute.Int("uow.domain_events", len(report.DomainEvents)),
	)

	// Published outside the lock so subscribers may use the unit again.
	u.publish(ctx, report)
	return rows, nil
}

func (u *UnitOfWork) save(ctx context.Context) (int64, events.ChangeReport, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, events.ChangeReport{}, apperror.NewUsage("unit of work is closed")
	}

	m := u.manager
	session := u.session(ctx)
	ctx = sessions.Use(ctx, session)

	p := &pass{
		session: session,
		actorID: copyID(m.actor.CurrentActorID(ctx)),
		now:     m.clock.Now(),
		before:  make(map[any]reflect.Value, len(u.entries)),
	}
	// Local validation runs before the store is touched.
	if err := u.prepare(p); err != nil {
		p.restore()
		return 0, events.ChangeReport{}, err
	}
	if len(p.writes) == 0 {
		return 0, events.ChangeReport{}, nil
	}

	store, err := m.stores.Store(ctx)
	if err != nil {
		p.restore()
		return 0, events.ChangeReport{}, fmt.Errorf("resolve store: %w", err)
	}

	var rows int64
	err = store.RunInTransaction(ctx, func(txCtx context.Context) error {
		rows = 0
		for _, w := range p.writes {
			if err := u.execute(txCtx, store, p, w); err != nil {
				return err
			}
			rows++
		}
		return nil
	})
	if err != nil {
		// Stamps, version bumps, read-back keys and reloaded fields belong
		// to a transaction that did not commit.
		p.restore()
		return 0, events.ChangeReport{}, translateConflict(err)
	}

	u.acceptChanges(p)
	return rows, p.report, nil
}

// prepare applies the creation, modification and deletion concepts to every
// pending entry and builds the change report.
func (u *UnitOfWork) prepare(p *pass) error {
	for _, entry := range u.entries {
		if !entry.State.pending() {
			continue
		}
		p.remember(entry.Entity)
		var err error
		switch entry.State {
		case Added:
			err = u.applyCreated(p, entry)
		case Modified:
			u.applyModified(p, entry)
		case Deleted:
			u.applyDeleted(p, entry)
		}
		if err != nil {
			return err
		}
		u.collectEvents(p, entry)
	}
	return nil
}

func (u *UnitOfWork) applyCreated(p *pass, entry *Entry) error {
	e := entry.Entity

	if entry.Model.KeyGeneration == model.KeyClient {
		if keyed, ok := e.(entity.GUIDKeyed); ok && id.IsNil(keyed.GetID()) {
			keyed.SetID(u.manager.ids.NewID())
		}
	}

	if scoped, ok := e.(entity.MustHaveTenantScoped); ok && scoped.GetTenantID() == nil {
		tenantID := p.session.TenantID()
		if u.suppress || tenantID == nil {
			return apperror.NewTenantRequired(entry.Model.Name)
		}
		scoped.SetTenantID(tenantID)
	}

	if scoped, ok := e.(entity.MayHaveTenantScoped); ok && scoped.GetTenantID() == nil &&
		u.style != PerTenant && !u.suppress {
		scoped.SetTenantID(p.session.TenantID())
	}

	if audited, ok := e.(entity.CreationAudited); ok {
		audited.StampCreated(p.now, p.actorID)
	}

	p.add(entry, Added, events.Created, false)
	return nil
}

func (u *UnitOfWork) applyModified(p *pass, entry *Entry) {
	e := entry.Entity
	if audited, ok := e.(entity.ModificationAudited); ok {
		audited.StampModified(p.now, p.actorID)
	}

	change := events.Updated
	if sd, ok := e.(entity.SoftDeletable); ok && sd.IsDeleted() {
		sd.MarkDeleted(p.now, p.actorID)
		change = events.Deleted
	}
	p.add(entry, Modified, change, false)
}

func (u *UnitOfWork) applyDeleted(p *pass, entry *Entry) {
	_, softDeletable := entry.Entity.(entity.SoftDeletable)
	if softDeletable && !u.isMarkedForHardDelete(entry) {
		// Converted into an update; reload and flagging happen in the
		// transaction.
		p.add(entry, Modified, events.Deleted, true)
		return
	}
	p.add(entry, Deleted, events.Deleted, false)
}

// remember keeps a shallow copy of e, a pointer to a struct.
func (p *pass) remember(e any) {
	if _, ok := p.before[e]; ok {
		return
	}
	v := reflect.ValueOf(e).Elem()
	saved := reflect.New(v.Type()).Elem()
	saved.Set(v)
	p.before[e] = saved
}

// restore puts every remembered entity back to its pre-save value.
func (p *pass) restore() {
	for e, saved := range p.before {
		reflect.ValueOf(e).Elem().Set(saved)
	}
}

func (p *pass) add(entry *Entry, op State, change events.ChangeType, softDelete bool) {
	p.report.Changes = append(p.report.Changes, events.EntityChange{
		Type:       change,
		EntityType: entry.Model.Name,
		Entity:     entry.Entity,
	})
	p.writes = append(p.writes, &write{
		entry:      entry,
		op:         op,
		softDelete: softDelete,
		change:     len(p.report.Changes) - 1,
	})
}

func (u *UnitOfWork) collectEvents(p *pass, entry *Entry) {
	src, ok := entry.Entity.(entity.EventSource)
	if !ok {
		return
	}
	pending := src.PendingEvents()
	if len(pending) == 0 {
		return
	}
	for _, ev := range pending {
		p.report.DomainEvents = append(p.report.DomainEvents, events.DomainEvent{
			EntityType: entry.Model.Name,
			Source:     entry.Entity,
			Event:      ev,
		})
	}
	p.sources = append(p.sources, src)
}

// execute performs one physical write inside the transaction.
func (u *UnitOfWork) execute(ctx context.Context, store Store, p *pass, w *write) error {
	entry := w.entry
	var err error
	switch {
	case w.softDelete:
		if err = store.Reload(ctx, entry); err != nil {
			return fmt.Errorf("reload %s: %w", entry.Model.Name, err)
		}
		entry.Entity.(entity.SoftDeletable).MarkDeleted(p.now, p.actorID)
		err = store.Update(ctx, entry)
	case w.op == Added:
		err = store.Insert(ctx, entry)
	case w.op == Modified:
		err = store.Update(ctx, entry)
	case w.op == Deleted:
		err = store.Delete(ctx, entry)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", w.op, entry.Model.Name, err)
	}

	// Keys and tenants are final once written (database keys come back
	// from the insert).
	change := &p.report.Changes[w.change]
	change.Key = entry.Key()
	change.TenantID = entry.TenantID()
	return nil
}

// acceptChanges runs after commit: written entries become unchanged,
// physically deleted ones stop being tracked, events are cleared.
func (u *UnitOfWork) acceptChanges(p *pass) {
	keys := make(map[any]any, len(p.writes))
	for _, w := range p.writes {
		keys[w.entry.Entity] = p.report.Changes[w.change].Key
		if w.op == Deleted {
			w.entry.State = Detached
			u.forget(w.entry)
			continue
		}
		w.entry.State = Unchanged
	}
	for i := range p.report.DomainEvents {
		de := &p.report.DomainEvents[i]
		de.Key = keys[de.Source]
	}
	for _, src := range p.sources {
		src.ClearEvents()
	}
}

// publish hands the report to the publisher on a context that outlives
// the caller's cancellation. Failures are logged only: the data is
// committed.
func (u *UnitOfWork) publish(ctx context.Context, report events.ChangeReport) {
	if report.IsEmpty() {
		return
	}
	if err := u.manager.publisher.Publish(context.WithoutCancel(ctx), report); err != nil {
		u.manager.log.WithContext(ctx).Warnw("publishing change report failed",
			"changes", len(report.Changes),
			"domain_events", len(report.DomainEvents),
			"error", err,
		)
	}
}

func translateConflict(err error) error {
	if apperror.IsConcurrentModification(err) {
		return err
	}
	var c ConflictError
	if !errors.As(err, &c) || !c.ConcurrencyConflict() {
		return err
	}
	var entityType string
	var key any
	var t conflictTarget
	if errors.As(err, &t) {
		entityType, key = t.Target()
	}
	return apperror.NewConcurrentModification(entityType, key).WithCause(err)
}
