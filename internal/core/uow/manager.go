package uow

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/clock"
	"tenantdb/internal/core/events"
	"tenantdb/internal/core/id"
	"tenantdb/internal/core/model"
	"tenantdb/pkg/logger"
)

// Actor answers who is acting and for which tenant.
type Actor interface {
	CurrentActorID(ctx context.Context) *int64
	CurrentTenantID(ctx context.Context) *int64
}

// Store performs the physical work of a save. Insert, Update and Delete
// must return an error implementing ConflictError when the row changed or
// vanished since it was read.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Insert(ctx context.Context, e *Entry) error
	Update(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, e *Entry) error
	// Reload overwrites the mapped fields of e.Entity with the persisted
	// row, ignoring query filters.
	Reload(ctx context.Context, e *Entry) error
}

// StoreProvider resolves the store when a save starts, so the ambient
// session (e.g. its tenant) can pick the database.
type StoreProvider interface {
	Store(ctx context.Context) (Store, error)
}

// StaticStore is a StoreProvider that always returns the same store.
type StaticStore struct {
	Backend Store
}

// Store implements StoreProvider.
func (s StaticStore) Store(context.Context) (Store, error) {
	return s.Backend, nil
}

// MultiTenancyStyle tells how tenant data is laid out.
type MultiTenancyStyle int

const (
	// Shared keeps every tenant in one database, separated by tenant id.
	Shared MultiTenancyStyle = iota
	// PerTenant gives every tenant its own database.
	PerTenant
	// Hybrid lets some tenants have their own database.
	Hybrid
)

func (s MultiTenancyStyle) String() string {
	switch s {
	case Shared:
		return "shared"
	case PerTenant:
		return "per_tenant"
	case Hybrid:
		return "hybrid"
	}
	return fmt.Sprintf("style(%d)", int(s))
}

// ParseMultiTenancyStyle parses "shared", "per_tenant" or "hybrid".
func ParseMultiTenancyStyle(s string) (MultiTenancyStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared":
		return Shared, nil
	case "per_tenant", "per-tenant", "pertenant":
		return PerTenant, nil
	case "hybrid":
		return Hybrid, nil
	}
	return Shared, apperror.NewConfiguration(fmt.Sprintf("unknown multi-tenancy style %q", s))
}

// Dependencies wires a Manager. Registry and Stores are required.
type Dependencies struct {
	Registry  *model.Registry
	Stores    StoreProvider
	Actor     Actor
	Clock     clock.Clock
	IDs       id.Generator
	Publisher events.Publisher
	Style     MultiTenancyStyle
	Logger    *logger.Logger
	Tracer    trace.Tracer
}

// Manager starts units of work. It is safe for concurrent use.
type Manager struct {
	registry  *model.Registry
	stores    StoreProvider
	actor     Actor
	clock     clock.Clock
	ids       id.Generator
	publisher events.Publisher
	style     MultiTenancyStyle
	log       *logger.Logger
	tracer    trace.Tracer
}

// NewManager validates deps and fills in defaults for optional collaborators.
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Registry == nil {
		return nil, apperror.NewConfiguration("uow: entity registry is required")
	}
	if deps.Stores == nil {
		return nil, apperror.NewConfiguration("uow: store provider is required")
	}
	m := &Manager{
		registry:  deps.Registry,
		stores:    deps.Stores,
		actor:     deps.Actor,
		clock:     deps.Clock,
		ids:       deps.IDs,
		publisher: deps.Publisher,
		style:     deps.Style,
		log:       deps.Logger,
		tracer:    deps.Tracer,
	}
	if m.actor == nil {
		m.actor = anonymous{}
	}
	if m.clock == nil {
		m.clock = clock.System{}
	}
	if m.ids == nil {
		m.ids = id.V7Generator{}
	}
	if m.publisher == nil {
		m.publisher = events.Nop{}
	}
	if m.log == nil {
		m.log = logger.Default()
	}
	m.log = m.log.WithComponent("uow")
	if m.tracer == nil {
		m.tracer = otel.Tracer("tenantdb/uow")
	}
	return m, nil
}

// Registry returns the entity registry the manager tracks against.
func (m *Manager) Registry() *model.Registry {
	return m.registry
}

// Option configures one unit of work.
type Option func(*options)

type options struct {
	suppressAutoSetTenantID bool
	style                   *MultiTenancyStyle
}

// SuppressAutoSetTenantID stops the save pipeline from stamping the ambient
// tenant onto created entities. Must-have-tenant entities then need an
// explicit tenant id.
func SuppressAutoSetTenantID() Option {
	return func(o *options) { o.suppressAutoSetTenantID = true }
}

// WithMultiTenancyStyle overrides the manager's style for one unit of work.
func WithMultiTenancyStyle(s MultiTenancyStyle) Option {
	return func(o *options) { o.style = &s }
}

// Begin starts a unit of work and returns the context carrying its session.
// The tenant is inherited from an enclosing unit of work, else taken from
// the actor. Filter toggles start fully enabled.
func (m *Manager) Begin(ctx context.Context, opts ...Option) (context.Context, *UnitOfWork) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	style := m.style
	if o.style != nil {
		style = *o.style
	}

	var tenantID *int64
	if outer, ok := Current(ctx); ok {
		tenantID = outer.TenantID()
	} else {
		tenantID = copyID(m.actor.CurrentTenantID(ctx))
	}

	u := &UnitOfWork{
		manager:     m,
		suppress:    o.suppressAutoSetTenantID,
		style:       style,
		tracked:     make(map[any]*Entry),
		hardDeletes: make(map[hardDeleteKey]struct{}),
	}
	u.root = &Session{unit: u, tenantID: tenantID}
	return sessions.Use(ctx, u.root), u
}

type anonymous struct{}

func (anonymous) CurrentActorID(context.Context) *int64  { return nil }
func (anonymous) CurrentTenantID(context.Context) *int64 { return nil }
