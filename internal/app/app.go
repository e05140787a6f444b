// Package app assembles the persistence stack shared by the server and the
// worker from a config.Config.
package app

import (
	"context"
	"fmt"

	"tenantdb/internal/config"
	"tenantdb/internal/core/clock"
	appctx "tenantdb/internal/core/context"
	"tenantdb/internal/core/events"
	"tenantdb/internal/core/model"
	"tenantdb/internal/core/querycache"
	"tenantdb/internal/core/resolver"
	"tenantdb/internal/core/tenant"
	"tenantdb/internal/core/uow"
	"tenantdb/internal/domain/invoice"
	"tenantdb/internal/infrastructure/storage/postgres"
	"tenantdb/internal/infrastructure/storage/schema"
	"tenantdb/internal/infrastructure/storage/sqlite"
	"tenantdb/internal/infrastructure/storage/sqlstore"
	"tenantdb/pkg/logger"
	"tenantdb/pkg/numerator"
)

// Database is a shared database the readiness check can ping.
type Database interface {
	sqlstore.Conn
	Ping(ctx context.Context) error
}

// Stack is the wired persistence core.
type Stack struct {
	// Shared is the host database.
	Shared     Database
	// Router picks the database of the ambient unit of work.
	Router     sqlstore.Router
	Entities   *model.Registry
	Cache      *querycache.Cache
	Bus        *events.Bus
	UnitOfWork *uow.Manager
	// Tenants is nil for the sqlite driver, which has no tenant registry.
	Tenants    *postgres.Tenants
	// Audit is nil when auditing is disabled.
	Audit      *sqlstore.AuditSink

	Clock  clock.Clock
	closer func()
}

// Open connects to the configured database, applies the schema and wires
// the unit of work manager with its event sinks.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger) (*Stack, error) {
	s := &Stack{Clock: clock.System{}, closer: func() {}}

	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.Shared = db
		s.Router = sqlstore.Single{DB: db}
		s.closer = func() { _ = db.Close() }
	case "postgres":
		if err := s.openPostgres(ctx, cfg, log); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if err := schema.Apply(ctx, s.Shared); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.wire(cfg, log); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) openPostgres(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	shared, err := postgres.Open(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("open shared database: %w", err)
	}

	managerCfg := tenant.DefaultManagerConfig()
	managerCfg.MaxTotalPools = cfg.TenantMaxPools
	managerCfg.PoolIdleTimeout = cfg.TenantIdleTimeout

	tenants := tenant.NewManager(managerCfg, tenant.NewPostgresRegistry(shared.Pool()), shared, openTenant, log)

	res := resolver.New()
	if err := res.Populate(postgres.Candidates(tenants)); err != nil {
		tenants.Close()
		_ = shared.Close()
		return fmt.Errorf("populate router resolver: %w", err)
	}

	s.Shared = shared
	s.Tenants = tenants
	s.Router = sqlstore.NewResolvingRouter(res)
	s.closer = func() {
		tenants.Close()
		_ = shared.Close()
	}
	return nil
}

// openTenant opens a dedicated tenant database and brings its schema up.
func openTenant(ctx context.Context, dsn string) (*postgres.DB, error) {
	db, err := postgres.OpenTenant(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := schema.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Stack) wire(cfg config.Config, log *logger.Logger) error {
	b := model.NewBuilder()
	invoice.Register(b)
	entities, err := b.Build()
	if err != nil {
		return fmt.Errorf("build entity registry: %w", err)
	}
	s.Entities = entities
	s.Cache = querycache.New(cfg.QueryCacheSize)

	s.Bus = events.NewBus(log)
	if cfg.OutboxEnabled {
		s.Bus.Subscribe("outbox", sqlstore.NewOutboxSink(s.Router, s.Clock).Handle)
	}
	if cfg.AuditEnabled {
		audit, err := sqlstore.NewAuditSink(s.Router, s.Clock, cfg.AuditCompressThreshold)
		if err != nil {
			return err
		}
		s.Audit = audit
		s.Bus.Subscribe("audit", audit.Handle)
	}
	if err := s.Bus.SubscribeWhen("log-events", `kind == "domain_event"`, func(ctx context.Context, msg events.Message) error {
		logger.Debug(ctx, "domain event", "event", msg.Event.EventName(), "entity", msg.EntityType())
		return nil
	}); err != nil {
		return err
	}

	style, err := uow.ParseMultiTenancyStyle(cfg.MultiTenancyStyle)
	if err != nil {
		return err
	}
	s.UnitOfWork, err = uow.NewManager(uow.Dependencies{
		Registry:  entities,
		Stores:    sqlstore.NewProvider(s.Router),
		Actor:     appctx.UserActor{},
		Clock:     s.Clock,
		Publisher: s.Bus,
		Style:     style,
		Logger:    log,
	})
	return err
}

// InvoiceService builds the invoice service over the stack.
func (s *Stack) InvoiceService() (*invoice.Service, error) {
	invoices, err := sqlstore.NewRepository[invoice.Invoice](s.Router, s.Entities, s.Cache)
	if err != nil {
		return nil, err
	}
	notes, err := sqlstore.NewRepository[invoice.Note](s.Router, s.Entities, s.Cache)
	if err != nil {
		return nil, err
	}
	return invoice.NewService(s.UnitOfWork, invoices, notes, numerator.New(s.Router), s.Clock), nil
}

// Close releases every database handle.
func (s *Stack) Close() {
	s.closer()
}
