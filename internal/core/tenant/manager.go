package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tenantdb/internal/core/clock"
	"tenantdb/pkg/logger"
)

// Database is an open connection pool the manager can health-check and close.
type Database interface {
	Ping(ctx context.Context) error
	Close() error
}

// Opener opens a dedicated database for a tenant connection string.
type Opener[D Database] func(ctx context.Context, dsn string) (D, error)

// ManagerConfig configures Manager behavior.
type ManagerConfig struct {
	ConnectTimeout time.Duration

	// Lifecycle settings
	MaxTotalPools     int           // Max simultaneous dedicated pools (0 = unlimited)
	PoolIdleTimeout   time.Duration // Close pool after inactivity (0 = never)
	HealthCheckPeriod time.Duration // How often to check pool health (0 = never)

	Clock clock.Clock
}

// DefaultManagerConfig returns production-safe defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout:    10 * time.Second,
		MaxTotalPools:     100,
		PoolIdleTimeout:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// managed is one resolved tenant. Tenants without a dedicated database
// point at the shared one and are only cached, never closed.
type managed[D Database] struct {
	db        D
	tenant    *Tenant
	dedicated bool
	lastUsed  atomic.Int64 // Unix timestamp
	// unhealthySince is set when a health check fails. 0 means healthy.
	unhealthySince atomic.Int64
}

func (mp *managed[D]) touch(now time.Time) {
	mp.lastUsed.Store(now.Unix())
}

// Manager hands out the database of the ambient tenant: the shared one for
// the host and for tenants without their own connection string, a lazily
// opened dedicated pool otherwise. Safe for concurrent use.
type Manager[D Database] struct {
	config   ManagerConfig
	registry Registry
	shared   D
	open     Opener[D]
	clock    clock.Clock

	pools     sync.Map // map[int64]*managed[D]
	poolCount atomic.Int32
	opening   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Logger
}

// NewManager creates the manager and starts its eviction and health loops.
func NewManager[D Database](cfg ManagerConfig, registry Registry, shared D, open Opener[D], log *logger.Logger) *Manager[D] {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = logger.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}

	m := &Manager[D]{
		config:   cfg,
		registry: registry,
		shared:   shared,
		open:     open,
		clock:    clk,
		ctx:      ctx,
		cancel:   cancel,
		log:      log.WithComponent("tenant-manager"),
	}

	if cfg.PoolIdleTimeout > 0 {
		m.wg.Add(1)
		go m.loop(cfg.PoolIdleTimeout/2, m.evictIdlePools)
	}
	if cfg.HealthCheckPeriod > 0 {
		m.wg.Add(1)
		go m.loop(cfg.HealthCheckPeriod, m.checkPoolsHealth)
	}

	m.log.Infow("tenant manager started",
		"max_pools", cfg.MaxTotalPools,
		"idle_timeout", cfg.PoolIdleTimeout,
		"health_check_period", cfg.HealthCheckPeriod,
	)
	return m
}

// Shared returns the shared database.
func (m *Manager[D]) Shared() D {
	return m.shared
}

// Registry returns the tenant registry.
func (m *Manager[D]) Registry() Registry {
	return m.registry
}

// Database returns the database holding the rows of tenantID; nil is the host.
func (m *Manager[D]) Database(ctx context.Context, tenantID *int64) (D, error) {
	if tenantID == nil {
		return m.shared, nil
	}
	if val, ok := m.pools.Load(*tenantID); ok {
		mp := val.(*managed[D])
		mp.touch(m.clock.Now())
		return mp.db, nil
	}
	mp, err := m.resolve(ctx, *tenantID)
	if err != nil {
		var zero D
		return zero, err
	}
	return mp.db, nil
}

// Ensure checks that tenantID names an active tenant and that its database
// can be reached, opening it when needed.
func (m *Manager[D]) Ensure(ctx context.Context, tenantID int64) error {
	_, err := m.Database(ctx, &tenantID)
	return err
}

func (m *Manager[D]) resolve(ctx context.Context, tenantID int64) (*managed[D], error) {
	t, err := m.registry.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("tenant lookup failed: %w", err)
	}
	if !t.IsActive() {
		return nil, fmt.Errorf("%w: status=%s", ErrTenantNotActive, t.Status)
	}

	if !t.HasDedicatedDatabase() {
		mp := &managed[D]{db: m.shared, tenant: t}
		mp.touch(m.clock.Now())
		actual, _ := m.pools.LoadOrStore(tenantID, mp)
		return actual.(*managed[D]), nil
	}

	// Opening is serialized so the pool limit holds and a tenant is never
	// opened twice.
	m.opening.Lock()
	defer m.opening.Unlock()
	if val, ok := m.pools.Load(tenantID); ok {
		return val.(*managed[D]), nil
	}
	if m.config.MaxTotalPools > 0 && int(m.poolCount.Load()) >= m.config.MaxTotalPools {
		return nil, fmt.Errorf("%w (%d)", ErrMaxPoolLimit, m.config.MaxTotalPools)
	}

	openCtx := ctx
	if m.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, m.config.ConnectTimeout)
		defer cancel()
	}
	db, err := m.open(openCtx, *t.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("open database for tenant %d: %w", tenantID, err)
	}

	mp := &managed[D]{db: db, tenant: t, dedicated: true}
	mp.touch(m.clock.Now())
	m.pools.Store(tenantID, mp)
	m.poolCount.Add(1)
	m.log.Infow("opened tenant database",
		"tenant_id", tenantID,
		"total_pools", m.poolCount.Load(),
	)
	return mp, nil
}

// Forget drops the cached resolution of a tenant (e.g. after a status
// change), closing its dedicated pool.
func (m *Manager[D]) Forget(tenantID int64) {
	if val, ok := m.pools.Load(tenantID); ok {
		m.release(tenantID, val.(*managed[D]), "forgotten")
	}
}

func (m *Manager[D]) loop(period time.Duration, fn func()) {
	defer m.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// evictIdlePools drops resolutions that have not been used recently.
func (m *Manager[D]) evictIdlePools() {
	threshold := m.clock.Now().Add(-m.config.PoolIdleTimeout).Unix()

	m.pools.Range(func(key, value any) bool {
		mp := value.(*managed[D])
		if mp.unhealthySince.Load() > 0 {
			m.release(key.(int64), mp, "unhealthy pool")
			return true
		}
		if mp.lastUsed.Load() < threshold {
			m.release(key.(int64), mp, "idle timeout")
		}
		return true
	})
}

// checkPoolsHealth pings dedicated pools and closes failing ones.
func (m *Manager[D]) checkPoolsHealth() {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	m.pools.Range(func(key, value any) bool {
		mp := value.(*managed[D])
		if !mp.dedicated {
			return true
		}
		if err := mp.db.Ping(ctx); err != nil {
			mp.unhealthySince.CompareAndSwap(0, m.clock.Now().Unix())
			m.log.Warnw("pool health check failed",
				"tenant_id", key,
				"error", err,
			)
			m.release(key.(int64), mp, "health check failed")
			return true
		}
		mp.unhealthySince.Store(0)
		return true
	})
}

func (m *Manager[D]) release(tenantID int64, mp *managed[D], reason string) {
	if !m.pools.CompareAndDelete(tenantID, mp) {
		return
	}
	if !mp.dedicated {
		return
	}
	if err := mp.db.Close(); err != nil {
		m.log.Warnw("closing tenant database failed", "tenant_id", tenantID, "error", err)
	}
	m.poolCount.Add(-1)
	m.log.Infow("closed tenant database",
		"tenant_id", tenantID,
		"reason", reason,
		"total_pools", m.poolCount.Load(),
	)
}

// Close stops the background loops and closes every dedicated pool.
// The shared database belongs to the caller.
func (m *Manager[D]) Close() {
	m.cancel()
	m.wg.Wait()

	var closed int
	m.pools.Range(func(key, value any) bool {
		mp := value.(*managed[D])
		m.pools.Delete(key)
		if mp.dedicated {
			_ = mp.db.Close()
			m.poolCount.Add(-1)
			closed++
		}
		return true
	})
	m.log.Infow("tenant manager closed", "pools_closed", closed)
}

// Stats returns current manager statistics.
func (m *Manager[D]) Stats() ManagerStats {
	stats := ManagerStats{DedicatedPools: int(m.poolCount.Load())}
	m.pools.Range(func(key, value any) bool {
		mp := value.(*managed[D])
		stats.Tenants = append(stats.Tenants, TenantStats{
			TenantID:  key.(int64),
			Dedicated: mp.dedicated,
			LastUsed:  time.Unix(mp.lastUsed.Load(), 0).UTC(),
		})
		return true
	})
	sort.Slice(stats.Tenants, func(i, j int) bool {
		return stats.Tenants[i].TenantID < stats.Tenants[j].TenantID
	})
	return stats
}

// ManagerStats contains manager runtime statistics.
type ManagerStats struct {
	DedicatedPools int
	Tenants        []TenantStats
}

// TenantStats describes one cached tenant resolution.
type TenantStats struct {
	TenantID  int64
	Dedicated bool
	LastUsed  time.Time
}

// PrewarmPools opens the dedicated databases of all active tenants.
func (m *Manager[D]) PrewarmPools(ctx context.Context) error {
	tenants, err := m.registry.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tenants: %w", err)
	}

	m.log.Infow("prewarming pools", "tenant_count", len(tenants))

	var errs []error
	for _, t := range tenants {
		if _, err := m.Database(ctx, &t.ID); err != nil {
			errs = append(errs, fmt.Errorf("prewarm %d: %w", t.ID, err))
		}
	}
	if len(errs) > 0 {
		m.log.Warnw("some pools failed to prewarm", "error_count", len(errs))
		return errors.Join(errs...)
	}
	return nil
}
