package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantdb/pkg/logger"
)

type fakeDB struct {
	dsn     string
	pingErr error
	closed  atomic.Bool
}

func (d *fakeDB) Ping(context.Context) error { return d.pingErr }
func (d *fakeDB) Close() error               { d.closed.Store(true); return nil }

type fakeRegistry struct {
	mu      sync.Mutex
	tenants map[int64]*Tenant
	lookups int
}

func (r *fakeRegistry) GetByID(_ context.Context, id int64) (*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	t, ok := r.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

func (r *fakeRegistry) ListActive(context.Context) ([]*Tenant, error) {
	var out []*Tenant
	for _, t := range r.tenants {
		if t.IsActive() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRegistry) ListAll(ctx context.Context) ([]*Tenant, error) { return r.ListActive(ctx) }

func (r *fakeRegistry) Create(context.Context, CreateInput) (*Tenant, error) {
	return nil, errors.New("not supported")
}

func (r *fakeRegistry) UpdateStatus(context.Context, int64, Status) error { return nil }

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func dsn(s string) *string { return &s }

func id(v int64) *int64 { return &v }

type fixture struct {
	manager  *Manager[*fakeDB]
	shared   *fakeDB
	registry *fakeRegistry
	clock    *movableClock
	opened   atomic.Int32
}

func newFixture(t *testing.T, cfg ManagerConfig) *fixture {
	t.Helper()
	f := &fixture{
		shared: &fakeDB{dsn: "shared"},
		registry: &fakeRegistry{tenants: map[int64]*Tenant{
			1: {ID: 1, Name: "shared tenant", Status: StatusActive},
			2: {ID: 2, Name: "own db", ConnectionString: dsn("postgres://t2"), Status: StatusActive},
			3: {ID: 3, Name: "suspended", Status: StatusSuspended},
			4: {ID: 4, Name: "own db too", ConnectionString: dsn("postgres://t4"), Status: StatusActive},
		}},
		clock: &movableClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	cfg.Clock = f.clock
	open := func(_ context.Context, dsn string) (*fakeDB, error) {
		f.opened.Add(1)
		return &fakeDB{dsn: dsn}, nil
	}
	f.manager = NewManager[*fakeDB](cfg, f.registry, f.shared, open, logger.Nop())
	t.Cleanup(f.manager.Close)
	return f
}

func TestManager_HostAndSharedTenantsUseSharedDatabase(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	ctx := context.Background()

	db, err := f.manager.Database(ctx, nil)
	require.NoError(t, err)
	assert.Same(t, f.shared, db)

	db, err = f.manager.Database(ctx, id(1))
	require.NoError(t, err)
	assert.Same(t, f.shared, db)

	_, err = f.manager.Database(ctx, id(1))
	require.NoError(t, err)
	assert.Equal(t, 1, f.registry.lookups)
	assert.Zero(t, f.opened.Load())
}

func TestManager_DedicatedDatabaseOpenedOnce(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*fakeDB, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := f.manager.Database(ctx, id(2))
			assert.NoError(t, err)
			results[i] = db
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.opened.Load())
	for _, db := range results {
		assert.Same(t, results[0], db)
	}
	assert.Equal(t, "postgres://t2", results[0].dsn)
	assert.Equal(t, 1, f.manager.Stats().DedicatedPools)
}

func TestManager_LookupErrors(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	ctx := context.Background()

	_, err := f.manager.Database(ctx, id(99))
	assert.ErrorIs(t, err, ErrTenantNotFound)

	_, err = f.manager.Database(ctx, id(3))
	assert.ErrorIs(t, err, ErrTenantNotActive)
}

func TestManager_PoolLimit(t *testing.T) {
	f := newFixture(t, ManagerConfig{MaxTotalPools: 1})
	ctx := context.Background()

	_, err := f.manager.Database(ctx, id(2))
	require.NoError(t, err)
	_, err = f.manager.Database(ctx, id(4))
	assert.ErrorIs(t, err, ErrMaxPoolLimit)

	// Shared tenants do not count against the limit.
	_, err = f.manager.Database(ctx, id(1))
	assert.NoError(t, err)
}

func TestManager_EvictsIdlePools(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	f.manager.config.PoolIdleTimeout = 10 * time.Minute
	ctx := context.Background()

	db, err := f.manager.Database(ctx, id(2))
	require.NoError(t, err)

	f.clock.advance(5 * time.Minute)
	f.manager.evictIdlePools()
	assert.False(t, db.closed.Load())

	f.clock.advance(6 * time.Minute)
	f.manager.evictIdlePools()
	assert.True(t, db.closed.Load())
	assert.Zero(t, f.manager.Stats().DedicatedPools)

	again, err := f.manager.Database(ctx, id(2))
	require.NoError(t, err)
	assert.NotSame(t, db, again)
	assert.Equal(t, int32(2), f.opened.Load())
}

func TestManager_HealthCheckClosesFailingPools(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	ctx := context.Background()

	db, err := f.manager.Database(ctx, id(2))
	require.NoError(t, err)
	db.pingErr = errors.New("connection refused")

	f.manager.checkPoolsHealth()
	assert.True(t, db.closed.Load())
	assert.False(t, f.shared.closed.Load())
}

func TestManager_CloseLeavesSharedOpen(t *testing.T) {
	f := newFixture(t, ManagerConfig{})
	ctx := context.Background()
	db, err := f.manager.Database(ctx, id(2))
	require.NoError(t, err)
	_, err = f.manager.Database(ctx, id(1))
	require.NoError(t, err)

	f.manager.Close()
	assert.True(t, db.closed.Load())
	assert.False(t, f.shared.closed.Load())
}

func TestCreateInput_Validate(t *testing.T) {
	in := CreateInput{Name: "  Acme  ", ConnectionString: " "}
	require.NoError(t, in.Validate())
	assert.Equal(t, "Acme", in.Name)
	assert.Empty(t, in.ConnectionString)

	assert.Error(t, (&CreateInput{}).Validate())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("Suspended")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, st)

	_, err = ParseStatus("gone")
	assert.Error(t, err)
}
