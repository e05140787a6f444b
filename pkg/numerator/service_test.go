package numerator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "tenantdb/internal/core/context"
	"tenantdb/internal/core/model"
	"tenantdb/internal/core/uow"
	"tenantdb/internal/infrastructure/storage/sqlite"
	"tenantdb/internal/infrastructure/storage/sqlstore"
	"tenantdb/pkg/logger"
)

const schema = `
CREATE TABLE sys_sequences (
	tenant_key INTEGER NOT NULL,
	seq_key TEXT NOT NULL,
	current_val INTEGER NOT NULL,
	PRIMARY KEY (tenant_key, seq_key)
);`

var period = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *uow.Manager) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Exec(ctx, schema))

	reg, err := model.NewBuilder().Build()
	require.NoError(t, err)
	router := sqlstore.Single{DB: db}
	m, err := uow.NewManager(uow.Dependencies{
		Registry: reg,
		Stores:   sqlstore.NewProvider(router),
		Actor:    appctx.UserActor{},
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	return New(router), m
}

func inTenant(m *uow.Manager, tenantID int64) context.Context {
	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{TenantID: &tenantID})
	ctx, _ = m.Begin(ctx)
	return ctx
}

func TestStrict_Sequential(t *testing.T) {
	s, m := setup(t)
	ctx := inTenant(m, 1)
	cfg := DefaultConfig("INV")

	first, err := s.GetNextNumber(ctx, cfg, nil, period)
	require.NoError(t, err)
	second, err := s.GetNextNumber(ctx, cfg, nil, period)
	require.NoError(t, err)

	assert.Equal(t, "INV-2024-00001", first)
	assert.Equal(t, "INV-2024-00002", second)
}

func TestStrict_CountersArePerTenant(t *testing.T) {
	s, m := setup(t)
	cfg := Config{Prefix: "INV", PadWidth: 3}

	a, err := s.GetNextNumber(inTenant(m, 1), cfg, nil, period)
	require.NoError(t, err)
	b, err := s.GetNextNumber(inTenant(m, 2), cfg, nil, period)
	require.NoError(t, err)
	host, err := s.GetNextNumber(context.Background(), cfg, nil, period)
	require.NoError(t, err)

	assert.Equal(t, "INV-001", a)
	assert.Equal(t, "INV-001", b)
	assert.Equal(t, "INV-001", host)
}

func TestCached_ReservesRanges(t *testing.T) {
	s, m := setup(t)
	ctx := inTenant(m, 1)
	cfg := Config{Prefix: "GI", ResetPeriod: "never"}
	opts := &Options{Strategy: StrategyCached, RangeSize: 3}

	var got []string
	for range 4 {
		n, err := s.GetNextNumber(ctx, cfg, opts, period)
		require.NoError(t, err)
		got = append(got, n)
	}
	assert.Equal(t, []string{"GI-00001", "GI-00002", "GI-00003", "GI-00004"}, got)

	// A strict caller sees the end of the second reserved range.
	n, err := s.GetNextNumber(ctx, cfg, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "GI-00007", n)
}

func TestCached_ConcurrentUnique(t *testing.T) {
	s, m := setup(t)
	ctx := inTenant(m, 1)
	cfg := Config{Prefix: "X", ResetPeriod: "never"}
	opts := &Options{Strategy: StrategyCached, RangeSize: 10}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.GetNextNumber(ctx, cfg, opts, period)
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestSetNextNumber_ResetsCounterAndCache(t *testing.T) {
	s, m := setup(t)
	ctx := inTenant(m, 1)
	cfg := Config{Prefix: "INV", ResetPeriod: "month"}
	opts := &Options{Strategy: StrategyCached, RangeSize: 5}

	_, err := s.GetNextNumber(ctx, cfg, opts, period)
	require.NoError(t, err)
	require.NoError(t, s.SetNextNumber(ctx, cfg, period, 100))

	n, err := s.GetNextNumber(ctx, cfg, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "INV-00101", n)
}

func TestBuildKey(t *testing.T) {
	assert.Equal(t, "INV_2024_05", buildKey(Config{Prefix: "INV", ResetPeriod: "month"}, period))
	assert.Equal(t, "INV_2024", buildKey(Config{Prefix: "INV", ResetPeriod: "year"}, period))
	assert.Equal(t, "INV", buildKey(Config{Prefix: "INV", ResetPeriod: "never"}, period))
}
