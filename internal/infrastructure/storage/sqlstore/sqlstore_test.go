package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/clock"
	appctx "tenantdb/internal/core/context"
	"tenantdb/internal/core/datafilter"
	"tenantdb/internal/core/entity"
	"tenantdb/internal/core/events"
	"tenantdb/internal/core/model"
	"tenantdb/internal/core/querycache"
	"tenantdb/internal/core/uow"
	"tenantdb/internal/infrastructure/storage/sqlite"
	"tenantdb/internal/infrastructure/storage/sqlstore"
	"tenantdb/pkg/logger"
)

const schema = `
CREATE TABLE invoices (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	tenant_id INTEGER NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT 0,
	deleted_at DATETIME,
	deleted_by INTEGER,
	created_at DATETIME NOT NULL,
	created_by INTEGER,
	updated_at DATETIME,
	updated_by INTEGER,
	number TEXT NOT NULL
);
CREATE TABLE notes (
	id TEXT PRIMARY KEY,
	tenant_id INTEGER,
	text TEXT NOT NULL
);
CREATE TABLE counters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL
);
CREATE TABLE sys_outbox (
	id TEXT PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_key TEXT NOT NULL,
	tenant_id INTEGER,
	event_type TEXT NOT NULL,
	payload BLOB NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	next_retry_at DATETIME,
	created_at DATETIME NOT NULL,
	published_at DATETIME
);
CREATE TABLE sys_audit (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_key TEXT NOT NULL,
	tenant_id INTEGER,
	action TEXT NOT NULL,
	user_id INTEGER,
	snapshot BLOB,
	snapshot_compressed BLOB,
	compression_algo TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

type invoiceIssued struct {
	Number string
}

type invoice struct {
	entity.BaseEntity
	entity.Versioning
	entity.MustHaveTenantField
	entity.SoftDeleteFields
	entity.Audited
	entity.AggregateRoot
	Number string `db:"number"`
}

func newInvoice(number string) *invoice {
	inv := &invoice{Number: number}
	inv.Raise(invoiceIssued{Number: number})
	return inv
}

type note struct {
	entity.BaseEntity
	entity.MayHaveTenantField
	Text string `db:"text"`
}

type counter struct {
	ID    int64  `db:"id"`
	Label string `db:"label"`
}

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	reg      *model.Registry
	db       *sqlite.DB
	router   sqlstore.Router
	manager  *uow.Manager
	cache    *querycache.Cache
	bus      *events.Bus
	invoices *sqlstore.Repository[invoice]
	notes    *sqlstore.Repository[note]
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Exec(ctx, schema))

	b := model.NewBuilder()
	model.Register[invoice](b, model.Definition{Name: "invoice", Table: "invoices"})
	model.Register[note](b, model.Definition{Name: "note", Table: "notes"})
	model.Register[counter](b, model.Definition{Name: "counter", Table: "counters", KeyGeneration: model.KeyDatabase})
	reg, err := b.Build()
	require.NoError(t, err)

	e := &env{
		reg:    reg,
		db:     db,
		router: sqlstore.Single{DB: db},
		cache:  querycache.New(16),
		bus:    events.NewBus(logger.Nop()),
	}
	e.manager = e.managerAt(t, now)

	e.invoices, err = sqlstore.NewRepository[invoice](e.router, reg, e.cache)
	require.NoError(t, err)
	e.notes, err = sqlstore.NewRepository[note](e.router, reg, e.cache)
	require.NoError(t, err)
	return e
}

// managerAt returns a unit of work manager whose clock is stopped at at.
func (e *env) managerAt(t *testing.T, at time.Time) *uow.Manager {
	t.Helper()
	m, err := uow.NewManager(uow.Dependencies{
		Registry:  e.reg,
		Stores:    sqlstore.NewProvider(e.router),
		Actor:     appctx.UserActor{},
		Clock:     clock.Fixed(at),
		Publisher: e.bus,
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)
	return m
}

func tenant(v int64) *int64 { return &v }

// asUser returns a request context for user 7 of the given tenant.
func asUser(tenantID *int64) context.Context {
	userID := int64(7)
	return appctx.WithUser(context.Background(), &appctx.UserContext{UserID: &userID, TenantID: tenantID})
}

func (e *env) seedInvoice(t *testing.T, tenantID int64, number string) *invoice {
	t.Helper()
	ctx, u := e.manager.Begin(asUser(tenant(tenantID)))
	defer u.Close()
	inv := newInvoice(number)
	require.NoError(t, u.Insert(inv))
	_, err := u.Save(ctx)
	require.NoError(t, err)
	return inv
}

func (e *env) seedNote(t *testing.T, tenantID *int64, text string) *note {
	t.Helper()
	ctx, u := e.manager.Begin(asUser(tenantID))
	defer u.Close()
	n := &note{Text: text}
	require.NoError(t, u.Insert(n))
	_, err := u.Save(ctx)
	require.NoError(t, err)
	return n
}

func numbers(rows []*invoice) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Number)
	}
	return out
}

func TestRepository_TenantIsolationUnderCache(t *testing.T) {
	e := newEnv(t)
	e.seedInvoice(t, 1, "A-1")
	e.seedInvoice(t, 1, "A-2")
	e.seedInvoice(t, 2, "B-1")

	ctx, u := e.manager.Begin(asUser(tenant(1)))
	defer u.Close()
	q := sqlstore.Query{OrderBy: []string{"number"}}

	rows, err := e.invoices.Find(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"A-1", "A-2"}, numbers(rows))

	rows, err = e.invoices.Find(u.SetTenantID(ctx, tenant(2)), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"B-1"}, numbers(rows))

	rows, err = e.invoices.Find(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"A-1", "A-2"}, numbers(rows))

	stats := e.cache.Stats()
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestRepository_UserWhereCombinesWithFilter(t *testing.T) {
	e := newEnv(t)
	e.seedInvoice(t, 1, "A-1")
	e.seedInvoice(t, 1, "A-2")
	e.seedInvoice(t, 2, "A-1")

	ctx, u := e.manager.Begin(asUser(tenant(1)))
	defer u.Close()

	n, err := e.invoices.Count(ctx, sqlstore.Query{Where: squirrelEq("number", "A-1")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = e.invoices.Count(ctx, sqlstore.Query{Where: squirrelEq("number", "A-2")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRepository_OutsideUnitOfWorkUsesHostState(t *testing.T) {
	e := newEnv(t)
	e.seedNote(t, nil, "host")
	e.seedNote(t, tenant(3), "tenant")

	rows, err := e.notes.Find(context.Background(), sqlstore.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "host", rows[0].Text)

	ctx, u := e.manager.Begin(asUser(tenant(3)))
	defer u.Close()
	rows, err = e.notes.Find(ctx, sqlstore.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "tenant", rows[0].Text)

	rows, err = e.notes.Find(u.DisableFilter(ctx, datafilter.MayHaveTenant), sqlstore.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSave_SoftDeleteHidesRowUntilFilterDisabled(t *testing.T) {
	e := newEnv(t)
	inv := e.seedInvoice(t, 1, "A-1")

	ctx, u := e.manager.Begin(asUser(tenant(1)))
	defer u.Close()
	loaded, err := e.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.NoError(t, u.Delete(loaded))
	n, err := u.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.invoices.Get(ctx, inv.ID)
	assert.True(t, apperror.IsNotFound(err))

	all := u.DisableFilter(ctx, datafilter.SoftDelete)
	got, err := e.invoices.Get(all, inv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())
	require.NotNil(t, got.DeletedAt)
	assert.True(t, now.Equal(*got.DeletedAt))
	assert.Equal(t, int64(7), *got.DeletedBy)
	assert.Equal(t, 2, got.Version)

	// The toggle is scoped: the original context still filters.
	count, err := e.invoices.Count(ctx, sqlstore.Query{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSave_SoftDeleteReloadsCurrentVersion(t *testing.T) {
	e := newEnv(t)
	inv := e.seedInvoice(t, 1, "A-1")

	ctxA, a := e.manager.Begin(asUser(tenant(1)))
	defer a.Close()
	ctxB, b := e.manager.Begin(asUser(tenant(1)))
	defer b.Close()

	stale, err := e.invoices.Get(ctxB, inv.ID)
	require.NoError(t, err)

	fresh, err := e.invoices.Get(ctxA, inv.ID)
	require.NoError(t, err)
	fresh.Number = "A-1 (edited)"
	require.NoError(t, a.Update(fresh))
	_, err = a.Save(ctxA)
	require.NoError(t, err)

	require.NoError(t, b.Delete(stale))
	_, err = b.Save(ctxB)
	require.NoError(t, err)
	assert.Equal(t, 3, stale.Version)
	assert.Equal(t, "A-1 (edited)", stale.Number)
}

func TestSave_HardDeleteRemovesRow(t *testing.T) {
	e := newEnv(t)
	inv := e.seedInvoice(t, 1, "A-1")

	ctx, u := e.manager.Begin(asUser(tenant(1)))
	defer u.Close()
	loaded, err := e.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.NoError(t, u.MarkForHardDelete(loaded))
	require.NoError(t, u.Delete(loaded))
	_, err = u.Save(ctx)
	require.NoError(t, err)

	n, err := e.invoices.Count(u.DisableFilter(ctx, datafilter.SoftDelete), sqlstore.Query{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSave_VersionConflict(t *testing.T) {
	e := newEnv(t)
	inv := e.seedInvoice(t, 1, "A-1")

	var published int
	e.bus.Subscribe("count", func(context.Context, events.Message) error {
		published++
		return nil
	})

	ctxA, a := e.manager.Begin(asUser(tenant(1)))
	defer a.Close()
	ctxB, b := e.manager.Begin(asUser(tenant(1)))
	defer b.Close()

	ia, err := e.invoices.Get(ctxA, inv.ID)
	require.NoError(t, err)
	ib, err := e.invoices.Get(ctxB, inv.ID)
	require.NoError(t, err)

	ia.Number = "first"
	require.NoError(t, a.Update(ia))
	_, err = a.Save(ctxA)
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	ib.Number = "second"
	require.NoError(t, b.Update(ib))
	_, err = b.Save(ctxB)
	require.Error(t, err)
	assert.True(t, apperror.IsConcurrentModification(err))
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "invoice", appErr.Details["entity"])
	assert.Equal(t, 1, published)

	got, err := e.invoices.Get(ctxA, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Number)
}

func TestSave_FailedSaveCanBeRetried(t *testing.T) {
	e := newEnv(t)
	x1 := e.seedInvoice(t, 1, "X-1")
	x2 := e.seedInvoice(t, 1, "X-2")

	ctx, u := e.manager.Begin(asUser(tenant(1)))
	defer u.Close()
	first, err := e.invoices.Get(ctx, x1.ID)
	require.NoError(t, err)
	second, err := e.invoices.Get(ctx, x2.ID)
	require.NoError(t, err)

	otherCtx, other := e.manager.Begin(asUser(tenant(1)))
	concurrent, err := e.invoices.Get(otherCtx, x2.ID)
	require.NoError(t, err)
	concurrent.Number = "X-2 (other)"
	require.NoError(t, other.Update(concurrent))
	_, err = other.Save(otherCtx)
	require.NoError(t, err)
	other.Close()

	first.Number = "X-1 (edited)"
	second.Number = "X-2 (edited)"
	require.NoError(t, u.Update(first))
	require.NoError(t, u.Update(second))
	_, err = u.Save(ctx)
	require.Error(t, err)
	assert.True(t, apperror.IsConcurrentModification(err))

	assert.Equal(t, 1, first.Version, "the rolled back update does not bump the version")
	assert.Nil(t, first.UpdatedAt)
	assert.Equal(t, "X-1 (edited)", first.Number)

	second.Version = concurrent.Version
	rows, err := u.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)
	assert.Equal(t, 2, first.Version)
	assert.Equal(t, 3, second.Version)

	got, err := e.invoices.Get(ctx, x1.ID)
	require.NoError(t, err)
	assert.Equal(t, "X-1 (edited)", got.Number)
}

func TestSave_EditingDeletedRowKeepsDeletionAudit(t *testing.T) {
	e := newEnv(t)
	inv := e.seedInvoice(t, 1, "A-1")

	ctx, u := e.manager.Begin(asUser(tenant(1)))
	loaded, err := e.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.NoError(t, u.Delete(loaded))
	_, err = u.Save(ctx)
	require.NoError(t, err)
	u.Close()

	later := now.Add(48 * time.Hour)
	otherUser := int64(9)
	base := appctx.WithUser(context.Background(), &appctx.UserContext{UserID: &otherUser, TenantID: tenant(1)})
	ctx, u = e.managerAt(t, later).Begin(base)
	defer u.Close()
	all := u.DisableFilter(ctx, datafilter.SoftDelete)

	deleted, err := e.invoices.Get(all, inv.ID)
	require.NoError(t, err)
	deleted.Number = "A-1 (archived)"
	require.NoError(t, u.Update(deleted))
	_, err = u.Save(all)
	require.NoError(t, err)

	require.NoError(t, u.Delete(deleted))
	_, err = u.Save(all)
	require.NoError(t, err)

	got, err := e.invoices.Get(all, inv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())
	assert.Equal(t, "A-1 (archived)", got.Number)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, now.Equal(*got.DeletedAt))
	assert.Equal(t, int64(7), *got.DeletedBy)
	require.NotNil(t, got.UpdatedAt)
	assert.True(t, later.Equal(*got.UpdatedAt))
}

func TestSave_DatabaseGeneratedKey(t *testing.T) {
	e := newEnv(t)
	var keys []any
	e.bus.Subscribe("keys", func(_ context.Context, msg events.Message) error {
		if msg.Change != nil {
			keys = append(keys, msg.Change.Key)
		}
		return nil
	})

	ctx, u := e.manager.Begin(asUser(nil))
	defer u.Close()
	first, second := &counter{Label: "a"}, &counter{Label: "b"}
	require.NoError(t, u.Insert(first))
	require.NoError(t, u.Insert(second))
	_, err := u.Save(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, []any{int64(1), int64(2)}, keys)
}

func TestResolvingRouter_PicksDatabaseBySide(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tenantDB, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tenantDB.Close() })
	require.NoError(t, tenantDB.Exec(ctx, schema))

	router := newSideRouter(t, e.db, tenantDB)
	repo, err := sqlstore.NewRepository[note](router, e.manager.Registry(), nil)
	require.NoError(t, err)

	hostCtx, host := e.manager.Begin(asUser(nil))
	defer host.Close()
	conn, err := router.Conn(hostCtx)
	require.NoError(t, err)
	assert.Same(t, e.db, conn)

	tenantCtx := host.SetTenantID(hostCtx, tenant(5))
	conn, err = router.Conn(tenantCtx)
	require.NoError(t, err)
	assert.Same(t, tenantDB, conn)

	_, err = repo.Find(context.Background(), sqlstore.Query{})
	assert.True(t, apperror.IsUsage(err))
}
