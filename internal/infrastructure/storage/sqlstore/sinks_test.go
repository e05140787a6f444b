package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantdb/internal/core/clock"
	"tenantdb/internal/infrastructure/storage/sqlstore"
	"tenantdb/pkg/logger"
)

func TestOutbox_SinkAndRelay(t *testing.T) {
	e := newEnv(t)
	sink := sqlstore.NewOutboxSink(e.router, clock.Fixed(now))
	e.bus.Subscribe("outbox", sink.Handle)

	inv := e.seedInvoice(t, 1, "A-1")

	var got []*sqlstore.OutboxMessage
	relay := sqlstore.NewOutboxRelay(e.db, 10, sqlstore.OutboxHandlerFunc(
		func(_ context.Context, msg *sqlstore.OutboxMessage) error {
			got = append(got, msg)
			return nil
		}), clock.Fixed(now), logger.Nop())

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, "invoice", got[0].AggregateType)
	assert.Equal(t, inv.ID.String(), got[0].AggregateKey)
	assert.Equal(t, "invoiceIssued", got[0].EventType)
	assert.Equal(t, tenant(1), got[0].TenantID)
	assert.JSONEq(t, `{"Number":"A-1"}`, string(got[0].Payload))

	n, err = relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelay_FailureSchedulesRetry(t *testing.T) {
	e := newEnv(t)
	sink := sqlstore.NewOutboxSink(e.router, clock.Fixed(now))
	e.bus.Subscribe("outbox", sink.Handle)
	e.seedInvoice(t, 1, "A-1")

	calls := 0
	failing := sqlstore.OutboxHandlerFunc(func(context.Context, *sqlstore.OutboxMessage) error {
		calls++
		return errors.New("broker down")
	})

	relay := sqlstore.NewOutboxRelay(e.db, 10, failing, clock.Fixed(now), logger.Nop())
	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, calls)

	// Not due yet.
	_, err = relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	var row struct {
		RetryCount int     `db:"retry_count"`
		Status     string  `db:"status"`
		LastError  *string `db:"last_error"`
	}
	ctx := context.Background()
	require.NoError(t, e.db.Querier(ctx).Get(ctx, &row, "SELECT retry_count, status, last_error FROM sys_outbox"))
	assert.Equal(t, 1, row.RetryCount)
	assert.Equal(t, string(sqlstore.OutboxStatusPending), row.Status)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "broker down", *row.LastError)

	later := sqlstore.NewOutboxRelay(e.db, 10, failing, clock.Fixed(now.Add(2*time.Minute)), logger.Nop())
	_, err = later.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestAuditSink_RecordsChanges(t *testing.T) {
	e := newEnv(t)
	audit, err := sqlstore.NewAuditSink(e.router, clock.Fixed(now), 16)
	require.NoError(t, err)
	e.bus.Subscribe("audit", audit.Handle)

	inv := e.seedInvoice(t, 1, "A-1")

	entries, err := audit.History(context.Background(), "invoice", inv.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "created", entry.Action)
	assert.Equal(t, sqlstore.CompressionZstd, entry.CompressionAlgo)
	assert.Contains(t, string(entry.Snapshot), `"number":"A-1"`)
	assert.Nil(t, entry.SnapshotZstd)
	assert.Equal(t, tenant(1), entry.TenantID)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, int64(7), *entry.UserID)
}

func TestAuditSink_SmallSnapshotsStayPlain(t *testing.T) {
	e := newEnv(t)
	audit, err := sqlstore.NewAuditSink(e.router, clock.Fixed(now), 1<<20)
	require.NoError(t, err)
	e.bus.Subscribe("audit", audit.Handle)

	n := e.seedNote(t, nil, "host")

	entries, err := audit.History(context.Background(), "note", n.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sqlstore.CompressionNone, entries[0].CompressionAlgo)
	assert.Nil(t, entries[0].TenantID)
	assert.Contains(t, string(entries[0].Snapshot), `"text":"host"`)
}
