package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"tenantdb/internal/core/clock"
	"tenantdb/internal/core/entity"
	"tenantdb/internal/core/events"
	"tenantdb/internal/core/id"
	"tenantdb/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxMessage is one row of sys_outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"`
	AggregateKey  string       `db:"aggregate_key"`
	TenantID      *int64       `db:"tenant_id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

var outboxColumns = []string{
	"id", "aggregate_type", "aggregate_key", "tenant_id", "event_type", "payload",
	"status", "retry_count", "last_error", "next_retry_at", "created_at", "published_at",
}

// OutboxSink is an events handler that stores every domain event of a
// committed save in sys_outbox for the relay to forward.
type OutboxSink struct {
	router Router
	clock  clock.Clock
}

// NewOutboxSink creates a sink writing through router.
func NewOutboxSink(router Router, clk clock.Clock) *OutboxSink {
	if clk == nil {
		clk = clock.System{}
	}
	return &OutboxSink{router: router, clock: clk}
}

// Handle implements events.Handler. Entity changes are ignored.
func (s *OutboxSink) Handle(ctx context.Context, msg events.Message) error {
	if msg.Event == nil {
		return nil
	}
	ev := msg.Event

	payload, err := json.Marshal(ev.Event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var tenantID *int64
	if scoped, ok := ev.Source.(entity.TenantScoped); ok {
		tenantID = scoped.GetTenantID()
	}

	conn, err := s.router.Conn(ctx)
	if err != nil {
		return err
	}
	sql, args, err := Builder(conn).Insert("sys_outbox").
		Columns("id", "aggregate_type", "aggregate_key", "tenant_id", "event_type", "payload", "status", "retry_count", "created_at").
		Values(id.New(), ev.EntityType, fmt.Sprint(ev.Key), tenantID, ev.EventName(), payload, OutboxStatusPending, 0, s.clock.Now()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox insert: %w", err)
	}
	if _, err := conn.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// OutboxHandler forwards one outbox message (e.g. to a broker).
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxHandlerFunc adapts a function to OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, msg *OutboxMessage) error

// Handle implements OutboxHandler.
func (f OutboxHandlerFunc) Handle(ctx context.Context, msg *OutboxMessage) error {
	return f(ctx, msg)
}

// MaxOutboxRetries is the retry budget before a message is marked failed.
const MaxOutboxRetries = 5

// OutboxRelay reads pending messages and hands them to a handler.
type OutboxRelay struct {
	conn      Conn
	batchSize uint64
	handler   OutboxHandler
	clock     clock.Clock
	log       *logger.Logger
}

// NewOutboxRelay creates a relay over one database.
func NewOutboxRelay(conn Conn, batchSize int, handler OutboxHandler, clk clock.Clock, log *logger.Logger) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &OutboxRelay{
		conn:      conn,
		batchSize: uint64(batchSize),
		handler:   handler,
		clock:     clk,
		log:       log.WithComponent("outbox-relay"),
	}
}

// ProcessBatch fetches due pending messages and processes them in one
// transaction. Returns the number of messages handled successfully.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	processed := 0
	err := r.conn.RunInTransaction(ctx, func(ctx context.Context) error {
		processed = 0
		now := r.clock.Now()
		q := Builder(r.conn).Select(outboxColumns...).From("sys_outbox").
			Where(squirrel.Eq{"status": OutboxStatusPending}).
			Where(squirrel.Or{
				squirrel.Eq{"next_retry_at": nil},
				squirrel.LtOrEq{"next_retry_at": now},
			}).
			OrderBy("created_at").
			Limit(r.batchSize)
		if r.conn.Dialect().SkipLocked {
			q = q.Suffix("FOR UPDATE SKIP LOCKED")
		}
		sql, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build outbox fetch: %w", err)
		}

		var messages []*OutboxMessage
		if err := r.conn.Querier(ctx).Select(ctx, &messages, sql, args...); err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		for _, msg := range messages {
			if err := r.processMessage(ctx, msg, now); err != nil {
				r.log.WithContext(ctx).Warnw("outbox message failed",
					"message_id", msg.ID,
					"event_type", msg.EventType,
					"retry_count", msg.RetryCount,
					"error", err,
				)
				continue
			}
			processed++
		}
		return nil
	})
	return processed, err
}

// processMessage handles a single message and records the outcome.
func (r *OutboxRelay) processMessage(ctx context.Context, msg *OutboxMessage, now time.Time) error {
	q := r.conn.Querier(ctx)
	sb := Builder(r.conn)

	if handleErr := r.handler.Handle(ctx, msg); handleErr != nil {
		// Linear backoff, one more minute per attempt.
		retries := msg.RetryCount + 1
		status := OutboxStatusPending
		if retries >= MaxOutboxRetries {
			status = OutboxStatusFailed
		}
		sql, args, err := sb.Update("sys_outbox").
			Set("retry_count", retries).
			Set("last_error", handleErr.Error()).
			Set("next_retry_at", now.Add(time.Duration(retries)*time.Minute)).
			Set("status", status).
			Where(squirrel.Eq{"id": msg.ID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build outbox retry: %w", err)
		}
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("update failed message: %w", err)
		}
		return handleErr
	}

	sql, args, err := sb.Update("sys_outbox").
		Set("status", OutboxStatusPublished).
		Set("published_at", now).
		Where(squirrel.Eq{"id": msg.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox publish: %w", err)
	}
	_, err = q.Exec(ctx, sql, args...)
	return err
}

// PurgePublished deletes published messages older than the cutoff.
func (r *OutboxRelay) PurgePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	sql, args, err := Builder(r.conn).Delete("sys_outbox").
		Where(squirrel.Eq{"status": OutboxStatusPublished}).
		Where(squirrel.Lt{"published_at": olderThan}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build outbox purge: %w", err)
	}
	n, err := r.conn.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return n, nil
}
