// Package main is the entry point for the tenantdb background worker.
// It relays outbox messages of the shared database and of every tenant
// with a dedicated database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tenantdb/internal/app"
	"tenantdb/internal/config"
	"tenantdb/internal/infrastructure/storage/sqlstore"
	"tenantdb/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting tenantdb worker")

	stack, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to open storage", "error", err)
	}
	defer stack.Close()

	worker := NewWorker(stack, cfg, logPublisher(log), log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// logPublisher forwards outbox messages to the log. A broker client
// plugs in here.
func logPublisher(log *logger.Logger) sqlstore.OutboxHandler {
	log = log.WithComponent("publisher")
	return sqlstore.OutboxHandlerFunc(func(ctx context.Context, msg *sqlstore.OutboxMessage) error {
		log.WithContext(ctx).Infow("event published",
			"event_type", msg.EventType,
			"aggregate_type", msg.AggregateType,
			"aggregate_key", msg.AggregateKey,
			"tenant_id", msg.TenantID,
		)
		return nil
	})
}

// Worker runs one relay loop per database holding an outbox.
type Worker struct {
	stack   *app.Stack
	cfg     config.Config
	handler sqlstore.OutboxHandler
	log     *logger.Logger
}

// NewWorker creates a worker over stack.
func NewWorker(stack *app.Stack, cfg config.Config, handler sqlstore.OutboxHandler, log *logger.Logger) *Worker {
	return &Worker{
		stack:   stack,
		cfg:     cfg,
		handler: handler,
		log:     log.WithComponent("worker"),
	}
}

// Run relays the shared outbox and, with a tenant registry, starts and
// stops per-tenant loops as dedicated tenants come and go.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.relayLoop(ctx, "shared", w.stack.Shared)
	}()

	if w.stack.Tenants == nil {
		wg.Wait()
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	loops := make(map[int64]context.CancelFunc)
	w.refreshTenants(ctx, &wg, loops)

	for {
		select {
		case <-ctx.Done():
			for _, cancel := range loops {
				cancel()
			}
			wg.Wait()
			return
		case <-ticker.C:
			w.refreshTenants(ctx, &wg, loops)
		}
	}
}

func (w *Worker) refreshTenants(ctx context.Context, wg *sync.WaitGroup, loops map[int64]context.CancelFunc) {
	tenants, err := w.stack.Tenants.Registry().ListActive(ctx)
	if err != nil {
		w.log.Errorw("failed to list active tenants", "error", err)
		return
	}

	dedicated := make(map[int64]bool, len(tenants))
	for _, t := range tenants {
		if t.HasDedicatedDatabase() {
			dedicated[t.ID] = true
		}
	}

	for tenantID, cancel := range loops {
		if !dedicated[tenantID] {
			cancel()
			delete(loops, tenantID)
			w.log.Infow("stopped relay for tenant", "tenant_id", tenantID)
		}
	}

	for tenantID := range dedicated {
		if _, running := loops[tenantID]; running {
			continue
		}
		db, err := w.stack.Tenants.Database(ctx, &tenantID)
		if err != nil {
			w.log.Errorw("failed to open tenant database", "tenant_id", tenantID, "error", err)
			continue
		}

		tenantCtx, cancel := context.WithCancel(ctx)
		loops[tenantID] = cancel
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			w.relayLoop(tenantCtx, name, db)
		}(fmt.Sprintf("tenant-%d", tenantID))

		w.log.Infow("started relay for tenant", "tenant_id", tenantID)
	}
}

func (w *Worker) relayLoop(ctx context.Context, name string, conn sqlstore.Conn) {
	relay := sqlstore.NewOutboxRelay(conn, w.cfg.OutboxBatchSize, w.handler, w.stack.Clock, w.log)

	ticker := time.NewTicker(w.cfg.OutboxPollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx, name, relay)
		case <-cleanupTicker.C:
			cutoff := w.stack.Clock.Now().Add(-w.cfg.OutboxRetention)
			n, err := relay.PurgePublished(ctx, cutoff)
			if err != nil {
				w.log.Warnw("outbox purge failed", "database", name, "error", err)
				continue
			}
			if n > 0 {
				w.log.Infow("purged published outbox messages", "database", name, "count", n)
			}
		}
	}
}

// drain processes batches until one comes back short.
func (w *Worker) drain(ctx context.Context, name string, relay *sqlstore.OutboxRelay) {
	for ctx.Err() == nil {
		n, err := relay.ProcessBatch(ctx)
		if err != nil {
			w.log.Warnw("outbox batch failed", "database", name, "error", err)
			return
		}
		if n > 0 {
			w.log.Debugw("processed outbox batch", "database", name, "count", n)
		}
		if n < w.cfg.OutboxBatchSize {
			return
		}
	}
}
