package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tenantdb/internal/core/tx"
	"tenantdb/pkg/logger"
)

var tracer = otel.Tracer("tenantdb/sqlite")

// Compile-time check.
var _ tx.Manager = (*TxManager)(nil)

// TxManager runs database/sql transactions carried in the context.
// Nested calls on the same manager reuse the outer transaction.
type TxManager struct {
	db *sql.DB
}

// NewTxManager creates a manager over db.
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// txKey is scoped per manager so transactions of different databases in
// the same call chain never mix.
type txKey struct {
	m *TxManager
}

// RunInTransaction implements tx.Manager.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.tx(ctx) != nil {
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(attribute.String("db.system", "sqlite")))
	defer span.End()

	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{m}, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			logger.Error(ctx, "rollback failed", "error", rbErr, "original_error", err)
		}
		span.RecordError(err)
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InTransaction reports whether ctx carries a transaction of this manager.
func (m *TxManager) InTransaction(ctx context.Context) bool {
	return m.tx(ctx) != nil
}

func (m *TxManager) tx(ctx context.Context) *sql.Tx {
	if t, ok := ctx.Value(txKey{m}).(*sql.Tx); ok {
		return t
	}
	return nil
}

func (m *TxManager) executor(ctx context.Context) executor {
	if t := m.tx(ctx); t != nil {
		return t
	}
	return m.db
}
