package postgres

import (
	"context"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenantdb/internal/infrastructure/storage/sqlstore"
)

// Compile-time check.
var _ sqlstore.Conn = (*DB)(nil)

// DB is one PostgreSQL database usable as a sqlstore.Conn.
type DB struct {
	*TxManager
	pool *pgxpool.Pool
}

// NewDB wraps pool.
func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{TxManager: NewTxManager(pool), pool: pool}
}

// Open creates a pool for cfg and wraps it.
func Open(ctx context.Context, cfg PoolConfig) (*DB, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewDB(pool), nil
}

// OpenTenant opens a dedicated tenant database with TenantPoolConfig.
// It is the tenant.Opener used by the tenant manager.
func OpenTenant(ctx context.Context, dsn string) (*DB, error) {
	return Open(ctx, TenantPoolConfig(dsn))
}

// Pool returns the underlying pool.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Ping verifies a connection can be acquired.
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Close closes all connections in the pool.
func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

// Dialect implements sqlstore.Conn.
func (d *DB) Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{Name: "postgres", Placeholder: squirrel.Dollar, SkipLocked: true}
}

// Querier implements sqlstore.Conn.
func (d *DB) Querier(ctx context.Context) sqlstore.Querier {
	return querier{q: d.GetQuerier(ctx)}
}

// IsNotFound implements sqlstore.Conn.
func (d *DB) IsNotFound(err error) bool {
	return pgxscan.NotFound(err)
}

type querier struct {
	q pgxQuerier
}

func (q querier) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := q.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (q querier) Get(ctx context.Context, dst any, sql string, args ...any) error {
	return translate(pgxscan.Get(ctx, q.q, dst, sql, args...))
}

func (q querier) Select(ctx context.Context, dst any, sql string, args ...any) error {
	return translate(pgxscan.Select(ctx, q.q, dst, sql, args...))
}

// SQLSTATE codes reported when concurrent transactions collide.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// SerializationError is a PostgreSQL serialization failure or deadlock.
// The unit of work reports it as a concurrent modification.
type SerializationError struct {
	Code string
	Err  error
}

func (e *SerializationError) Error() string {
	return "serialization failure (" + e.Code + "): " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ConcurrencyConflict marks the error as a store conflict.
func (e *SerializationError) ConcurrencyConflict() bool { return true }

func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected) {
		return &SerializationError{Code: pgErr.Code, Err: err}
	}
	return err
}
