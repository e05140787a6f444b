// Package sqlite provides the embedded SQLite driver for sqlstore, backed by
// modernc.org/sqlite (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	_ "modernc.org/sqlite"

	"tenantdb/internal/infrastructure/storage/sqlstore"
)

// Compile-time check.
var _ sqlstore.Conn = (*DB)(nil)

// DB is one SQLite database usable as a sqlstore.Conn.
type DB struct {
	*TxManager
	sqlDB *sql.DB
}

// Open opens dsn and pings it. In-memory databases are pinned to a single
// connection, otherwise every pooled connection would see its own database.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &DB{TxManager: NewTxManager(sqlDB), sqlDB: sqlDB}, nil
}

// SQL exposes the underlying handle (schema setup, tests).
func (d *DB) SQL() *sql.DB {
	return d.sqlDB
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.sqlDB.PingContext(ctx)
}

// Close closes the SQLite handle.
func (d *DB) Close() error {
	if d == nil || d.sqlDB == nil {
		return nil
	}
	return d.sqlDB.Close()
}

// Dialect implements sqlstore.Conn.
func (d *DB) Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{Name: "sqlite", Placeholder: squirrel.Question}
}

// Querier implements sqlstore.Conn: the transaction in ctx, else the pool.
func (d *DB) Querier(ctx context.Context) sqlstore.Querier {
	return querier{q: d.executor(ctx)}
}

// IsNotFound implements sqlstore.Conn.
func (d *DB) IsNotFound(err error) bool {
	return sqlscan.NotFound(err)
}

// Exec runs a script outside any transaction, e.g. schema DDL.
func (d *DB) Exec(ctx context.Context, script string) error {
	if _, err := d.sqlDB.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

type executor interface {
	sqlscan.Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier struct {
	q executor
}

func (q querier) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	res, err := q.q.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q querier) Get(ctx context.Context, dst any, sql string, args ...any) error {
	return sqlscan.Get(ctx, q.q, dst, sql, args...)
}

func (q querier) Select(ctx context.Context, dst any, sql string, args ...any) error {
	return sqlscan.Select(ctx, q.q, dst, sql, args...)
}
