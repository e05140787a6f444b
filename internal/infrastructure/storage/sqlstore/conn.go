// Package sqlstore maps registered entities onto SQL tables. It is the
// physical side of the unit of work (inserts, optimistic updates, deletes,
// reloads) and the filtered read side (repositories compiled through the
// query cache). Drivers plug in through Conn.
package sqlstore

import (
	"context"

	"github.com/Masterminds/squirrel"

	"tenantdb/internal/core/tx"
)

// Querier runs statements on a pool or on the transaction carried by ctx.
type Querier interface {
	// Exec returns the number of affected rows.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	// Get scans exactly one row into dst.
	Get(ctx context.Context, dst any, sql string, args ...any) error
	// Select scans all rows into the slice pointed to by dst.
	Select(ctx context.Context, dst any, sql string, args ...any) error
}

// Dialect describes what statements a database accepts.
type Dialect struct {
	Name        string
	Placeholder squirrel.PlaceholderFormat
	// SkipLocked enables FOR UPDATE SKIP LOCKED on relay fetches.
	SkipLocked bool
}

// Conn is one database.
type Conn interface {
	tx.Manager
	Querier(ctx context.Context) Querier
	Dialect() Dialect
	// IsNotFound reports whether err means "no rows".
	IsNotFound(err error) bool
}

// Router picks the database for the call chain (e.g. by ambient tenant).
type Router interface {
	Conn(ctx context.Context) (Conn, error)
}

// Single routes everything to one database.
type Single struct {
	DB Conn
}

// Conn implements Router.
func (s Single) Conn(context.Context) (Conn, error) {
	return s.DB, nil
}

// Builder returns a statement builder using the placeholders of c.
func Builder(c Conn) squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(c.Dialect().Placeholder)
}
