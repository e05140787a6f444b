// Package schema holds the DDL of the shared database, one script per
// driver.
package schema

import (
	"context"
	_ "embed"
	"fmt"

	"tenantdb/internal/infrastructure/storage/sqlstore"
)

var (
	//go:embed sqlite.sql
	sqliteScript string
	//go:embed postgres.sql
	postgresScript string
)

// Script returns the DDL for a dialect name.
func Script(dialect string) (string, error) {
	switch dialect {
	case "sqlite":
		return sqliteScript, nil
	case "postgres":
		return postgresScript, nil
	default:
		return "", fmt.Errorf("no schema for dialect %q", dialect)
	}
}

// Apply creates missing tables on conn. Every statement is idempotent.
func Apply(ctx context.Context, conn sqlstore.Conn) error {
	script, err := Script(conn.Dialect().Name)
	if err != nil {
		return err
	}
	if _, err := conn.Querier(ctx).Exec(ctx, script); err != nil {
		return fmt.Errorf("apply %s schema: %w", conn.Dialect().Name, err)
	}
	return nil
}
