// Package main provides CLI for tenant management.
// Usage: tenant create --name "ACME Corp" [--dsn postgres://...]
//
//	tenant list
//	tenant migrate
//	tenant suspend <tenant-id>
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"

	"tenantdb/internal/core/tenant"
	"tenantdb/internal/infrastructure/storage/postgres"
	"tenantdb/internal/infrastructure/storage/schema"
)

type cliConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "create":
		createTenant(ctx)
	case "list":
		listTenants(ctx)
	case "migrate":
		migrateTenants(ctx)
	case "suspend":
		setStatus(ctx, tenant.StatusSuspended)
	case "activate":
		setStatus(ctx, tenant.StatusActive)
	case "delete":
		setStatus(ctx, tenant.StatusDeleted)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tenantdb Tenant Management CLI

Usage:
  tenant <command> [options]

Commands:
  create    Register a new tenant
  list      List all tenants
  migrate   Apply the schema to the shared and every dedicated database
  suspend   Suspend a tenant
  activate  Activate a suspended tenant
  delete    Mark a tenant deleted
  help      Show this help

Environment Variables:
  DATABASE_URL   Connection string for the shared database (required)

Examples:
  tenant create --name "ACME Corporation"
  tenant create --name "Globex" --dsn postgres://app@db2/globex
  tenant list
  tenant suspend 42`)
}

func openShared(ctx context.Context) *postgres.DB {
	var cfg cliConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	db, err := postgres.Open(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		fmt.Printf("Error connecting to shared database: %v\n", err)
		os.Exit(1)
	}
	return db
}

func createTenant(ctx context.Context) {
	var in tenant.CreateInput
	for i := 2; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--name":
			if i+1 < len(os.Args) {
				in.Name = os.Args[i+1]
				i++
			}
		case "--dsn":
			if i+1 < len(os.Args) {
				in.ConnectionString = os.Args[i+1]
				i++
			}
		}
	}

	shared := openShared(ctx)
	defer shared.Close()

	if err := schema.Apply(ctx, shared); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if in.ConnectionString != "" {
		fmt.Println("  Preparing dedicated database...")
		if err := migrateDedicated(ctx, in.ConnectionString); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	t, err := tenant.NewPostgresRegistry(shared.Pool()).Create(ctx, in)
	if err != nil {
		fmt.Printf("Error registering tenant: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Tenant '%s' created\n", t.Name)
	fmt.Printf("  Tenant ID: %d\n", t.ID)
	fmt.Printf("  Dedicated database: %t\n", t.HasDedicatedDatabase())
}

func listTenants(ctx context.Context) {
	shared := openShared(ctx)
	defer shared.Close()

	tenants, err := tenant.NewPostgresRegistry(shared.Pool()).ListAll(ctx)
	if err != nil {
		fmt.Printf("Error listing tenants: %v\n", err)
		os.Exit(1)
	}

	if len(tenants) == 0 {
		fmt.Println("No tenants found")
		return
	}

	fmt.Printf("%-10s %-30s %-10s %-10s %-20s\n", "TENANT_ID", "NAME", "STATUS", "DEDICATED", "CREATED")
	fmt.Println(strings.Repeat("-", 84))

	for _, t := range tenants {
		fmt.Printf("%-10d %-30s %-10s %-10t %-20s\n",
			t.ID,
			truncate(t.Name, 30),
			t.Status,
			t.HasDedicatedDatabase(),
			t.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
}

func migrateTenants(ctx context.Context) {
	shared := openShared(ctx)
	defer shared.Close()

	fmt.Println("Migrating shared database...")
	if err := schema.Apply(ctx, shared); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	tenants, err := tenant.NewPostgresRegistry(shared.Pool()).ListActive(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, t := range tenants {
		if !t.HasDedicatedDatabase() {
			continue
		}
		fmt.Printf("Migrating tenant %d (%s)...\n", t.ID, t.Name)
		if err := migrateDedicated(ctx, *t.ConnectionString); err != nil {
			fmt.Printf("  Failed: %v\n", err)
			failed++
			continue
		}
		fmt.Println("  Done")
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func migrateDedicated(ctx context.Context, dsn string) error {
	db, err := postgres.OpenTenant(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return schema.Apply(ctx, db)
}

func setStatus(ctx context.Context, status tenant.Status) {
	if len(os.Args) < 3 {
		fmt.Printf("Usage: tenant %s <tenant-id>\n", os.Args[1])
		os.Exit(1)
	}
	tenantID, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil {
		fmt.Printf("Error: invalid tenant id %q\n", os.Args[2])
		os.Exit(1)
	}

	shared := openShared(ctx)
	defer shared.Close()

	if err := tenant.NewPostgresRegistry(shared.Pool()).UpdateStatus(ctx, tenantID, status); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Tenant %d is now %s\n", tenantID, status)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
