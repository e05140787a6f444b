// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the configuration shared by the server and the worker.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string `env:"APP_ENV"   envDefault:"development"`
	Port     string `env:"APP_PORT"  envDefault:"8080"`

	// DatabaseDriver is postgres or sqlite.
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`

	// MultiTenancyStyle is shared, per_tenant or hybrid.
	MultiTenancyStyle string        `env:"MULTI_TENANCY_STYLE"      envDefault:"shared"`
	TenantMaxPools    int           `env:"TENANT_MAX_POOLS"         envDefault:"100"`
	TenantIdleTimeout time.Duration `env:"TENANT_POOL_IDLE_TIMEOUT" envDefault:"30m"`
	PrewarmPools      bool          `env:"PREWARM_POOLS"            envDefault:"false"`

	QueryCacheSize int `env:"QUERY_CACHE_SIZE" envDefault:"1024"`

	JWTSecret string `env:"JWT_SECRET"`

	OutboxEnabled      bool          `env:"OUTBOX_ENABLED"       envDefault:"true"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE"    envDefault:"100"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	// OutboxRetention is how long published messages are kept.
	OutboxRetention time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`

	AuditEnabled           bool `env:"AUDIT_ENABLED"            envDefault:"true"`
	AuditCompressThreshold int  `env:"AUDIT_COMPRESS_THRESHOLD" envDefault:"10240"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Development reports whether logs should be human-readable.
func (c Config) Development() bool {
	return c.AppEnv == "development"
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.MultiTenancyStyle {
	case "shared", "per_tenant", "hybrid":
	default:
		errs = append(errs, fmt.Errorf("MULTI_TENANCY_STYLE must be shared, per_tenant or hybrid, got %q", c.MultiTenancyStyle))
	}
	if c.MultiTenancyStyle != "shared" && c.DatabaseDriver == "sqlite" {
		errs = append(errs, errors.New("per-tenant databases require DATABASE_DRIVER=postgres"))
	}
	if c.QueryCacheSize < 0 {
		errs = append(errs, errors.New("QUERY_CACHE_SIZE must not be negative"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL must be positive"))
	}
	if c.OutboxRetention <= 0 {
		errs = append(errs, errors.New("OUTBOX_RETENTION must be positive"))
	}
	if !c.Development() && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	return errors.Join(errs...)
}
