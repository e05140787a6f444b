// Package numerator provides document auto-numbering.
// Sequences live in the sys_sequences table of whichever database the
// router picks, keyed by the ambient tenant so a shared database keeps one
// counter per tenant.
package numerator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"

	"tenantdb/internal/core/uow"
	"tenantdb/internal/infrastructure/storage/sqlstore"
)

// Strategy defines the numbering generation strategy.
type Strategy int

const (
	// StrategyStrict bumps the stored counter for every number.
	// Sequential without gaps unless the caller's save fails.
	StrategyStrict Strategy = iota

	// StrategyCached reserves ranges of numbers in memory.
	// Faster, but a restart leaves gaps.
	StrategyCached
)

// Options configuration for number generation.
type Options struct {
	Strategy Strategy
	// RangeSize is the number of values reserved at once by StrategyCached.
	// Default is 50.
	RangeSize int64
}

// DefaultOptions returns standard options (Strict).
func DefaultOptions() *Options {
	return &Options{Strategy: StrategyStrict}
}

// Config holds numbering configuration.
type Config struct {
	// Prefix added to all numbers (e.g., "INV")
	Prefix string

	// IncludeYear adds year to the number
	IncludeYear bool

	// PadWidth is the minimum number width (default 5)
	PadWidth int

	// ResetPeriod: "year", "month", "never"
	ResetPeriod string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		IncludeYear: true,
		PadWidth:    5,
		ResetPeriod: "year",
	}
}

type cachedRange struct {
	current int64
	max     int64
}

// Service hands out document numbers. It is safe for concurrent use.
type Service struct {
	router sqlstore.Router

	cacheMu sync.Mutex
	// ranges is keyed by database, tenant and sequence key.
	ranges map[rangeKey]*cachedRange
}

type rangeKey struct {
	conn   sqlstore.Conn
	tenant int64
	key    string
}

// New creates a numerator over router.
func New(router sqlstore.Router) *Service {
	return &Service{
		router: router,
		ranges: make(map[rangeKey]*cachedRange),
	}
}

// GetNextNumber generates the next document number.
// Pattern: PREFIX-YEAR-XXXXX (e.g., INV-2024-00001)
func (s *Service) GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error) {
	if s == nil {
		return "", fmt.Errorf("numerator service is not initialized")
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	conn, err := s.router.Conn(ctx)
	if err != nil {
		return "", err
	}
	tenant := tenantKey(ctx)
	key := buildKey(cfg, period)

	var num int64
	switch opts.Strategy {
	case StrategyCached:
		num, err = s.nextCached(ctx, conn, rangeKey{conn: conn, tenant: tenant, key: key}, opts.RangeSize)
	default:
		num, err = bump(ctx, conn, tenant, key, 1)
	}
	if err != nil {
		return "", err
	}
	return formatNumber(cfg, period, num), nil
}

// SetNextNumber overwrites the stored counter (for migrations) and drops
// any cached range for it.
func (s *Service) SetNextNumber(ctx context.Context, cfg Config, period time.Time, value int64) error {
	conn, err := s.router.Conn(ctx)
	if err != nil {
		return err
	}
	tenant := tenantKey(ctx)
	key := buildKey(cfg, period)

	sql, args, err := upsert(conn, tenant, key, value, "current_val = ?", value).ToSql()
	if err != nil {
		return fmt.Errorf("build set sequence: %w", err)
	}
	var stored int64
	if err := conn.Querier(ctx).Get(ctx, &stored, sql, args...); err != nil {
		return fmt.Errorf("set sequence %s: %w", key, err)
	}

	s.cacheMu.Lock()
	delete(s.ranges, rangeKey{conn: conn, tenant: tenant, key: key})
	s.cacheMu.Unlock()
	return nil
}

func (s *Service) nextCached(ctx context.Context, conn sqlstore.Conn, rk rangeKey, size int64) (int64, error) {
	if size <= 0 {
		size = 50
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	rng, ok := s.ranges[rk]
	if !ok {
		rng = &cachedRange{}
		s.ranges[rk] = rng
	}
	if rng.current >= rng.max {
		// The stored value is the last reserved number.
		newMax, err := bump(ctx, conn, rk.tenant, rk.key, size)
		if err != nil {
			return 0, err
		}
		rng.current = newMax - size
		rng.max = newMax
	}
	rng.current++
	return rng.current, nil
}

// bump adds by to the counter, creating it at by, and returns the new value.
func bump(ctx context.Context, conn sqlstore.Conn, tenant int64, key string, by int64) (int64, error) {
	sql, args, err := upsert(conn, tenant, key, by, "current_val = sys_sequences.current_val + ?", by).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build next sequence: %w", err)
	}
	var num int64
	if err := conn.Querier(ctx).Get(ctx, &num, sql, args...); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", key, err)
	}
	return num, nil
}

func upsert(conn sqlstore.Conn, tenant int64, key string, initial int64, set string, setArg any) squirrel.InsertBuilder {
	return sqlstore.Builder(conn).
		Insert("sys_sequences").
		Columns("tenant_key", "seq_key", "current_val").
		Values(tenant, key, initial).
		Suffix("ON CONFLICT (tenant_key, seq_key) DO UPDATE SET "+set+" RETURNING current_val", setArg)
}

// tenantKey is the ambient tenant id, 0 for the host and outside a unit of work.
func tenantKey(ctx context.Context) int64 {
	if id, err := uow.CurrentTenantID(ctx); err == nil && id != nil {
		return *id
	}
	return 0
}

// buildKey creates the sequence key based on config and period.
func buildKey(cfg Config, period time.Time) string {
	switch cfg.ResetPeriod {
	case "month":
		return fmt.Sprintf("%s_%s", cfg.Prefix, period.Format("2006_01"))
	case "year":
		return fmt.Sprintf("%s_%s", cfg.Prefix, period.Format("2006"))
	default:
		return cfg.Prefix
	}
}

func formatNumber(cfg Config, period time.Time, num int64) string {
	padWidth := cfg.PadWidth
	if padWidth == 0 {
		padWidth = 5
	}
	if cfg.IncludeYear {
		return fmt.Sprintf("%s-%s-%0*d", cfg.Prefix, period.Format("2006"), padWidth, num)
	}
	return fmt.Sprintf("%s-%0*d", cfg.Prefix, padWidth, num)
}
