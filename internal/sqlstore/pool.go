// Package sqlstore wraps the curated, read-only business database the
// pipeline executes validated SQL against, and the SELECT DISTINCT loader
// the Allowed-Values Cache (S1) uses to hydrate per-column candidates.
//
// Grounded on the teacher's internal/warehouse/postgres.go (pool
// construction/health-check shape) and readonly.go (execute+audit pattern),
// split so that the pure SQL-shape checks live in internal/queryvalidate
// (no I/O, per spec §4.6) while only execution and audit logging — which are
// inherently I/O — remain here.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Default pool configuration values, matching the teacher's tuning.
const (
	DefaultMaxConns          = 25
	DefaultMinConns          = 5
	DefaultMaxConnLifetime   = 5 * time.Minute
	DefaultMaxConnIdleTime   = 1 * time.Minute
	DefaultHealthCheckPeriod = 1 * time.Minute
)

// PoolConfig configures the connection pool.
type PoolConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	Logger            *slog.Logger
}

// Pool wraps pgxpool.Pool with the connection settings this deployment needs.
type Pool struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPool creates a connection pool with default settings applied over any
// zero-valued fields in cfg.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if cfg.MaxConns == 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = DefaultMinConns
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	logger.Info("database pool ready", slog.Int("max_conns", int(cfg.MaxConns)))
	return &Pool{pool: pool, logger: logger.With(slog.String("component", "sqlstore"))}, nil
}

func (p *Pool) Raw() *pgxpool.Pool { return p.pool }

func (p *Pool) Close() { p.pool.Close() }

func (p *Pool) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("sqlstore: health check failed: %w", err)
	}
	return nil
}

func (p *Pool) Stats() *pgxpool.Stat { return p.pool.Stat() }
