package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// AuditEntry records one executed statement for operational visibility,
// grounded on the teacher's warehouse.QueryAuditEntry.
type AuditEntry struct {
	Timestamp time.Time
	SQL       string
	DurationMS int64
	RowCount  int
	Success   bool
	Error     string
	SessionID string
	ThreadID  string
}

// Row is one result row, column name to value.
type Row map[string]any

// Result is the outcome of a successful Execute call.
type Result struct {
	Columns []string
	Rows    []Row
}

// Executor runs already-validated SQL against the curated business
// database and records an audit entry for every attempt. It performs no
// validation itself — that is C6's job, upstream and pure.
type Executor struct {
	pool    *Pool
	logger  *slog.Logger
	timeout time.Duration
	maxRows int
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Timeout time.Duration
	MaxRows int
	Logger  *slog.Logger
}

// NewExecutor builds an Executor over pool.
func NewExecutor(pool *Pool, cfg ExecutorConfig) *Executor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRows == 0 {
		cfg.MaxRows = 10000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{pool: pool, logger: logger.With(slog.String("component", "executor")), timeout: cfg.Timeout, maxRows: cfg.MaxRows}
}

// Execute runs sql (already validated by C6) and returns its rows. The
// caller supplies sessionID/threadID purely for audit correlation.
func (e *Executor) Execute(ctx context.Context, sql string, sessionID, threadID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := e.pool.Raw().Query(ctx, sql)
	if err != nil {
		e.audit(AuditEntry{Timestamp: start, SQL: sql, DurationMS: time.Since(start).Milliseconds(), Success: false, Error: err.Error(), SessionID: sessionID, ThreadID: threadID})
		return nil, fmt.Errorf("sqlstore: execute: %w", err)
	}
	defer rows.Close()

	result, err := scanRows(rows, e.maxRows)
	duration := time.Since(start)
	if err != nil {
		e.audit(AuditEntry{Timestamp: start, SQL: sql, DurationMS: duration.Milliseconds(), Success: false, Error: err.Error(), SessionID: sessionID, ThreadID: threadID})
		return nil, fmt.Errorf("sqlstore: scan: %w", err)
	}

	e.audit(AuditEntry{Timestamp: start, SQL: sql, DurationMS: duration.Milliseconds(), RowCount: len(result.Rows), Success: true, SessionID: sessionID, ThreadID: threadID})
	return result, nil
}

func scanRows(rows pgx.Rows, maxRows int) (*Result, error) {
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = string(f.Name)
	}

	out := &Result{Columns: cols}
	for rows.Next() {
		if len(out.Rows) >= maxRows {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if i < len(values) {
				row[c] = values[i]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) audit(entry AuditEntry) {
	e.logger.LogAttrs(context.Background(), slog.LevelInfo, "query executed",
		slog.String("sql", truncateSQL(entry.SQL, 500)),
		slog.Int64("duration_ms", entry.DurationMS),
		slog.Int("row_count", entry.RowCount),
		slog.Bool("success", entry.Success),
		slog.String("session_id", entry.SessionID),
		slog.String("thread_id", entry.ThreadID),
	)
	if !entry.Success {
		e.logger.Warn("query execution failed", slog.String("error", entry.Error), slog.String("thread_id", entry.ThreadID))
	}
}

func truncateSQL(sql string, max int) string {
	if len(sql) <= max {
		return sql
	}
	return sql[:max] + "..."
}

// Ping checks the underlying connection pool for readiness probes.
func (e *Executor) Ping(ctx context.Context) error {
	return e.pool.HealthCheck(ctx)
}

// DistinctValues loads up to limit+1 distinct values for table.column,
// ordered, for S1's cache-miss load. It is the only place in the codebase
// that issues a raw SELECT DISTINCT — S1 itself holds no DB handle of its
// own and calls through this narrow loader interface.
func (e *Executor) DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s LIMIT %d", column, table, column, limit+1)
	rows, err := e.pool.Raw().Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: distinct values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlstore: scan distinct value: %w", err)
		}
		values = append(values, fmt.Sprintf("%v", v))
	}
	return values, rows.Err()
}
