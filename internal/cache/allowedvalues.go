package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DistinctLoader is the narrow capability S1 needs from the database: load
// the distinct values of one column. sqlstore.Executor implements this; the
// extractor never issues DB queries directly, per spec §4.7.
type DistinctLoader interface {
	DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error)
}

// AllowedValuesEntry is one cached (table, column) entry.
type AllowedValuesEntry struct {
	Values    []string
	LoadedAt  time.Time
	IsPartial bool
}

type entryState struct {
	entry      atomic.Pointer[AllowedValuesEntry]
	refreshing atomic.Bool
}

// AllowedValuesCache is the Allowed-Values Cache (S1): a process-singleton,
// stale-while-revalidate cache of distinct column values, bounded per
// column, TTL-refreshed, per spec §4.7.
type AllowedValuesCache struct {
	loader  DistinctLoader
	ttl     time.Duration
	maxVals int
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entryState
	group   singleflight.Group
}

// Config configures an AllowedValuesCache.
type Config struct {
	TTL      time.Duration // default 600s
	MaxVals  int           // default 500
	Logger   *slog.Logger
}

// NewAllowedValuesCache builds an S1 cache over loader.
func NewAllowedValuesCache(loader DistinctLoader, cfg Config) *AllowedValuesCache {
	if cfg.TTL == 0 {
		cfg.TTL = 600 * time.Second
	}
	if cfg.MaxVals == 0 {
		cfg.MaxVals = 500
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AllowedValuesCache{
		loader:  loader,
		ttl:     cfg.TTL,
		maxVals: cfg.MaxVals,
		logger:  logger.With(slog.String("component", "allowed_values_cache")),
		entries: make(map[string]*entryState),
	}
}

func cacheKey(table, column string) string { return table + "." + column }

// Get returns the cached distinct values for (table, column), loading or
// refreshing as needed per the stale-while-revalidate policy of spec §4.7.
func (c *AllowedValuesCache) Get(ctx context.Context, table, column string) ([]string, bool) {
	key := cacheKey(table, column)

	c.mu.RLock()
	state, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		entry := state.entry.Load()
		if entry != nil {
			if time.Since(entry.LoadedAt) < c.ttl {
				return entry.Values, entry.IsPartial
			}
			// Stale: serve immediately, refresh in the background if not
			// already doing so.
			if state.refreshing.CompareAndSwap(false, true) {
				go c.refresh(key, table, column, state)
			}
			return entry.Values, entry.IsPartial
		}
	}

	// Cache miss: synchronous load, coalesced via singleflight so concurrent
	// misses on the same key share one load.
	v, err, _ := c.group.Do(key, func() (any, error) {
		values, partial, loadErr := c.load(ctx, table, column)
		if loadErr != nil {
			return nil, loadErr
		}
		entry := &AllowedValuesEntry{Values: values, LoadedAt: time.Now(), IsPartial: partial}
		c.store(key, entry)
		return entry, nil
	})
	if err != nil {
		c.logger.Warn("allowed values load failed", slog.String("table", table), slog.String("column", column), slog.String("error", err.Error()))
		return nil, false
	}
	entry := v.(*AllowedValuesEntry)
	return entry.Values, entry.IsPartial
}

func (c *AllowedValuesCache) store(key string, entry *AllowedValuesEntry) {
	c.mu.Lock()
	state, ok := c.entries[key]
	if !ok {
		state = &entryState{}
		c.entries[key] = state
	}
	c.mu.Unlock()
	state.entry.Store(entry)
}

func (c *AllowedValuesCache) refresh(key, table, column string, state *entryState) {
	defer state.refreshing.Store(false)
	values, partial, err := c.load(context.Background(), table, column)
	if err != nil {
		c.logger.Warn("background refresh failed", slog.String("table", table), slog.String("column", column), slog.String("error", err.Error()))
		return
	}
	state.entry.Store(&AllowedValuesEntry{Values: values, LoadedAt: time.Now(), IsPartial: partial})
}

func (c *AllowedValuesCache) load(ctx context.Context, table, column string) (values []string, partial bool, err error) {
	rows, err := c.loader.DistinctValues(ctx, table, column, c.maxVals)
	if err != nil {
		return nil, false, err
	}
	if len(rows) > c.maxVals {
		return rows[:c.maxVals], true, nil
	}
	return rows, false, nil
}
