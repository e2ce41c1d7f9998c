// Package cache provides the Redis-backed generic client underlying the
// per-thread conversation-context store (see conversationcontext.go) and the
// pending-clarification store (see clarification.go). The Allowed-Values
// Cache (S1, see allowedvalues.go) is held in process memory and does not
// use this client.
//
// Grounded on the teacher's internal/cache/redis.go: the Client/NewClient
// construction pattern, pool tuning, and generic Set/Get/SetStruct/GetStruct
// helpers are kept. The teacher's domain-specific cache types (SchemaContext,
// SessionData, QueryResult, AgentState — all keyed to the MediSync ERP
// warehouse) are dropped; none has a home in this pipeline's scope. The
// teacher's hand-rolled URL parsing in parseRedisURL is replaced with
// net/url.Parse, and its GetStats/parseInfo string scanners are dropped.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides Redis caching operations.
type Client struct {
	client *redis.Client
	logger *slog.Logger
}

// ClientConfig holds configuration for creating a new Redis client.
type ClientConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	Logger       *slog.Logger
}

// NewClient creates a new Redis cache client. cfg may be a *ClientConfig,
// a raw address string, or a redis:// URL string.
func NewClient(cfg any, logger *slog.Logger) (*Client, error) {
	var addr, password string
	var db int

	switch c := cfg.(type) {
	case *ClientConfig:
		addr, password, db = c.Addr, c.Password, c.DB
	case ClientConfig:
		addr, password, db = c.Addr, c.Password, c.DB
	case string:
		addr, password, db = parseRedisURL(c)
	}

	if addr == "" {
		addr = "localhost:6379"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis", slog.String("addr", addr), slog.Int("db", db))

	return &Client{client: client, logger: logger.With(slog.String("component", "cache"))}, nil
}

// parseRedisURL parses a redis://[:password@]host:port[/db] URL, or returns
// s verbatim as the address if it isn't a redis:// URL.
func parseRedisURL(s string) (addr, password string, db int) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "redis" && u.Scheme != "rediss" {
		return s, "", 0
	}
	addr = u.Host
	if u.User != nil {
		password, _ = u.User.Password()
	}
	if path := u.Path; len(path) > 1 {
		if n, err := strconv.Atoi(path[1:]); err == nil {
			db = n
		}
	}
	return addr, password, db
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) FlushAll(ctx context.Context) error {
	return c.client.FlushAll(ctx).Err()
}

// ============================================================================
// Generic key/value helpers
// ============================================================================

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (c *Client) SetStruct(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, nil
}

// ErrMiss signals the key was not present, distinguishable from an empty
// stored value.
var ErrMiss = fmt.Errorf("cache: miss")

func (c *Client) GetStruct(ctx context.Context, key string, dest any) error {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrMiss
		}
		return fmt.Errorf("cache: get %s: %w", key, err)
	}
	return json.Unmarshal([]byte(val), dest)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: exists %s: %w", key, err)
	}
	return n > 0, nil
}
