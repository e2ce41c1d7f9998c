// Package config provides environment configuration loading for the
// NL2SQL pipeline services.
//
// Configuration is loaded from environment variables with sensible defaults
// for development. All services (PostgreSQL, NATS, Redis, the LLM provider)
// are configured through this package.
//
// Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("Failed to load configuration:", err)
//	}
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	// EnvDevelopment indicates a development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging indicates a staging environment.
	EnvStaging Environment = "staging"
	// EnvProduction indicates a production environment.
	EnvProduction Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	// Application settings
	App AppConfig

	// Database configuration
	Database DatabaseConfig

	// NATS messaging configuration
	NATS NATSConfig

	// Redis cache configuration
	Redis RedisConfig

	// Auth holds HTTP-edge bearer token verification settings.
	Auth AuthConfig

	// Observability configuration
	Observability ObservabilityConfig

	// LLM configuration
	LLM LLMConfig

	// Pipeline holds the NL2SQL pipeline's own tunables.
	Pipeline PipelineConfig

	// Server configuration
	Server ServerConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	// Environment is the application environment (development, staging, production).
	Environment Environment

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string

	// LogFormat is the log output format (json, text).
	LogFormat string

	// Timezone is the application timezone.
	Timezone string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the full PostgreSQL connection string.
	URL string

	// Host is the database server hostname.
	Host string

	// Port is the database server port.
	Port int

	// User is the database username.
	User string

	// Password is the database password.
	Password string

	// Name is the database name.
	Name string

	// SSLMode is the SSL connection mode (disable, require, verify-ca, verify-full).
	SSLMode string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum connection idle time.
	ConnMaxIdleTime time.Duration
}

// NATSConfig holds NATS messaging settings.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string

	// Host is the NATS server hostname.
	Host string

	// Port is the NATS client port.
	Port int

	// MaxReconnects is the maximum number of reconnection attempts.
	MaxReconnects int

	// ReconnectWait is the wait duration between reconnection attempts.
	ReconnectWait time.Duration
}

// RedisConfig holds Redis cache settings.
type RedisConfig struct {
	// URL is the full Redis connection URL.
	URL string

	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis password (optional).
	Password string

	// Database is the Redis database number.
	Database int

	// MaxRetries is the maximum number of retries.
	MaxRetries int

	// PoolSize is the connection pool size.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// ReadTimeout is the read operation timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the write operation timeout.
	WriteTimeout time.Duration
}

// AuthConfig holds bearer-token verification settings for the HTTP edge.
// Narrowed from the teacher's full Keycloak realm/admin integration: this
// pipeline only verifies inbound JWTs, it never issues or administers them.
type AuthConfig struct {
	// Issuer is the expected JWT issuer claim.
	Issuer string

	// Audience is the expected JWT audience claim.
	Audience string

	// JWKSURL is the JSON Web Key Set endpoint used to verify token signatures.
	JWKSURL string

	// Disabled skips bearer verification, for local development only.
	Disabled bool
}

// ObservabilityConfig holds monitoring and logging settings.
type ObservabilityConfig struct {
	// PrometheusPort is the Prometheus server port.
	PrometheusPort int

	// TracingEnabled enables distributed tracing.
	TracingEnabled bool

	// TracingEndpoint is the tracing collector endpoint.
	TracingEndpoint string

	// MetricsEnabled enables Prometheus metrics.
	MetricsEnabled bool
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	// Provider is the LLM provider (openai, ollama, gemini).
	Provider string

	// Model is the model deployment name to use.
	Model string

	// APIKey is the API key for the provider.
	APIKey string

	// BaseURL is the base URL for the provider API.
	BaseURL string

	// MaxTokens is the maximum tokens for responses.
	MaxTokens int

	// Temperature is the sampling temperature.
	Temperature float64

	// Timeout is read from LLM_TIMEOUT but is not passed to the LLM client;
	// each provider backend applies its own fixed 60-second HTTP timeout.
	Timeout time.Duration
}

// PipelineConfig holds the NL2SQL pipeline's own tunables (spec §6.4).
type PipelineConfig struct {
	// SQLServer and SQLDatabase name the target warehouse, independent of the
	// pipeline's own metadata store (Database above).
	SQLServer   string
	SQLDatabase string

	// SearchEndpoint is the template/schema vector search endpoint.
	SearchEndpoint string

	// MaxDisplayColumns caps the columns rendered in a result preview.
	MaxDisplayColumns int

	// DynamicConfidenceThreshold is the minimum builder-assessed confidence
	// at which a query synthesized on the dynamic path (C5) runs; below it,
	// outside a refinement turn, the coordinator asks the user first.
	DynamicConfidenceThreshold float64

	// ConfirmLow and ConfirmHigh are the confirm-tier boundaries: below
	// ConfirmLow the pipeline clarifies, at or above ConfirmHigh it
	// auto-applies, in between it asks for confirmation.
	ConfirmLow  float64
	ConfirmHigh float64

	// TemplateMatchThreshold is the minimum similarity score for C2 to
	// consider a template matched rather than missed.
	TemplateMatchThreshold float64

	// AllowedValuesTTL and AllowedValuesMax bound the S1 cache.
	AllowedValuesTTL time.Duration
	AllowedValuesMax int

	// EnableInstrumentation toggles NATS pipeline-telemetry publishing.
	EnableInstrumentation bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port is the server port.
	Port int

	// Host is the server host.
	Host string

	// ReadTimeout is the read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies sensible defaults for development and validates required fields.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.App = loadAppConfig()
	cfg.Database = loadDatabaseConfig()
	cfg.NATS = loadNATSConfig()
	cfg.Redis = loadRedisConfig()
	cfg.Auth = loadAuthConfig()
	cfg.Observability = loadObservabilityConfig()
	cfg.LLM = loadLLMConfig()
	cfg.Pipeline = loadPipelineConfig()
	cfg.Server = loadServerConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this for application startup where configuration is required.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" && c.Database.Host == "" {
		errs = append(errs, errors.New("database: either DATABASE_URL or POSTGRES_HOST must be set"))
	}

	if c.NATS.URL == "" && c.NATS.Host == "" {
		errs = append(errs, errors.New("nats: either NATS_URL or NATS_HOST must be set"))
	}

	if c.Pipeline.SQLServer == "" {
		errs = append(errs, errors.New("pipeline: SQL_SERVER must be set"))
	}
	if c.Pipeline.SQLDatabase == "" {
		errs = append(errs, errors.New("pipeline: SQL_DATABASE must be set"))
	}
	if c.Pipeline.SearchEndpoint == "" {
		errs = append(errs, errors.New("pipeline: SEARCH_ENDPOINT must be set"))
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm: LLM_ENDPOINT must be set"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm: LLM_MODEL_DEPLOYMENT_NAME must be set"))
	}

	if c.Pipeline.ConfirmLow >= c.Pipeline.ConfirmHigh {
		errs = append(errs, errors.New("pipeline: CONFIRM_LOW must be less than CONFIRM_HIGH"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateForProduction performs stricter validation for production environments.
func (c *Config) ValidateForProduction() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var errs []error

	if c.App.Environment != EnvProduction {
		errs = append(errs, errors.New("app: environment must be 'production' for production deployment"))
	}

	if c.Database.SSLMode == "disable" {
		errs = append(errs, errors.New("database: SSL must be enabled in production"))
	}

	if c.Redis.Password == "" {
		errs = append(errs, errors.New("redis: password must be set in production"))
	}

	if !c.Auth.Disabled && c.Auth.JWKSURL == "" {
		errs = append(errs, errors.New("auth: JWKS_URL must be set in production unless auth is explicitly disabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// DatabaseDSN returns the database connection string.
// If DATABASE_URL is set, it returns that. Otherwise, it constructs the DSN from components.
func (c *Config) DatabaseDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Database.User),
		url.QueryEscape(c.Database.Password),
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// WarehouseDSN returns the connection string for the curated warehouse the
// Executor (C1) runs validated SQL against — a separate Postgres instance
// from the pipeline's own metadata store, reached at SQLServer/SQLDatabase.
// It reuses the metadata store's credentials and SSL mode, since both are
// expected to sit behind the same operator-managed Postgres fleet; an
// environment where the warehouse needs distinct credentials should set
// SQL_SERVER to a full postgres:// URL instead, which is returned as-is.
func (c *Config) WarehouseDSN() string {
	if strings.HasPrefix(c.Pipeline.SQLServer, "postgres://") || strings.HasPrefix(c.Pipeline.SQLServer, "postgresql://") {
		return c.Pipeline.SQLServer
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Database.User),
		url.QueryEscape(c.Database.Password),
		c.Pipeline.SQLServer,
		c.Database.Port,
		c.Pipeline.SQLDatabase,
		c.Database.SSLMode,
	)
}

// RedisDSN returns the Redis connection string.
func (c *Config) RedisDSN() string {
	if c.Redis.URL != "" {
		return c.Redis.URL
	}

	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			url.QueryEscape(c.Redis.Password),
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.Database,
		)
	}

	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.Database,
	)
}

// LogConfig logs the current configuration (with sensitive values masked).
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Group("app",
			slog.String("environment", string(c.App.Environment)),
			slog.String("log_level", c.App.LogLevel),
			slog.String("log_format", c.App.LogFormat),
			slog.String("timezone", c.App.Timezone),
		),
		slog.Group("database",
			slog.String("host", c.Database.Host),
			slog.Int("port", c.Database.Port),
			slog.String("name", c.Database.Name),
			slog.String("ssl_mode", c.Database.SSLMode),
			slog.Int("max_open_conns", c.Database.MaxOpenConns),
		),
		slog.Group("nats",
			slog.String("host", c.NATS.Host),
			slog.Int("port", c.NATS.Port),
		),
		slog.Group("redis",
			slog.String("host", c.Redis.Host),
			slog.Int("port", c.Redis.Port),
			slog.Int("database", c.Redis.Database),
		),
		slog.Group("auth",
			slog.String("issuer", c.Auth.Issuer),
			slog.Bool("disabled", c.Auth.Disabled),
		),
		slog.Group("llm",
			slog.String("provider", c.LLM.Provider),
			slog.String("model", c.LLM.Model),
			slog.Bool("api_key_set", c.LLM.APIKey != ""),
		),
		slog.Group("pipeline",
			slog.String("sql_server", c.Pipeline.SQLServer),
			slog.String("sql_database", c.Pipeline.SQLDatabase),
			slog.Float64("confirm_low", c.Pipeline.ConfirmLow),
			slog.Float64("confirm_high", c.Pipeline.ConfirmHigh),
			slog.Float64("dynamic_confidence_threshold", c.Pipeline.DynamicConfidenceThreshold),
			slog.Bool("instrumentation_enabled", c.Pipeline.EnableInstrumentation),
		),
	)
}

func loadAppConfig() AppConfig {
	env := getEnv("APP_ENV", "development")

	return AppConfig{
		Environment: parseEnvironment(env),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		Timezone:    getEnv("TIMEZONE", "UTC"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("DATABASE_URL", ""),
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnvInt("POSTGRES_PORT", 5432),
		User:            getEnv("POSTGRES_USER", "nl2sql"),
		Password:        getEnv("POSTGRES_PASSWORD", "nl2sql_dev_password"),
		Name:            getEnv("POSTGRES_DB", "nl2sql"),
		SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
		MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", 1*time.Minute),
	}
}

func loadNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           getEnv("NATS_URL", ""),
		Host:          getEnv("NATS_HOST", "localhost"),
		Port:          getEnvInt("NATS_PORT", 4222),
		MaxReconnects: getEnvInt("NATS_MAX_RECONNECTS", 10),
		ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("REDIS_URL", ""),
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		Database:     getEnvInt("REDIS_DB", 0),
		MaxRetries:   getEnvInt("REDIS_MAX_RETRIES", 3),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Issuer:   getEnv("JWT_ISSUER", ""),
		Audience: getEnv("JWT_AUDIENCE", ""),
		JWKSURL:  getEnv("JWKS_URL", ""),
		Disabled: getEnvBool("AUTH_DISABLED", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		PrometheusPort:  getEnvInt("PROMETHEUS_PORT", 9090),
		TracingEnabled:  getEnvBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", ""),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
	}
}

func loadLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    getEnv("LLM_PROVIDER", "openai"),
		Model:       getEnv("LLM_MODEL_DEPLOYMENT_NAME", ""),
		APIKey:      getEnv("LLM_API_KEY", ""),
		BaseURL:     getEnv("LLM_ENDPOINT", ""),
		MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		Temperature: getEnvFloat("LLM_TEMPERATURE", 0.1),
		Timeout:     getEnvDuration("LLM_TIMEOUT", 30*time.Second),
	}
}

func loadPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SQLServer:                  getEnv("SQL_SERVER", ""),
		SQLDatabase:                getEnv("SQL_DATABASE", ""),
		SearchEndpoint:             getEnv("SEARCH_ENDPOINT", ""),
		MaxDisplayColumns:          getEnvInt("MAX_DISPLAY_COLUMNS", 8),
		DynamicConfidenceThreshold: getEnvFloat("DYNAMIC_CONFIDENCE_THRESHOLD", 0.70),
		ConfirmLow:                 getEnvFloat("CONFIRM_LOW", 0.60),
		ConfirmHigh:                getEnvFloat("CONFIRM_HIGH", 0.85),
		TemplateMatchThreshold:     getEnvFloat("TEMPLATE_MATCH_THRESHOLD", 0.75),
		AllowedValuesTTL:           time.Duration(getEnvInt("ALLOWED_VALUES_TTL_SEC", 600)) * time.Second,
		AllowedValuesMax:           getEnvInt("ALLOWED_VALUES_MAX", 500),
		EnableInstrumentation:      getEnvBool("ENABLE_INSTRUMENTATION", false),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:            getEnvInt("SERVER_PORT", 8080),
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// parseEnvironment converts a string to Environment type.
func parseEnvironment(env string) Environment {
	switch strings.ToLower(env) {
	case "production", "prod":
		return EnvProduction
	case "staging", "stage":
		return EnvStaging
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as a duration or returns a default value.
// Supports Go duration strings (e.g., "5m", "1h30m", "300s").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
