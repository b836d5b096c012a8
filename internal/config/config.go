package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Backend names accepted by STORAGE_BACKEND and EVENTS_BACKEND
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the conduit control plane
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CONDUIT_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"CONDUIT_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Backend selection
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	EventsBackend  string `env:"EVENTS_BACKEND" envDefault:"memory"`

	Redis    RedisConfig
	Postgres PostgresConfig
	MinIO    MinIOConfig
	LLM      LLMConfig
	Workers  WorkerConfig
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Retention of run records and event streams; zero keeps them forever
	RunTTL   time.Duration `env:"REDIS_RUN_TTL" envDefault:"168h"`
	EventTTL time.Duration `env:"REDIS_EVENT_TTL" envDefault:"168h"`

	// Audit stream, written alongside the structured log when Redis is in use
	AuditStream    string `env:"REDIS_AUDIT_STREAM" envDefault:"conduit:audit"`
	AuditStreamLen int64  `env:"REDIS_AUDIT_STREAM_MAXLEN" envDefault:"100000"`
}

// PostgresConfig holds the Postgres connection
type PostgresConfig struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Migrate     bool   `env:"DATABASE_MIGRATE" envDefault:"true"`
}

// MinIOConfig holds the artifact store used by artifact_uri sinks.
// Artifact sinks are disabled when Endpoint is empty.
type MinIOConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Region    string `env:"MINIO_REGION" envDefault:"us-east-1"`
	UseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

// LLMConfig holds LLM provider configuration. The builtin.llm_prompt
// executor is registered only when an API key is set.
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`
	BaseURL  string `env:"LLM_BASE_URL"`

	// Rate limiting
	MaxConcurrentRequests int64         `env:"LLM_MAX_CONCURRENT_REQUESTS" envDefault:"10"`
	RequestTimeout        time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	// Default model settings
	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultMaxTokens int64  `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"1024"`
}

// Enabled reports whether an LLM client should be built
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	SubscribePoll   time.Duration `env:"TIMEOUT_SUBSCRIBE_POLL" envDefault:"1s"`
	ReadinessPoll   time.Duration `env:"TIMEOUT_READINESS_POLL" envDefault:"5s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads an optional .env file and then configuration from environment
// variables. Variables already set in the environment win over the file.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := loadDotEnv(dotenvFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.StorageBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis storage backend")
		}
	case BackendPostgres:
		if c.Postgres.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory, redis, or postgres)", c.StorageBackend)
	}

	switch c.EventsBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis events backend")
		}
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.EventsBackend)
	}

	if c.LLM.Enabled() && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	if c.MinIO.Endpoint != "" && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "") {
		return fmt.Errorf("MinIO access and secret keys are required when MINIO_ENDPOINT is set")
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis client
func (c *Config) UsesRedis() bool {
	return c.StorageBackend == BackendRedis || c.EventsBackend == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
