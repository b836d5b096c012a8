package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, BackendMemory, cfg.EventsBackend)
	assert.Equal(t, 5, cfg.Workers.PoolSize)
	assert.False(t, cfg.LLM.Enabled())
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/conduit")
	t.Setenv("EVENTS_BACKEND", "redis")
	t.Setenv("WORKER_POOL_SIZE", "12")
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.StorageBackend)
	assert.Equal(t, "postgres://localhost/conduit", cfg.Postgres.DatabaseURL)
	assert.Equal(t, 12, cfg.Workers.PoolSize)
	assert.True(t, cfg.LLM.Enabled())
	assert.True(t, cfg.UsesRedis())
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CONDUIT_HTTP_PORT=18080\nLOG_LEVEL=debug\n"), 0o600))

	// godotenv sets process variables; register them for cleanup
	t.Setenv("CONDUIT_HTTP_PORT", "")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("CONDUIT_HTTP_PORT")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 18080, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:       8080,
			GRPCPort:       9090,
			LogLevel:       "info",
			StorageBackend: BackendMemory,
			EventsBackend:  BackendMemory,
			Redis:          RedisConfig{Addr: "localhost:6379"},
			LLM:            LLMConfig{Provider: "anthropic"},
			Workers:        WorkerConfig{PoolSize: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad http port", mutate: func(c *Config) { c.HTTPPort = 0 }, wantErr: "invalid HTTP port"},
		{name: "bad grpc port", mutate: func(c *Config) { c.GRPCPort = 70000 }, wantErr: "invalid gRPC port"},
		{name: "unknown storage", mutate: func(c *Config) { c.StorageBackend = "sqlite" }, wantErr: "unsupported storage backend"},
		{name: "postgres without url", mutate: func(c *Config) { c.StorageBackend = BackendPostgres }, wantErr: "DATABASE_URL"},
		{name: "postgres events", mutate: func(c *Config) { c.EventsBackend = BackendPostgres }, wantErr: "unsupported events backend"},
		{name: "redis without addr", mutate: func(c *Config) {
			c.EventsBackend = BackendRedis
			c.Redis.Addr = ""
		}, wantErr: "redis address"},
		{name: "unknown llm provider", mutate: func(c *Config) {
			c.LLM.APIKey = "k"
			c.LLM.Provider = "other"
		}, wantErr: "unsupported LLM provider"},
		{name: "minio without keys", mutate: func(c *Config) { c.MinIO.Endpoint = "localhost:9000" }, wantErr: "MinIO"},
		{name: "no workers", mutate: func(c *Config) { c.Workers.PoolSize = 0 }, wantErr: "worker pool size"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
