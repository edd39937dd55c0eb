package config

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobqueue/custom_errors"
)

func TestStorageDriver_String(t *testing.T) {
	tests := []struct {
		name     string
		driver   StorageDriver
		expected string
	}{
		{name: "File driver", driver: File, expected: "file"},
		{name: "SQLite driver", driver: SQLite, expected: "sqlite"},
		{name: "Postgres driver", driver: Postgres, expected: "postgres"},
		{name: "Redis driver", driver: Redis, expected: "redis"},
		{name: "Unknown driver", driver: StorageDriver(999), expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.driver.String(); result != tt.expected {
				t.Errorf("String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseStorageDriver(t *testing.T) {
	d, err := ParseStorageDriver(" SQLite ")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseStorageDriver("mongo")
	assert.Error(t, err)
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultStorageDriver, cfg.StorageDriver)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, filepath.Join(DefaultDataDir, DocumentFileName), cfg.DocumentPath())
	assert.Equal(t, filepath.Join(DefaultDataDir, SQLiteFileName), cfg.SQLitePath())
	assert.Equal(t, filepath.Join(DefaultDataDir, StatusFileName), cfg.StatusFilePath())
}

func TestNewConfig_Options(t *testing.T) {
	cfg, err := NewConfig(
		WithStorageDriver(Postgres),
		WithPostgresConfig(PostgresConfig{ConnectionUrl: "postgres://localhost/jobs"}),
		WithDataDir("/tmp/q"),
		WithLogLevel("debug"),
	)
	require.NoError(t, err)

	assert.Equal(t, Postgres, cfg.StorageDriver)
	assert.Equal(t, "postgres://localhost/jobs", cfg.PostgresConfig.ConnectionUrl)
	assert.Equal(t, "/tmp/q", cfg.DataDir)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestNewConfig_CollectsValidationErrors(t *testing.T) {
	cfg, err := NewConfig(
		WithRedisConfig(RedisConfig{URL: "redis://localhost:6379"}),
		WithDataDir("  "),
		WithLogLevel("loud"),
	)
	assert.Nil(t, cfg)

	var vErr *custom_errors.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Errors, 3)
}

func TestNewConfig_RequiresConnectionSettings(t *testing.T) {
	_, err := NewConfig(WithStorageDriver(Postgres))
	assert.ErrorContains(t, err, "connection URL is required")

	_, err = NewConfig(WithStorageDriver(Redis))
	assert.ErrorContains(t, err, "redis config: URL is required")
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvStorageDriver, "redis")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/2")
	t.Setenv(EnvRedisKeyPrefix, "nightly:")
	t.Setenv(EnvDataDir, "/var/lib/jobqueue")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, Redis, cfg.StorageDriver)
	assert.Equal(t, "redis://localhost:6379/2", cfg.RedisConfig.URL)
	assert.Equal(t, "nightly:", cfg.RedisConfig.KeyPrefix)
	assert.Equal(t, "/var/lib/jobqueue", cfg.DataDir)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestFromEnv_ExtraOptionsOverride(t *testing.T) {
	t.Setenv(EnvStorageDriver, "postgres")
	t.Setenv(EnvPostgresURL, "postgres://env/jobs")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := FromEnv(WithStorageDriver(SQLite))
	require.NoError(t, err)
	assert.Equal(t, SQLite, cfg.StorageDriver)
	assert.Empty(t, cfg.PostgresConfig.ConnectionUrl)
}

func TestFromEnv_UnknownDriver(t *testing.T) {
	t.Setenv(EnvStorageDriver, "etcd")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvLogLevel, "")

	_, err := FromEnv()
	assert.ErrorContains(t, err, `unknown storage driver "etcd"`)
}
