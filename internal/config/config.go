package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"jobqueue/custom_errors"
)

// Config selects where jobs are stored and how the process logs. Queue
// tunables such as retries and timeouts live in the settings store instead,
// so they can be changed with `config set` between runs.
type Config struct {
	StorageDriver StorageDriver // Backend holding jobs and settings
	DataDir       string        // Directory for the file and sqlite backends and the worker status file

	PostgresConfig PostgresConfig
	RedisConfig    RedisConfig

	LogLevel slog.Level
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	ConnectionUrl string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL       string // For example: redis://:password@localhost:6379/0
	KeyPrefix string // Namespace for every key; empty means "jobqueue:"
}

// Option type for functional options pattern
type Option func(*Config) error

// NewConfig returns a Config with defaults applied, then opts in order.
// All option failures are reported together as a *custom_errors.ValidationError.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		StorageDriver: DefaultStorageDriver,
		DataDir:       DefaultDataDir,
		LogLevel:      DefaultLogLevel,
	}
	validationErrs := &custom_errors.ValidationError{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			validationErrs.Add(err)
		}
	}

	switch cfg.StorageDriver {
	case Postgres:
		if cfg.PostgresConfig.ConnectionUrl == "" {
			validationErrs.Add(errors.New("postgres config: connection URL is required"))
		}
	case Redis:
		if cfg.RedisConfig.URL == "" {
			validationErrs.Add(errors.New("redis config: URL is required"))
		}
	}

	if err := validationErrs.ErrOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func WithStorageDriver(d StorageDriver) Option {
	return func(c *Config) error {
		if d.String() == "unknown" {
			return fmt.Errorf("unsupported storage driver %d", d)
		}
		c.StorageDriver = d
		return nil
	}
}

func WithDataDir(dir string) Option {
	return func(c *Config) error {
		if strings.TrimSpace(dir) == "" {
			return errors.New("data dir must not be empty")
		}
		c.DataDir = dir
		return nil
	}
}

func WithPostgresConfig(pg PostgresConfig) Option {
	return func(c *Config) error {
		if c.StorageDriver != Postgres {
			return fmt.Errorf("cannot set Postgres config when driver is %s", c.StorageDriver.String())
		}
		if pg.ConnectionUrl == "" {
			return errors.New("postgres config: connection URL is required")
		}
		c.PostgresConfig = pg
		return nil
	}
}

func WithRedisConfig(r RedisConfig) Option {
	return func(c *Config) error {
		if c.StorageDriver != Redis {
			return fmt.Errorf("cannot set Redis config when driver is %s", c.StorageDriver.String())
		}
		if r.URL == "" {
			return errors.New("redis config: URL is required")
		}
		c.RedisConfig = r
		return nil
	}
}

// WithLogLevel accepts slog level names ("debug", "info", "warn", "error").
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		var l slog.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		c.LogLevel = l
		return nil
	}
}

func (c *Config) DocumentPath() string {
	return filepath.Join(c.DataDir, DocumentFileName)
}

func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, SQLiteFileName)
}

func (c *Config) StatusFilePath() string {
	return filepath.Join(c.DataDir, StatusFileName)
}
