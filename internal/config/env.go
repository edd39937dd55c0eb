package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// FromEnv builds a Config from JOBQUEUE_* variables, loading a .env file from
// the working directory first when one exists. Options in extra are applied
// after the environment, so flags override it.
func FromEnv(extra ...Option) (*Config, error) {
	_ = godotenv.Load()

	var opts []Option
	if v := getenv(EnvStorageDriver, ""); v != "" {
		d, err := ParseStorageDriver(v)
		if err != nil {
			opts = append(opts, func(*Config) error { return err })
		} else {
			opts = append(opts, WithStorageDriver(d))
		}
	}
	if v := getenv(EnvDataDir, ""); v != "" {
		opts = append(opts, WithDataDir(v))
	}
	if v := getenv(EnvLogLevel, ""); v != "" {
		opts = append(opts, WithLogLevel(v))
	}
	opts = append(opts, extra...)

	// Connection settings only apply to their own driver, so they are bound
	// once the driver is final.
	opts = append(opts, func(c *Config) error {
		switch c.StorageDriver {
		case Postgres:
			if v := getenv(EnvPostgresURL, ""); v != "" && c.PostgresConfig.ConnectionUrl == "" {
				return WithPostgresConfig(PostgresConfig{ConnectionUrl: v})(c)
			}
		case Redis:
			if c.RedisConfig.KeyPrefix == "" {
				c.RedisConfig.KeyPrefix = getenv(EnvRedisKeyPrefix, "")
			}
			if v := getenv(EnvRedisURL, ""); v != "" && c.RedisConfig.URL == "" {
				return WithRedisConfig(RedisConfig{URL: v, KeyPrefix: c.RedisConfig.KeyPrefix})(c)
			}
		}
		return nil
	})

	return NewConfig(opts...)
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
