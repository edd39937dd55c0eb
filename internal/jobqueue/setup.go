package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"jobqueue/internal/config"
	"jobqueue/internal/lock"
	"jobqueue/internal/store"
	"jobqueue/internal/store/file"
	"jobqueue/internal/store/postgres"
	redisstore "jobqueue/internal/store/redis"
	"jobqueue/internal/store/sqlite"
)

const connectTimeout = 5 * time.Second

// OpenStore opens the backend selected by cfg. Postgres schemas are migrated
// before the store is returned.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StorageDriver {
	case config.File:
		return file.NewFileStore(cfg.DocumentPath(), file.WithLogger(logger))
	case config.SQLite:
		return sqlite.Open(ctx, cfg.SQLitePath())
	case config.Postgres:
		return setupPostgres(ctx, cfg.PostgresConfig.ConnectionUrl, logger)
	case config.Redis:
		return redisstore.Open(ctx, cfg.RedisConfig.URL,
			redisstore.WithLogger(logger),
			redisstore.WithKeyPrefix(cfg.RedisConfig.KeyPrefix))
	default:
		return nil, fmt.Errorf("unsupported driver: %v", cfg.StorageDriver)
	}
}

func setupPostgres(ctx context.Context, connection string, logger *slog.Logger) (*postgres.PostgresJobStore, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := postgres.Migrate(ctx, db, lock.NewPostgresDistributedLockManager(db), logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return postgres.NewPostgresJobStore(db), nil
}
