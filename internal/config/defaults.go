package config

import "log/slog"

const (
	DefaultStorageDriver = File
	DefaultDataDir       = ".jobqueue"
	DefaultLogLevel      = slog.LevelInfo

	DocumentFileName = "jobqueue_data.json"
	SQLiteFileName   = "jobqueue.db"
	StatusFileName   = "worker.status"
)

// Environment variables read by FromEnv.
const (
	EnvStorageDriver  = "JOBQUEUE_STORE"
	EnvDataDir        = "JOBQUEUE_DATA_DIR"
	EnvPostgresURL    = "JOBQUEUE_POSTGRES_URL"
	EnvRedisURL       = "JOBQUEUE_REDIS_URL"
	EnvRedisKeyPrefix = "JOBQUEUE_REDIS_KEY_PREFIX"
	EnvLogLevel       = "JOBQUEUE_LOG_LEVEL"
)
