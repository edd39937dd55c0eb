package jobqueue

import (
	"context"
	"log/slog"
	"time"

	"jobqueue/internal/config"
	"jobqueue/internal/constants"
	"jobqueue/internal/queue"
	"jobqueue/internal/settings"
	"jobqueue/internal/store"
	"jobqueue/internal/worker"
)

// Dependencies is everything a command needs, built once per invocation.
type Dependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Settings *settings.Manager
	Queue    *queue.Manager
}

// NewDependencies opens the configured store and builds the queue manager
// from the persisted settings.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	s, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return newDependencies(ctx, cfg, s, logger), nil
}

func newDependencies(ctx context.Context, cfg *config.Config, s store.Store, logger *slog.Logger) *Dependencies {
	sm := settings.NewManager(s)
	return &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Store:    s,
		Settings: sm,
		Queue:    NewQueueManager(ctx, s, sm, logger),
	}
}

// NewQueueManager reads max_retries, backoff_base, job_timeout and id_scheme
// from the settings store. Unset or unusable values fall back to the
// defaults, so a bad value can still be fixed with `config set`.
func NewQueueManager(ctx context.Context, s store.JobStore, sm *settings.Manager, logger *slog.Logger) *queue.Manager {
	r := settingsReader{ctx: ctx, sm: sm, logger: logger}
	opts := []queue.Option{
		queue.WithLogger(logger),
		queue.WithDefaultMaxRetries(r.Int(settings.KeyMaxRetries, constants.DefaultMaxRetries)),
		queue.WithBackoffBase(r.Float(settings.KeyBackoffBase, constants.DefaultBackoffBase)),
		queue.WithCommandTimeout(r.Seconds(settings.KeyJobTimeout, constants.DefaultCommandTimeout)),
	}
	if r.IDScheme() == settings.IDSchemeLegacy {
		opts = append(opts, queue.WithLegacyIDs())
	}
	return queue.NewManager(s, opts...)
}

// NewPool builds a worker pool over d.Queue using poll_interval and
// shutdown_timeout from the settings store.
func (d *Dependencies) NewPool(ctx context.Context) *worker.Pool {
	r := settingsReader{ctx: ctx, sm: d.Settings, logger: d.Logger}
	return worker.NewPool(d.Queue,
		worker.WithLogger(d.Logger),
		worker.WithPollInterval(r.Seconds(settings.KeyPollInterval, constants.DefaultPollInterval)),
		worker.WithShutdownTimeout(r.Seconds(settings.KeyShutdownTimeout, constants.DefaultShutdownTimeout)),
		worker.WithStatusFile(d.Config.StatusFilePath()),
	)
}

// WorkerCount is the worker_count setting, used when --count is not given.
func (d *Dependencies) WorkerCount(ctx context.Context) int {
	r := settingsReader{ctx: ctx, sm: d.Settings, logger: d.Logger}
	return r.Int(settings.KeyWorkerCount, constants.DefaultWorkerCount)
}

func (d *Dependencies) Close() error {
	return d.Store.Close()
}

type settingsReader struct {
	ctx    context.Context
	sm     *settings.Manager
	logger *slog.Logger
}

func (r settingsReader) warn(key string, err error) {
	r.logger.Warn("using default for setting", "key", key, "error", err)
}

func (r settingsReader) Int(key string, def int) int {
	v, err := r.sm.Int(r.ctx, key, def)
	if err != nil {
		r.warn(key, err)
		return def
	}
	return v
}

func (r settingsReader) Float(key string, def float64) float64 {
	v, err := r.sm.Float(r.ctx, key, def)
	if err != nil {
		r.warn(key, err)
		return def
	}
	return v
}

func (r settingsReader) IDScheme() string {
	v, err := r.sm.IDScheme(r.ctx)
	if err != nil {
		r.warn(settings.KeyIDScheme, err)
	}
	return v
}

func (r settingsReader) Seconds(key string, def time.Duration) time.Duration {
	v, err := r.sm.Seconds(r.ctx, key, def)
	if err != nil {
		r.warn(key, err)
		return def
	}
	return v
}
