// Package redis keeps the queue in two Redis hashes: one JSON record per job
// keyed by id, and one JSON-encoded value per settings key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"jobqueue/internal/models"
	"jobqueue/internal/state"
	"jobqueue/internal/store"
)

const (
	defaultKeyPrefix = "jobqueue:"
	maxClaimRetries  = 10
)

type Option func(*RedisJobStore)

func WithLogger(l *slog.Logger) Option {
	return func(s *RedisJobStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithKeyPrefix namespaces every key, so several queues can share a database.
// An empty prefix keeps the default.
func WithKeyPrefix(prefix string) Option {
	return func(s *RedisJobStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

type RedisJobStore struct {
	client goredis.UniversalClient
	logger *slog.Logger
	prefix string
}

// NewRedisJobStore wraps client. Close closes the client.
func NewRedisJobStore(client goredis.UniversalClient, opts ...Option) *RedisJobStore {
	s := &RedisJobStore{client: client, logger: slog.Default(), prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL, connects and pings.
func Open(ctx context.Context, url string, opts ...Option) (*RedisJobStore, error) {
	redisOpts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisJobStore(client, opts...), nil
}

func (s *RedisJobStore) jobsKey() string   { return s.prefix + "jobs" }
func (s *RedisJobStore) configKey() string { return s.prefix + "config" }

func (s *RedisJobStore) Save(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := s.client.HSet(ctx, s.jobsKey(), job.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.get(ctx, s.client, id)
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
}

func (s *RedisJobStore) get(ctx context.Context, c hashGetter, id string) (*models.Job, error) {
	raw, err := c.HGet(ctx, s.jobsKey(), id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisJobStore) ListByState(ctx context.Context, status state.JobStatus) ([]models.Job, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]models.Job, 0, len(all))
	for _, job := range all {
		if job.State == status {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// ListAll reads the whole hash with one HGETALL, which Redis serves atomically.
func (s *RedisJobStore) ListAll(ctx context.Context) ([]models.Job, error) {
	records, err := s.client.HGetAll(ctx, s.jobsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs := make([]models.Job, 0, len(records))
	for id, raw := range records {
		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			s.logger.Warn("skipping undecodable job record", "job_id", id, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	models.SortByCreation(jobs)
	return jobs, nil
}

func (s *RedisJobStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.HDel(ctx, s.jobsKey(), id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrJobNotFound
	}
	return nil
}

// Claim watches the jobs hash, re-checks eligibility and writes the
// processing record in MULTI/EXEC. A concurrent write to the hash aborts the
// transaction and the check runs again.
func (s *RedisJobStore) Claim(ctx context.Context, id string, now time.Time) (*models.Job, error) {
	var claimed *models.Job
	txf := func(tx *goredis.Tx) error {
		job, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := store.ApplyClaim(job, now)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, s.jobsKey(), id, data)
			return nil
		})
		if err == nil {
			claimed = next
		}
		return err
	}

	for i := 0; i < maxClaimRetries; i++ {
		err := s.client.Watch(ctx, txf, s.jobsKey())
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return claimed, nil
	}
	return nil, fmt.Errorf("claim %s: too much contention: %w", id, store.ErrClaimConflict)
}

func (s *RedisJobStore) LoadConfig(ctx context.Context) (map[string]any, error) {
	records, err := s.client.HGetAll(ctx, s.configKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := make(map[string]any, len(records))
	for key, raw := range records {
		v, err := store.DecodeConfigValue([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("config key %s: %w", key, err)
		}
		cfg[key] = v
	}
	return cfg, nil
}

// SaveConfig replaces the config hash in one MULTI/EXEC.
func (s *RedisJobStore) SaveConfig(ctx context.Context, cfg map[string]any) error {
	fields := make(map[string]any, len(cfg))
	for key, v := range cfg {
		raw, err := store.EncodeConfigValue(v)
		if err != nil {
			return fmt.Errorf("config key %s: %w", key, err)
		}
		fields[key] = string(raw)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.configKey())
		if len(fields) > 0 {
			pipe.HSet(ctx, s.configKey(), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func (s *RedisJobStore) Close() error {
	return s.client.Close()
}
