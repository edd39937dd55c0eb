package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"jobqueue/internal/models"
	"jobqueue/internal/state"
	"jobqueue/internal/store"
)

const jobColumns = `id, command, state, attempts, max_retries, created_at, updated_at, last_error, next_retry_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (r *PostgresJobStore) Save(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobqueue.jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			command = EXCLUDED.command,
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			max_retries = EXCLUDED.max_retries,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			last_error = EXCLUDED.last_error,
			next_retry_at = EXCLUDED.next_retry_at
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Command, string(job.State), job.Attempts, job.MaxRetries,
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(), nullString(job.LastError), nullTime(job.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (r *PostgresJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobqueue.jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresJobStore) ListByState(ctx context.Context, status state.JobStatus) ([]models.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobqueue.jobs WHERE state = $1 ORDER BY created_at, id`, string(status))
}

func (r *PostgresJobStore) ListAll(ctx context.Context) ([]models.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobqueue.jobs ORDER BY created_at, id`)
}

func (r *PostgresJobStore) list(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *PostgresJobStore) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobqueue.jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrJobNotFound
	}
	return nil
}

// Claim moves an eligible job to processing with one conditional UPDATE.
// Row locking makes a concurrent claimer re-evaluate the WHERE clause
// against the committed row, so only one of them matches.
func (r *PostgresJobStore) Claim(ctx context.Context, id string, now time.Time) (*models.Job, error) {
	query := `
		UPDATE jobqueue.jobs SET state = $1, updated_at = $2, next_retry_at = NULL
		WHERE id = $3
		  AND (state = $4
		       OR (state = $5 AND attempts < max_retries AND (next_retry_at IS NULL OR next_retry_at <= $2)))
		RETURNING ` + jobColumns

	row := r.db.QueryRowContext(ctx, query,
		string(state.StatusProcessing), now.UTC(), id,
		string(state.StatusPending), string(state.StatusFailed),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("claim %s: %w", id, store.ErrClaimConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresJobStore) LoadConfig(ctx context.Context) (map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM jobqueue.config`)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	defer rows.Close()

	cfg := map[string]any{}
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		v, err := store.DecodeConfigValue(raw)
		if err != nil {
			return nil, fmt.Errorf("config key %s: %w", key, err)
		}
		cfg[key] = v
	}
	return cfg, rows.Err()
}

func (r *PostgresJobStore) SaveConfig(ctx context.Context, cfg map[string]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobqueue.config`); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	for key, v := range cfg {
		raw, err := store.EncodeConfigValue(v)
		if err != nil {
			return fmt.Errorf("config key %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO jobqueue.config (key, value) VALUES ($1, $2)`, key, string(raw)); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the database
func (r *PostgresJobStore) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		status      string
		lastError   sql.NullString
		nextRetryAt sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Command, &status, &job.Attempts, &job.MaxRetries,
		&job.CreatedAt, &job.UpdatedAt, &lastError, &nextRetryAt)
	if err != nil {
		return nil, err
	}
	job.State = state.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	if lastError.Valid {
		msg := lastError.String
		job.LastError = &msg
	}
	if nextRetryAt.Valid {
		at := nextRetryAt.Time.UTC()
		job.NextRetryAt = &at
	}
	return &job, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
