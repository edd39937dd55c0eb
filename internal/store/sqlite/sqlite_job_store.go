package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"jobqueue/internal/models"
	"jobqueue/internal/state"
	"jobqueue/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	command       TEXT    NOT NULL,
	state         TEXT    NOT NULL DEFAULT 'pending',
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_retries   INTEGER NOT NULL DEFAULT 3,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	last_error    TEXT,
	next_retry_at INTEGER
);
CREATE INDEX IF NOT EXISTS jobs_state_created_idx ON jobs (state, created_at, id);
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const jobColumns = `id, command, state, attempts, max_retries, created_at, updated_at, last_error, next_retry_at`

// SQLiteJobStore keeps jobs in an embedded SQLite database. Timestamps are
// stored as UTC unix nanoseconds so ordering is a plain integer compare.
type SQLiteJobStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*SQLiteJobStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteJobStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteJobStore wraps an open handle. SQLite allows a single writer, so
// the pool is limited to one connection and every call runs alone.
func NewSQLiteJobStore(ctx context.Context, db *sql.DB) (*SQLiteJobStore, error) {
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteJobStore{db: db}, nil
}

func (s *SQLiteJobStore) Save(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			command = excluded.command,
			state = excluded.state,
			attempts = excluded.attempts,
			max_retries = excluded.max_retries,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_error = excluded.last_error,
			next_retry_at = excluded.next_retry_at`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.Command, string(job.State), job.Attempts, job.MaxRetries,
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
		nullString(job.LastError), nullUnixNano(job.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteJobStore) ListByState(ctx context.Context, status state.JobStatus) ([]models.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at, id`, string(status))
}

func (s *SQLiteJobStore) ListAll(ctx context.Context) ([]models.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
}

func (s *SQLiteJobStore) list(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteJobStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrJobNotFound
	}
	return nil
}

// Claim is a single conditional UPDATE; the WHERE clause is the eligibility
// rule, so two workers racing for one job cannot both match it.
func (s *SQLiteJobStore) Claim(ctx context.Context, id string, now time.Time) (*models.Job, error) {
	query := `
		UPDATE jobs SET state = ?, updated_at = ?, next_retry_at = NULL
		WHERE id = ?
		  AND (state = ?
		       OR (state = ? AND attempts < max_retries AND (next_retry_at IS NULL OR next_retry_at <= ?)))
		RETURNING ` + jobColumns

	nowNano := now.UTC().UnixNano()
	row := s.db.QueryRowContext(ctx, query,
		string(state.StatusProcessing), nowNano,
		id,
		string(state.StatusPending),
		string(state.StatusFailed), nowNano,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("claim %s: %w", id, store.ErrClaimConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteJobStore) LoadConfig(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	defer rows.Close()

	cfg := map[string]any{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		v, err := store.DecodeConfigValue([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("config key %s: %w", key, err)
		}
		cfg[key] = v
	}
	return cfg, rows.Err()
}

// SaveConfig replaces the whole map in one transaction.
func (s *SQLiteJobStore) SaveConfig(ctx context.Context, cfg map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM config`); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	for key, v := range cfg {
		raw, err := store.EncodeConfigValue(v)
		if err != nil {
			return fmt.Errorf("config key %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO config (key, value) VALUES (?, ?)`, key, string(raw)); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteJobStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                  models.Job
		status               string
		createdAt, updatedAt int64
		lastError            sql.NullString
		nextRetryAt          sql.NullInt64
	)
	err := row.Scan(&job.ID, &job.Command, &status, &job.Attempts, &job.MaxRetries,
		&createdAt, &updatedAt, &lastError, &nextRetryAt)
	if err != nil {
		return nil, err
	}
	job.State = state.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if lastError.Valid {
		msg := lastError.String
		job.LastError = &msg
	}
	if nextRetryAt.Valid {
		at := time.Unix(0, nextRetryAt.Int64).UTC()
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

func nullUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}
