// Package queue owns every job state change: enqueueing, picking the next
// eligible job, claiming and executing it, and the retry and dead-letter
// policy that follows a failure.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"jobqueue/custom_errors"
	"jobqueue/internal/constants"
	"jobqueue/internal/models"
	"jobqueue/internal/state"
	"jobqueue/internal/store"
)

var (
	// ErrNotClaimed means another worker advanced the job between selection
	// and claim. Nothing was executed or changed.
	ErrNotClaimed = errors.New("job was claimed by another worker")

	ErrInvalidTransition = errors.New("invalid job state transition")
)

// LostWorkerMessage is recorded on processing jobs recovered by ReapStale.
const LostWorkerMessage = "worker lost while processing"

// IDGenerator returns the id for a job enqueued without one.
type IDGenerator func(command string, now time.Time) (string, error)

type Manager struct {
	store  store.JobStore
	logger *slog.Logger
	runner Runner
	now    func() time.Time
	newID  IDGenerator

	defaultMaxRetries int
	backoffBase       float64
	commandTimeout    time.Duration
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithRunner(r Runner) Option {
	return func(m *Manager) { m.runner = r }
}

// WithClock replaces time.Now; tests use it to step over retry delays.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithDefaultMaxRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.defaultMaxRetries = n
		}
	}
}

func WithBackoffBase(base float64) Option {
	return func(m *Manager) {
		if base > 0 {
			m.backoffBase = base
		}
	}
}

func WithCommandTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.commandTimeout = d
		}
	}
}

func WithIDGenerator(gen IDGenerator) Option {
	return func(m *Manager) { m.newID = gen }
}

// WithLegacyIDs generates "job_<unix>_<hash>" ids. Two identical commands
// enqueued within the same second get the same id and the second is rejected.
func WithLegacyIDs() Option {
	return WithIDGenerator(func(command string, now time.Time) (string, error) {
		return models.LegacyJobID(command, now), nil
	})
}

func NewManager(s store.JobStore, opts ...Option) *Manager {
	m := &Manager{
		store:             s,
		logger:            slog.Default(),
		runner:            NewShellRunner(),
		now:               time.Now,
		newID:             func(string, time.Time) (string, error) { return models.NewJobID() },
		defaultMaxRetries: constants.DefaultMaxRetries,
		backoffBase:       constants.DefaultBackoffBase,
		commandTimeout:    constants.DefaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) CommandTimeout() time.Duration {
	return m.commandTimeout
}

// StaleAfter is how long a job may sit in processing before ReapStale
// considers its worker gone.
func (m *Manager) StaleAfter() time.Duration {
	return m.commandTimeout + constants.StaleJobGrace
}

// clock is truncated to microseconds, the finest precision every backend
// keeps, so a saved job reads back unchanged.
func (m *Manager) clock() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

type enqueueOptions struct {
	id         string
	maxRetries *int
}

type EnqueueOption func(*enqueueOptions)

// WithID sets the job id instead of generating one. An empty id is ignored.
func WithID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.id = id }
}

func WithMaxRetries(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxRetries = &n }
}

// Enqueue validates and persists a new pending job. Invalid input is reported
// as a *custom_errors.ValidationError. The duplicate id check and the insert
// are separate store calls, so two concurrent enqueues of one explicit id can
// both pass the check.
func (m *Manager) Enqueue(ctx context.Context, command string, opts ...EnqueueOption) (*models.Job, error) {
	o := enqueueOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	maxRetries := m.defaultMaxRetries
	if o.maxRetries != nil {
		maxRetries = *o.maxRetries
	}

	validationErrs := &custom_errors.ValidationError{}
	if strings.TrimSpace(command) == "" {
		validationErrs.Addf("command", "must not be empty")
	}
	if maxRetries < 0 {
		validationErrs.Addf("max_retries", "must not be negative, got %d", maxRetries)
	}
	if err := validationErrs.ErrOrNil(); err != nil {
		return nil, err
	}

	now := m.clock()
	id := strings.TrimSpace(o.id)
	if id == "" {
		var err error
		if id, err = m.newID(command, now); err != nil {
			return nil, err
		}
	}

	_, err := m.store.Get(ctx, id)
	switch {
	case err == nil:
		return nil, custom_errors.NewValidationError(fmt.Errorf("id: job %s already exists", id))
	case !errors.Is(err, store.ErrJobNotFound):
		return nil, fmt.Errorf("check job %s: %w", id, err)
	}

	job := models.NewJob(id, command, maxRetries, now)
	if err := m.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	m.logger.Info("job enqueued", "job_id", job.ID, "max_retries", job.MaxRetries)
	return job, nil
}

// NextEligibleJob returns the oldest eligible job, or nil when there is none.
// Jobs created at the same instant are taken in id order. The job is not
// claimed; Execute does that.
func (m *Manager) NextEligibleJob(ctx context.Context) (*models.Job, error) {
	pending, err := m.store.ListByState(ctx, state.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	failed, err := m.store.ListByState(ctx, state.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}

	now := m.clock()
	var next *models.Job
	for _, candidates := range [][]models.Job{pending, failed} {
		for i := range candidates {
			job := &candidates[i]
			if !job.EligibleAt(now) {
				continue
			}
			if next == nil || models.CreatedBefore(job, next) {
				next = job
			}
		}
	}
	return next, nil
}

// Execute claims job, runs its command and records the outcome. It returns
// whether the command succeeded. A failed command is not an error; errors
// come only from the store or from losing the claim (ErrNotClaimed). On
// return job holds the persisted record.
//
// Cancelling ctx kills the running command; the failure is still recorded.
func (m *Manager) Execute(ctx context.Context, job *models.Job) (bool, error) {
	claimed, err := m.store.Claim(ctx, job.ID, m.clock())
	if errors.Is(err, store.ErrClaimConflict) {
		m.logger.Debug("claim lost", "job_id", job.ID)
		return false, fmt.Errorf("%w: %s", ErrNotClaimed, job.ID)
	}
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	*job = *claimed

	log := m.logger.With("job_id", job.ID)
	log.Info("job started", "attempts", job.Attempts, "command", job.Command)

	res := m.runner.Run(ctx, job.Command, m.commandTimeout)

	next := job.Clone()
	if res.Success() {
		err = m.complete(next)
	} else {
		err = m.fail(next, res.FailureMessage())
	}
	if err != nil {
		return false, err
	}

	// The outcome is saved even when ctx was cancelled mid-run.
	if err := m.store.Save(context.WithoutCancel(ctx), next); err != nil {
		return false, fmt.Errorf("save result of job %s: %w", next.ID, err)
	}
	*job = *next

	if res.Success() {
		log.Info("job completed")
	} else {
		log.Warn("job failed", "state", job.State, "attempts", job.Attempts,
			"max_retries", job.MaxRetries, "error", job.LastErrorText())
	}
	return res.Success(), nil
}

func (m *Manager) complete(job *models.Job) error {
	if err := transition(job, state.StatusCompleted); err != nil {
		return err
	}
	job.LastError = nil
	job.NextRetryAt = nil
	job.UpdatedAt = m.clock()
	return nil
}

// fail records one failed attempt on a processing job and moves it to
// failed, scheduling the retry, or on to dead when retries are used up.
func (m *Manager) fail(job *models.Job, message string) error {
	if err := transition(job, state.StatusFailed); err != nil {
		return err
	}
	now := m.clock()
	job.Attempts++
	job.LastError = &message
	job.UpdatedAt = now

	if job.ShouldRetry() {
		at := now.Add(models.RetryDelay(job.Attempts, m.backoffBase)).Truncate(time.Microsecond)
		job.NextRetryAt = &at
		return nil
	}
	if err := transition(job, state.StatusDead); err != nil {
		return err
	}
	job.NextRetryAt = nil
	return nil
}

func transition(job *models.Job, to state.JobStatus) error {
	if !state.IsValidTransition(job.State, to) {
		return fmt.Errorf("%w: job %s from %s to %s", ErrInvalidTransition, job.ID, job.State, to)
	}
	job.State = to
	return nil
}

// RetryDeadJob moves a dead job back to pending with a clean slate. It
// returns false without changing anything when the job is missing or not dead.
func (m *Manager) RetryDeadJob(ctx context.Context, id string) (bool, error) {
	job, err := m.store.Get(ctx, id)
	if errors.Is(err, store.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get job %s: %w", id, err)
	}
	if job.State != state.StatusDead {
		return false, nil
	}

	if err := transition(job, state.StatusPending); err != nil {
		return false, err
	}
	job.Attempts = 0
	job.LastError = nil
	job.NextRetryAt = nil
	job.UpdatedAt = m.clock()

	if err := m.store.Save(ctx, job); err != nil {
		return false, fmt.Errorf("save job %s: %w", id, err)
	}
	m.logger.Info("dead job requeued", "job_id", id)
	return true, nil
}

func (m *Manager) Stats(ctx context.Context) (models.Stats, error) {
	jobs, err := m.store.ListAll(ctx)
	if err != nil {
		return models.Stats{}, fmt.Errorf("list jobs: %w", err)
	}
	return models.CountStats(jobs), nil
}

// List returns every job, or only those in status when it is non-nil,
// oldest first.
func (m *Manager) List(ctx context.Context, status *state.JobStatus) ([]models.Job, error) {
	var (
		jobs []models.Job
		err  error
	)
	if status != nil {
		jobs, err = m.store.ListByState(ctx, *status)
	} else {
		jobs, err = m.store.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	models.SortByCreation(jobs)
	return jobs, nil
}

// DeadLetters lists the dead-letter queue.
func (m *Manager) DeadLetters(ctx context.Context) ([]models.Job, error) {
	dead := state.StatusDead
	return m.List(ctx, &dead)
}

// Get returns store.ErrJobNotFound for an unknown id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	return m.store.Get(ctx, id)
}

// Remove deletes a job in any state. Removing a job a worker is running does
// not stop the command; its result is saved back when it finishes.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("job removed", "job_id", id)
	return nil
}

// ReapStale fails processing jobs untouched for longer than olderThan, which
// happens when the process running them died. Each counts as one failed
// attempt. It returns how many jobs were reaped.
func (m *Manager) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	processing, err := m.store.ListByState(ctx, state.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing jobs: %w", err)
	}

	cutoff := m.clock().Add(-olderThan)
	reaped := 0
	for i := range processing {
		job := &processing[i]
		if !job.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := m.fail(job, LostWorkerMessage); err != nil {
			return reaped, err
		}
		if err := m.store.Save(ctx, job); err != nil {
			return reaped, fmt.Errorf("save job %s: %w", job.ID, err)
		}
		reaped++
		m.logger.Warn("stale job reaped", "job_id", job.ID, "state", job.State, "attempts", job.Attempts)
	}
	return reaped, nil
}
