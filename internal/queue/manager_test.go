package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobqueue/custom_errors"
	"jobqueue/internal/models"
	"jobqueue/internal/state"
	"jobqueue/internal/store"
	"jobqueue/internal/store/file"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingRunner returns result for every command and counts calls.
type countingRunner struct {
	result Result
	calls  atomic.Int32
	delay  time.Duration
}

func (r *countingRunner) Run(ctx context.Context, _ string, timeout time.Duration) Result {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	res := r.result
	res.Timeout = timeout
	return res
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *file.FileStore {
	t.Helper()
	s, err := file.NewFileStore(filepath.Join(t.TempDir(), "jobqueue_data.json"), file.WithLogger(discardLogger()))
	require.NoError(t, err)
	return s
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock, store.JobStore) {
	t.Helper()
	clock := newFakeClock()
	s := newTestStore(t)
	base := []Option{WithLogger(discardLogger()), WithClock(clock.Now)}
	return NewManager(s, append(base, opts...)...), clock, s
}

func TestScenarioA_SuccessfulJobCompletes(t *testing.T) {
	m, _, s := newTestManager(t)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "true")
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, job.State)
	assert.Equal(t, 0, job.Attempts)

	ok, err := m.Execute(ctx, job)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, stored.State)
	assert.Nil(t, stored.LastError)
	assert.Nil(t, stored.NextRetryAt)
	assert.Equal(t, 0, stored.Attempts)
}

func TestScenarioB_FailingJobBacksOffThenDies(t *testing.T) {
	m, clock, s := newTestManager(t)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "exit 1", WithMaxRetries(2))
	require.NoError(t, err)

	ok, err := m.Execute(ctx, job)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, stored.State)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "exit code 1", stored.LastErrorText())
	require.NotNil(t, stored.NextRetryAt)
	assert.True(t, stored.NextRetryAt.Equal(clock.Now().Add(2*time.Second)))

	next, err := m.NextEligibleJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "retry delay has not elapsed")

	clock.Advance(2 * time.Second)
	next, err = m.NextEligibleJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, job.ID, next.ID)

	ok, err = m.Execute(ctx, next)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusDead, stored.State)
	assert.Equal(t, 2, stored.Attempts)
	assert.Nil(t, stored.NextRetryAt)

	next, err = m.NextEligibleJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestScenarioC_RetryDeadJobResets(t *testing.T) {
	m, _, s := newTestManager(t)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "exit 1", WithMaxRetries(0))
	require.NoError(t, err)
	_, err = m.Execute(ctx, job)
	require.NoError(t, err)
	require.Equal(t, state.StatusDead, job.State)
	require.Equal(t, 1, job.Attempts)

	ok, err := m.RetryDeadJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, stored.State)
	assert.Equal(t, 0, stored.Attempts)
	assert.Nil(t, stored.LastError)
	assert.Nil(t, stored.NextRetryAt)
}

func TestRetryDeadJob_NotDeadOrMissing(t *testing.T) {
	m, _, s := newTestManager(t)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "true")
	require.NoError(t, err)
	before, err := s.Get(ctx, job.ID)
	require.NoError(t, err)

	ok, err := m.RetryDeadJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.State, after.State)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	ok, err = m.RetryDeadJob(ctx, "no-such-job")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecute_CapturesStderr(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "echo 'disk full' >&2; exit 3")
	require.NoError(t, err)

	ok, err := m.Execute(ctx, job)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "disk full", job.LastErrorText())
	assert.Equal(t, state.StatusFailed, job.State)
}

func TestExecute_Timeout(t *testing.T) {
	m, _, _ := newTestManager(t, WithCommandTimeout(100*time.Millisecond))
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "sleep 5")
	require.NoError(t, err)

	start := time.Now()
	ok, err := m.Execute(ctx, job)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, "command timed out after 100ms", job.LastErrorText())
	assert.Equal(t, 1, job.Attempts)
}

func TestExecute_CancelledContextStillPersists(t *testing.T) {
	m, _, s := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())

	job, err := m.Enqueue(ctx, "sleep 5")
	require.NoError(t, err)

	time.AfterFunc(100*time.Millisecond, cancel)
	ok, err := m.Execute(ctx, job)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := s.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, stored.State)
	assert.Equal(t, "command interrupted: worker shutting down", stored.LastErrorText())
}

func TestExecute_LaunchFailure(t *testing.T) {
	runner := &ShellRunner{Shell: "/nonexistent/shell"}
	m, _, _ := newTestManager(t, WithRunner(runner))
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "true", WithMaxRetries(0))
	require.NoError(t, err)

	ok, err := m.Execute(ctx, job)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, state.StatusDead, job.State)
	assert.Contains(t, job.LastErrorText(), "/nonexistent/shell")
}

func TestExecute_BackoffBase(t *testing.T) {
	runner := &countingRunner{result: Result{ExitCode: 1}}
	m, clock, _ := newTestManager(t, WithRunner(runner), WithBackoffBase(3))
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "x", WithMaxRetries(5))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = m.Execute(ctx, job)
		require.NoError(t, err)
		clock.Advance(time.Hour)
	}
	clock.Advance(-time.Hour)
	require.NotNil(t, job.NextRetryAt)
	assert.True(t, job.NextRetryAt.Equal(clock.Now().Add(9*time.Second)))
}

func TestTimestampsKeepMicrosecondPrecision(t *testing.T) {
	runner := &countingRunner{result: Result{ExitCode: 1}}
	m, clock, s := newTestManager(t, WithRunner(runner))
	clock.Advance(123456789 * time.Nanosecond)
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "x", WithMaxRetries(3))
	require.NoError(t, err)
	want := time.Date(2025, 6, 1, 12, 0, 0, 123456000, time.UTC)
	assert.True(t, job.CreatedAt.Equal(want))

	_, err = m.Execute(ctx, job)
	require.NoError(t, err)

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextRetryAt)
	assert.True(t, stored.CreatedAt.Equal(job.CreatedAt))
	assert.True(t, stored.UpdatedAt.Equal(job.UpdatedAt))
	assert.True(t, stored.NextRetryAt.Equal(*job.NextRetryAt))
	for _, ts := range []time.Time{stored.CreatedAt, stored.UpdatedAt, *stored.NextRetryAt} {
		assert.Zero(t, ts.Nanosecond()%int(time.Microsecond), ts)
	}
	assert.True(t, stored.NextRetryAt.Equal(want.Add(2*time.Second)))
}

func TestExecute_LostClaim(t *testing.T) {
	runner := &countingRunner{}
	m, clock, s := newTestManager(t, WithRunner(runner))
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "true")
	require.NoError(t, err)
	_, err = s.Claim(ctx, job.ID, clock.Now())
	require.NoError(t, err)

	ok, err := m.Execute(ctx, job)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNotClaimed))
	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestExecute_TwoWorkersOnePendingJob(t *testing.T) {
	runner := &countingRunner{delay: 50 * time.Millisecond}
	m, _, _ := newTestManager(t, WithRunner(runner))
	ctx := context.Background()

	_, err := m.Enqueue(ctx, "true")
	require.NoError(t, err)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := m.NextEligibleJob(ctx)
			if err != nil || job == nil {
				return
			}
			_, _ = m.Execute(ctx, job)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), runner.calls.Load())
	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count(state.StatusCompleted))
}

type failingSaveStore struct {
	store.JobStore
	err error
}

func (s *failingSaveStore) Save(context.Context, *models.Job) error { return s.err }

func TestExecute_SaveFailureIsReturned(t *testing.T) {
	clock := newFakeClock()
	inner := newTestStore(t)
	require.NoError(t, inner.Save(context.Background(), models.NewJob("a", "true", 3, clock.Now())))

	m := NewManager(&failingSaveStore{JobStore: inner, err: errors.New("disk full")},
		WithLogger(discardLogger()), WithClock(clock.Now), WithRunner(&countingRunner{}))

	job, err := m.Get(context.Background(), "a")
	require.NoError(t, err)
	ok, err := m.Execute(context.Background(), job)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "disk full")
}

func TestEnqueue_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, "   ", WithMaxRetries(-1))
	var vErr *custom_errors.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Errors, 2)

	_, err = m.Enqueue(ctx, "true", WithID("fixed"))
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "false", WithID("fixed"))
	require.True(t, errors.As(err, &vErr))
	assert.ErrorContains(t, err, "already exists")
}

func TestEnqueue_Defaults(t *testing.T) {
	m, clock, _ := newTestManager(t, WithDefaultMaxRetries(5))
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "echo hi")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(job.ID, "job_"))
	assert.Equal(t, 5, job.MaxRetries)
	assert.True(t, job.CreatedAt.Equal(clock.Now()))
	assert.True(t, job.UpdatedAt.Equal(clock.Now()))

	other, err := m.Enqueue(ctx, "echo hi")
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, other.ID)

	job, err = m.Enqueue(ctx, "echo hi", WithID("  "), WithMaxRetries(0))
	require.NoError(t, err)
	assert.Equal(t, 0, job.MaxRetries)
	assert.NotEmpty(t, strings.TrimSpace(job.ID))
}

func TestEnqueue_LegacyIDsCollide(t *testing.T) {
	m, clock, _ := newTestManager(t, WithLegacyIDs())
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "echo hi")
	require.NoError(t, err)
	assert.Equal(t, models.LegacyJobID("echo hi", clock.Now()), job.ID)

	_, err = m.Enqueue(ctx, "echo hi")
	assert.ErrorContains(t, err, "already exists")

	clock.Advance(time.Second)
	_, err = m.Enqueue(ctx, "echo hi")
	assert.NoError(t, err)
}

func TestNextEligibleJob_SelectionRules(t *testing.T) {
	m, clock, s := newTestManager(t)
	ctx := context.Background()
	now := clock.Now()
	future := now.Add(time.Minute)

	save := func(id string, st state.JobStatus, created time.Time, attempts, maxRetries int, next *time.Time) {
		job := models.NewJob(id, "true", maxRetries, created)
		job.State = st
		job.Attempts = attempts
		job.NextRetryAt = next
		require.NoError(t, s.Save(ctx, job))
	}
	save("completed", state.StatusCompleted, now.Add(-5*time.Hour), 0, 3, nil)
	save("dead", state.StatusDead, now.Add(-4*time.Hour), 3, 3, nil)
	save("processing", state.StatusProcessing, now.Add(-3*time.Hour), 0, 3, nil)
	save("waiting", state.StatusFailed, now.Add(-2*time.Hour), 1, 3, &future)

	next, err := m.NextEligibleJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	save("b-pending", state.StatusPending, now.Add(-time.Hour), 0, 3, nil)
	save("a-pending", state.StatusPending, now.Add(-time.Hour), 0, 3, nil)
	next, err = m.NextEligibleJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "a-pending", next.ID)

	clock.Advance(time.Minute)
	next, err = m.NextEligibleJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "waiting", next.ID)
}

func TestStatsAndListing(t *testing.T) {
	m, _, _ := newTestManager(t, WithRunner(&countingRunner{result: Result{ExitCode: 2}}))
	ctx := context.Background()

	first, err := m.Enqueue(ctx, "a", WithID("first"), WithMaxRetries(0))
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "b", WithID("second"))
	require.NoError(t, err)
	_, err = m.Execute(ctx, first)
	require.NoError(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Count(state.StatusPending))
	assert.Equal(t, 1, stats.Count(state.StatusDead))
	assert.Equal(t, 0, stats.Count(state.StatusProcessing))

	dead, err := m.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "exit code 2", dead[0].LastErrorText())

	all, err := m.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, m.Remove(ctx, "second"))
	assert.True(t, errors.Is(m.Remove(ctx, "second"), store.ErrJobNotFound))
	_, err = m.Get(ctx, "second")
	assert.True(t, errors.Is(err, store.ErrJobNotFound))
}

func TestReapStale(t *testing.T) {
	m, clock, s := newTestManager(t, WithCommandTimeout(time.Minute))
	ctx := context.Background()

	for _, id := range []string{"old", "recent"} {
		_, err := m.Enqueue(ctx, "true", WithID(id), WithMaxRetries(1))
		require.NoError(t, err)
	}
	_, err := s.Claim(ctx, "old", clock.Now())
	require.NoError(t, err)
	clock.Advance(90 * time.Second)
	_, err = s.Claim(ctx, "recent", clock.Now())
	require.NoError(t, err)
	clock.Advance(40 * time.Second)

	assert.Equal(t, 2*time.Minute, m.StaleAfter())
	n, err := m.ReapStale(ctx, m.StaleAfter())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, state.StatusDead, old.State)
	assert.Equal(t, 1, old.Attempts)
	assert.Equal(t, LostWorkerMessage, old.LastErrorText())

	recent, err := s.Get(ctx, "recent")
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, recent.State)
}
