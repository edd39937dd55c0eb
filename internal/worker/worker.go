package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"jobqueue/internal/constants"
	"jobqueue/internal/models"
	"jobqueue/internal/queue"
)

// Queue is what workers and the pool need from queue.Manager.
type Queue interface {
	NextEligibleJob(ctx context.Context) (*models.Job, error)
	Execute(ctx context.Context, job *models.Job) (bool, error)
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
	StaleAfter() time.Duration
}

// Worker runs one job at a time until stopped.
type Worker struct {
	id           string
	queue        Queue
	pollInterval time.Duration
	logger       *slog.Logger

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu         sync.Mutex
	currentJob string
}

func newWorker(id string, q Queue, pollInterval time.Duration, logger *slog.Logger) *Worker {
	w := &Worker{
		id:           id,
		queue:        q,
		pollInterval: pollInterval,
		logger:       logger.With("worker_id", id),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	w.running.Store(true)
	return w
}

func (w *Worker) ID() string { return w.id }

// run is the worker loop. ctx is cancelled only to kill an in-flight command
// on forced shutdown; a normal stop goes through Stop.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.logger.Debug("worker started")

	for w.running.Load() {
		job, err := w.queue.NextEligibleJob(ctx)
		if err != nil {
			w.logger.Error("select next job", "error", err)
			w.idle(ctx)
			continue
		}
		if job == nil {
			w.idle(ctx)
			continue
		}

		w.setCurrentJob(job.ID)
		_, err = w.queue.Execute(ctx, job)
		w.setCurrentJob("")

		switch {
		case errors.Is(err, queue.ErrNotClaimed):
			// Another worker took it; look again straight away.
		case err != nil:
			w.logger.Error("execute job", "job_id", job.ID, "error", err)
			w.idle(ctx)
		}
	}
	w.logger.Debug("worker stopped")
}

func (w *Worker) idle(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stopCh:
	case <-ctx.Done():
	}
}

// Stop asks the loop to exit after the current job. It does not wait.
func (w *Worker) Stop() {
	w.running.Store(false)
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed once the loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) setCurrentJob(id string) {
	w.mu.Lock()
	w.currentJob = id
	w.mu.Unlock()
}

func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	current := w.currentJob
	w.mu.Unlock()
	if current == "" {
		current = constants.IdleMarker
	}
	return WorkerStatus{ID: w.id, CurrentJob: current, Running: w.running.Load()}
}
