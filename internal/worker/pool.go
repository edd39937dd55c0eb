package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"jobqueue/internal/constants"
)

// Pool supervises a set of workers in the current process along with the
// stale job reaper and the status file.
type Pool struct {
	queue           Queue
	logger          *slog.Logger
	pollInterval    time.Duration
	shutdownTimeout time.Duration
	reapSchedule    string
	statusPath      string

	mu        sync.Mutex
	gen       *generation
	startedAt time.Time
}

// generation is one set of workers started by a single Start call.
type generation struct {
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	kill     context.CancelFunc
	done     chan struct{}
}

func (g *generation) signalStop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

type PoolOption func(*Pool)

func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

func WithShutdownTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.shutdownTimeout = d
		}
	}
}

// WithReapSchedule sets the cron spec for the stale job reaper. An empty
// spec disables it.
func WithReapSchedule(spec string) PoolOption {
	return func(p *Pool) { p.reapSchedule = spec }
}

// WithStatusFile publishes the pool status to path while it runs.
func WithStatusFile(path string) PoolOption {
	return func(p *Pool) { p.statusPath = path }
}

func NewPool(q Queue, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:           q,
		logger:          slog.Default(),
		pollInterval:    constants.DefaultPollInterval,
		shutdownTimeout: constants.DefaultShutdownTimeout,
		reapSchedule:    constants.DefaultReapSchedule,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs count workers and blocks until the pool stops, either through
// Stop or because ctx was cancelled. Workers from an earlier Start are shut
// down first.
func (p *Pool) Start(ctx context.Context, count int) error {
	if count < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", count)
	}

	var reaper *cron.Cron
	if p.reapSchedule != "" {
		reaper = cron.New()
		if _, err := reaper.AddFunc(p.reapSchedule, func() { p.reap(ctx) }); err != nil {
			return fmt.Errorf("invalid reap schedule %q: %w", p.reapSchedule, err)
		}
	}

	p.mu.Lock()
	previous := p.gen
	p.mu.Unlock()
	if previous != nil {
		p.shutdownWithTimeout(previous)
	}

	gen := p.launch(ctx, count)
	p.logger.Info("worker pool started", "workers", count, "pid", os.Getpid())

	if reaper != nil {
		p.reap(ctx)
		reaper.Start()
		defer func() { <-reaper.Stop().Done() }()
	}

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		p.publishStatus(gen)
	}()

	select {
	case <-ctx.Done():
		p.logger.Info("shutdown requested, waiting for running jobs", "timeout", p.shutdownTimeout)
		p.shutdownWithTimeout(gen)
	case <-gen.stopCh:
		<-gen.done
	case <-gen.done:
		p.shutdownWithTimeout(gen)
	}
	<-statusDone

	// The publisher may have raced the removal in shutdown.
	p.mu.Lock()
	idle := p.gen == nil
	p.mu.Unlock()
	if idle {
		p.removeStatusFile()
	}

	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) launch(ctx context.Context, count int) *generation {
	killCtx, kill := context.WithCancel(context.WithoutCancel(ctx))
	gen := &generation{
		stopCh: make(chan struct{}),
		kill:   kill,
		done:   make(chan struct{}),
	}

	var g errgroup.Group
	for i := 1; i <= count; i++ {
		w := newWorker(fmt.Sprintf("worker-%d", i), p.queue, p.pollInterval, p.logger)
		gen.workers = append(gen.workers, w)
		g.Go(func() error {
			w.run(killCtx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(gen.done)
	}()

	p.mu.Lock()
	p.gen = gen
	p.startedAt = time.Now().UTC()
	p.mu.Unlock()
	return gen
}

// Stop asks every worker to finish its current job and waits for them. When
// ctx expires first, running commands are killed and their jobs are
// recorded as failed attempts.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	if gen == nil {
		return nil
	}
	p.shutdown(ctx, gen)
	return nil
}

func (p *Pool) shutdown(ctx context.Context, gen *generation) {
	gen.signalStop()
	for _, w := range gen.workers {
		w.Stop()
	}

	select {
	case <-gen.done:
	case <-ctx.Done():
		p.logger.Warn("workers did not stop in time, killing running commands")
		gen.kill()
		<-gen.done
	}
	gen.kill()

	p.mu.Lock()
	current := p.gen == gen
	if current {
		p.gen = nil
	}
	p.mu.Unlock()
	if current {
		p.removeStatusFile()
	}
}

func (p *Pool) shutdownWithTimeout(gen *generation) {
	ctx, cancel := context.WithTimeout(context.Background(), p.shutdownTimeout)
	defer cancel()
	p.shutdown(ctx, gen)
}

func (p *Pool) removeStatusFile() {
	if p.statusPath == "" {
		return
	}
	if err := RemoveStatusFile(p.statusPath); err != nil {
		p.logger.Warn("remove status file", "path", p.statusPath, "error", err)
	}
}

func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	gen := p.gen
	status := PoolStatus{
		PID:       os.Getpid(),
		StartedAt: p.startedAt,
		UpdatedAt: time.Now().UTC(),
	}
	p.mu.Unlock()

	status.Workers = []WorkerStatus{}
	if gen == nil {
		return status
	}
	for _, w := range gen.workers {
		status.Workers = append(status.Workers, w.Status())
	}
	status.ActiveWorkers = len(gen.workers)
	return status
}

func (p *Pool) reap(ctx context.Context) {
	n, err := p.queue.ReapStale(ctx, p.queue.StaleAfter())
	if err != nil {
		p.logger.Error("reap stale jobs", "error", err)
		return
	}
	if n > 0 {
		p.logger.Warn("recovered jobs abandoned by lost workers", "count", n)
	}
}

func (p *Pool) publishStatus(gen *generation) {
	if p.statusPath == "" {
		<-gen.stopCh
		return
	}
	write := func() {
		if err := WriteStatusFile(p.statusPath, p.Status()); err != nil {
			p.logger.Warn("write status file", "path", p.statusPath, "error", err)
		}
	}
	write()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gen.stopCh:
			return
		case <-ticker.C:
			write()
		}
	}
}
