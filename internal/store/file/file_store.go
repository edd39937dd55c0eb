package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"jobqueue/internal/models"
	"jobqueue/internal/state"
	"jobqueue/internal/store"
)

// document is the on-disk layout: every job keyed by id plus the settings map.
type document struct {
	Jobs   map[string]models.Job `json:"jobs"`
	Config map[string]any        `json:"config"`
}

func emptyDocument() *document {
	return &document{Jobs: map[string]models.Job{}, Config: map[string]any{}}
}

// lockRetryDelay is how often a blocked call retries the document lock.
const lockRetryDelay = 10 * time.Millisecond

// FileStore keeps the whole queue in one JSON document. Each call holds a
// mutex and an flock on "<document>.lock" from load to flush, so calls never
// interleave, whether they come from this process or another one sharing
// the data directory.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	flock *flock.Flock
}

type Option func(*FileStore)

func WithLogger(l *slog.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewFileStore opens the document at path, creating its directory and an
// empty document when none exists.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	s := &FileStore{path: path, logger: slog.Default(), flock: flock.New(path + ".lock")}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	err := s.withLock(context.Background(), true, func() error {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return s.flush(emptyDocument())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// withLock runs fn inside the critical section. Writers take the file lock
// exclusively; readers share it.
func (s *FileStore) withLock(ctx context.Context, write bool, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tryLock := s.flock.TryRLockContext
	if write {
		tryLock = s.flock.TryLockContext
	}
	locked, err := tryLock(ctx, lockRetryDelay)
	if err == nil && !locked {
		err = errors.New("lock not acquired")
	}
	if err != nil {
		return fmt.Errorf("lock job document: %w", err)
	}
	defer func() {
		if err := s.flock.Unlock(); err != nil {
			s.logger.Warn("unlock job document", "path", s.flock.Path(), "error", err)
		}
	}()
	return fn()
}

// load reads the document. A missing or unparsable file yields an empty
// document; the next write replaces it.
func (s *FileStore) load() *document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Debug("job document unreadable, starting empty", "path", s.path, "error", err)
		return emptyDocument()
	}

	doc := emptyDocument()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(doc); err != nil {
		s.logger.Debug("job document corrupt, starting empty", "path", s.path, "error", err)
		return emptyDocument()
	}
	if doc.Jobs == nil {
		doc.Jobs = map[string]models.Job{}
	}
	for id, job := range doc.Jobs {
		if job.ID == "" {
			job.ID = id
			doc.Jobs[id] = job
		}
	}
	doc.Config = store.NormalizeConfig(doc.Config)
	return doc
}

// flush writes doc to a temp file in the same directory and renames it over
// the document, so readers never observe a partial write.
func (s *FileStore) flush(doc *document) error {
	out := *doc
	out.Config = store.EncodeConfig(doc.Config)
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write job document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write job document: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace job document: %w", err)
	}
	return nil
}

func (s *FileStore) Save(ctx context.Context, job *models.Job) error {
	return s.withLock(ctx, true, func() error {
		doc := s.load()
		doc.Jobs[job.ID] = *job.Clone()
		return s.flush(doc)
	})
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.withLock(ctx, false, func() error {
		var ok bool
		if job, ok = s.load().Jobs[id]; !ok {
			return store.ErrJobNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *FileStore) ListByState(ctx context.Context, status state.JobStatus) ([]models.Job, error) {
	var jobs []models.Job
	err := s.withLock(ctx, false, func() error {
		for _, job := range s.load().Jobs {
			if job.State == status {
				jobs = append(jobs, job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	models.SortByCreation(jobs)
	return jobs, nil
}

func (s *FileStore) ListAll(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := s.withLock(ctx, false, func() error {
		doc := s.load()
		jobs = make([]models.Job, 0, len(doc.Jobs))
		for _, job := range doc.Jobs {
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	models.SortByCreation(jobs)
	return jobs, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	return s.withLock(ctx, true, func() error {
		doc := s.load()
		if _, ok := doc.Jobs[id]; !ok {
			return store.ErrJobNotFound
		}
		delete(doc.Jobs, id)
		return s.flush(doc)
	})
}

func (s *FileStore) Claim(ctx context.Context, id string, now time.Time) (*models.Job, error) {
	var claimed *models.Job
	err := s.withLock(ctx, true, func() error {
		doc := s.load()
		job, ok := doc.Jobs[id]
		if !ok {
			return store.ErrJobNotFound
		}
		var err error
		if claimed, err = store.ApplyClaim(&job, now); err != nil {
			return err
		}
		doc.Jobs[id] = *claimed
		return s.flush(doc)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *FileStore) LoadConfig(ctx context.Context) (map[string]any, error) {
	var cfg map[string]any
	err := s.withLock(ctx, false, func() error {
		cfg = s.load().Config
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *FileStore) SaveConfig(ctx context.Context, cfg map[string]any) error {
	return s.withLock(ctx, true, func() error {
		doc := s.load()
		doc.Config = store.CopyConfig(cfg)
		return s.flush(doc)
	})
}

func (s *FileStore) Close() error {
	return nil
}
