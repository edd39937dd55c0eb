package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"jobqueue/internal/models"
	"jobqueue/internal/state"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrClaimConflict = errors.New("job is no longer eligible to claim")
)

// JobStore is the durable keyed collection of jobs. Every method is
// indivisible with respect to other calls on the same store.
type JobStore interface {
	// Save inserts the job or replaces the record with the same id.
	Save(ctx context.Context, job *models.Job) error

	// Get returns ErrJobNotFound when no job has the id.
	Get(ctx context.Context, id string) (*models.Job, error)

	ListByState(ctx context.Context, status state.JobStatus) ([]models.Job, error)

	ListAll(ctx context.Context) ([]models.Job, error)

	// Delete returns ErrJobNotFound when no job has the id.
	Delete(ctx context.Context, id string) error

	// Claim moves the job to processing if it is eligible at now, and returns
	// the updated record. It fails with ErrClaimConflict when another worker
	// got there first or the job is otherwise not eligible.
	Claim(ctx context.Context, id string, now time.Time) (*models.Job, error)

	Close() error
}

// ConfigStore holds the flat settings map. Values are bool, int64, float64
// or string.
type ConfigStore interface {
	LoadConfig(ctx context.Context) (map[string]any, error)
	SaveConfig(ctx context.Context, cfg map[string]any) error
}

// Store is what every backend implements.
type Store interface {
	JobStore
	ConfigStore
}

// ApplyClaim applies the pending/failed -> processing transition to a copy of
// job when it is eligible at now. next_retry_at only belongs to failed jobs
// and is cleared. Backends call it inside their critical section; the input
// job is not modified.
func ApplyClaim(job *models.Job, now time.Time) (*models.Job, error) {
	if !job.EligibleAt(now) || !state.IsValidTransition(job.State, state.StatusProcessing) {
		return nil, fmt.Errorf("claim %s in state %s: %w", job.ID, job.State, ErrClaimConflict)
	}
	out := job.Clone()
	out.State = state.StatusProcessing
	out.UpdatedAt = now.UTC()
	out.NextRetryAt = nil
	return out, nil
}

// EncodeConfigValue is the stored JSON form of a settings value. A float
// always keeps a fraction or exponent, so 2.0 is written as 2.0 and reads
// back as float64 rather than int64.
func EncodeConfigValue(v any) ([]byte, error) {
	return json.Marshal(configJSON(v))
}

// EncodeConfig returns a copy of cfg for marshaling as part of a larger
// document, with floats in the form EncodeConfigValue writes.
func EncodeConfig(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = configJSON(v)
	}
	return out
}

func configJSON(v any) any {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return v
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s)
}

// DecodeConfigValue turns a JSON-encoded scalar back into bool, int64,
// float64 or string. Integral numbers come back as int64.
func DecodeConfigValue(raw []byte) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeConfigValue(v), nil
}

func normalizeConfigValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// NormalizeConfig rewrites json.Number values decoded with UseNumber in place.
func NormalizeConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	for k, v := range cfg {
		cfg[k] = normalizeConfigValue(v)
	}
	return cfg
}

// CopyConfig returns a shallow copy of cfg, never nil.
func CopyConfig(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
