package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"jobqueue/internal/constants"
	"jobqueue/internal/state"
)

// Job is one shell command tracked through its lifecycle. The JSON form is
// the persisted record; unset optional fields are written as null.
type Job struct {
	ID          string          `json:"id"`
	Command     string          `json:"command"`
	State       state.JobStatus `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxRetries  int             `json:"max_retries"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	LastError   *string         `json:"last_error"`
	NextRetryAt *time.Time      `json:"next_retry_at"`
}

// NewJob builds a pending job created at now.
func NewJob(id, command string, maxRetries int, now time.Time) *Job {
	now = now.UTC()
	return &Job{
		ID:         id,
		Command:    command,
		State:      state.StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (j *Job) ShouldRetry() bool {
	return j.State == state.StatusFailed && j.Attempts < j.MaxRetries
}

// EligibleAt reports whether a worker may pick the job up at now: every
// pending job, and failed jobs with retries left whose backoff has elapsed.
func (j *Job) EligibleAt(now time.Time) bool {
	switch {
	case j.State == state.StatusPending:
		return true
	case j.ShouldRetry():
		return j.NextRetryAt == nil || !now.Before(*j.NextRetryAt)
	default:
		return false
	}
}

func (j *Job) LastErrorText() string {
	if j.LastError == nil {
		return ""
	}
	return *j.LastError
}

// Clone returns a deep copy; the optional fields do not alias j.
func (j *Job) Clone() *Job {
	c := *j
	if j.LastError != nil {
		msg := *j.LastError
		c.LastError = &msg
	}
	if j.NextRetryAt != nil {
		at := *j.NextRetryAt
		c.NextRetryAt = &at
	}
	return &c
}

// RetryDelaySeconds is base^attempts with no cap and no jitter.
func RetryDelaySeconds(attempts int, base float64) float64 {
	return math.Pow(base, float64(attempts))
}

// RetryDelay converts RetryDelaySeconds to a Duration, saturating at the
// largest representable Duration instead of overflowing.
func RetryDelay(attempts int, base float64) time.Duration {
	secs := RetryDelaySeconds(attempts, base)
	if secs >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}

// SortByCreation orders jobs oldest first. Jobs created at the same instant
// are ordered by id so selection never depends on map iteration order.
func SortByCreation(jobs []Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		return CreatedBefore(&jobs[a], &jobs[b])
	})
}

func CreatedBefore(a, b *Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// timestamp layouts accepted on read, newest format first. Older documents
// carry naive ISO-8601 values which are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON decodes a persisted record, filling defaults for fields that
// older writers left out.
func (j *Job) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string  `json:"id"`
		Command     string  `json:"command"`
		State       string  `json:"state"`
		Attempts    int     `json:"attempts"`
		MaxRetries  *int    `json:"max_retries"`
		CreatedAt   *string `json:"created_at"`
		UpdatedAt   *string `json:"updated_at"`
		LastError   *string `json:"last_error"`
		NextRetryAt *string `json:"next_retry_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Job{
		ID:         raw.ID,
		Command:    raw.Command,
		State:      state.JobStatus(raw.State),
		Attempts:   raw.Attempts,
		MaxRetries: constants.DefaultMaxRetries,
		LastError:  raw.LastError,
	}
	if out.State == "" {
		out.State = state.StatusPending
	}
	if raw.MaxRetries != nil {
		out.MaxRetries = *raw.MaxRetries
	}

	var err error
	if raw.CreatedAt != nil && *raw.CreatedAt != "" {
		if out.CreatedAt, err = ParseTimestamp(*raw.CreatedAt); err != nil {
			return fmt.Errorf("job %s created_at: %w", raw.ID, err)
		}
	}
	out.UpdatedAt = out.CreatedAt
	if raw.UpdatedAt != nil && *raw.UpdatedAt != "" {
		if out.UpdatedAt, err = ParseTimestamp(*raw.UpdatedAt); err != nil {
			return fmt.Errorf("job %s updated_at: %w", raw.ID, err)
		}
	}
	if raw.NextRetryAt != nil && *raw.NextRetryAt != "" {
		at, err := ParseTimestamp(*raw.NextRetryAt)
		if err != nil {
			return fmt.Errorf("job %s next_retry_at: %w", raw.ID, err)
		}
		out.NextRetryAt = &at
	}

	*j = out
	return nil
}
