// Package settings is the flat key/value configuration kept next to the jobs,
// read by the queue and the worker pool and edited with `config set`.
package settings

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"jobqueue/internal/store"
)

// Keys read by the queue and the worker pool.
const (
	KeyMaxRetries      = "max_retries"
	KeyBackoffBase     = "backoff_base"
	KeyJobTimeout      = "job_timeout"
	KeyPollInterval    = "poll_interval"
	KeyWorkerCount     = "worker_count"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyIDScheme        = "id_scheme"
)

// Values accepted by id_scheme.
const (
	IDSchemeTypeID = "typeid"
	IDSchemeLegacy = "legacy"
)

type Manager struct {
	store store.ConfigStore
}

func NewManager(s store.ConfigStore) *Manager {
	return &Manager{store: s}
}

// Get returns the stored value for key, or def when the key is unset.
func (m *Manager) Get(ctx context.Context, key string, def any) (any, error) {
	cfg, err := m.store.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v, ok := cfg[key]; ok {
		return v, nil
	}
	return def, nil
}

// Set coerces raw, stores it under key and returns the stored value.
func (m *Manager) Set(ctx context.Context, key, raw string) (any, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("config key must not be empty")
	}
	cfg, err := m.store.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg = store.CopyConfig(cfg)
	v := Coerce(raw)
	cfg[key] = v
	if err := m.store.SaveConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save config: %w", err)
	}
	return v, nil
}

func (m *Manager) GetAll(ctx context.Context) (map[string]any, error) {
	cfg, err := m.store.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Int reads key as an integer. Floats are truncated; strings are parsed.
func (m *Manager) Int(ctx context.Context, key string, def int) (int, error) {
	v, err := m.Get(ctx, key, nil)
	if err != nil || v == nil {
		return def, err
	}
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return def, fmt.Errorf("config %s: %q is not an integer", key, n)
		}
		return i, nil
	}
	return def, fmt.Errorf("config %s: %v is not an integer", key, v)
}

func (m *Manager) Float(ctx context.Context, key string, def float64) (float64, error) {
	v, err := m.Get(ctx, key, nil)
	if err != nil || v == nil {
		return def, err
	}
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return def, fmt.Errorf("config %s: %q is not a number", key, n)
		}
		return f, nil
	}
	return def, fmt.Errorf("config %s: %v is not a number", key, v)
}

// Seconds reads key as a number of seconds.
func (m *Manager) Seconds(ctx context.Context, key string, def time.Duration) (time.Duration, error) {
	secs, err := m.Float(ctx, key, def.Seconds())
	if err != nil {
		return def, err
	}
	if secs < 0 || secs > math.MaxInt64/float64(time.Second) {
		return def, fmt.Errorf("config %s: %v seconds is out of range", key, secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// IDScheme reads id_scheme, case-insensitively. Unset means typeid.
func (m *Manager) IDScheme(ctx context.Context) (string, error) {
	v, err := m.Get(ctx, KeyIDScheme, IDSchemeTypeID)
	if err != nil {
		return IDSchemeTypeID, err
	}
	s, _ := v.(string)
	switch scheme := strings.ToLower(strings.TrimSpace(s)); scheme {
	case IDSchemeTypeID, IDSchemeLegacy:
		return scheme, nil
	}
	return IDSchemeTypeID, fmt.Errorf("config %s: %v is not %q or %q", KeyIDScheme, v, IDSchemeTypeID, IDSchemeLegacy)
}

// Coerce converts a raw CLI value: "true"/"false" in any case become bool,
// all-digit strings become int64, digits with dots that parse as a float
// become float64, and anything else stays a string.
func Coerce(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if isDigits(raw) {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i
		}
		return raw
	}
	if isDigits(strings.ReplaceAll(raw, ".", "")) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
