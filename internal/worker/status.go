package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

type WorkerStatus struct {
	ID         string `json:"id"`
	CurrentJob string `json:"current_job"`
	Running    bool   `json:"running"`
}

// PoolStatus is a snapshot of a running pool. The supervisor writes it to
// the status file so other processes can report on and signal it.
type PoolStatus struct {
	PID           int            `json:"pid"`
	StartedAt     time.Time      `json:"started_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ActiveWorkers int            `json:"active_workers"`
	Workers       []WorkerStatus `json:"workers"`
}

// ErrNoStatus means no pool has published a status file.
var ErrNoStatus = errors.New("no worker pool is running")

func WriteStatusFile(path string, status PoolStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return os.Rename(tmp, path)
}

func ReadStatusFile(path string) (PoolStatus, error) {
	var status PoolStatus
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return status, ErrNoStatus
	}
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("decode status file: %w", err)
	}
	return status, nil
}

func RemoveStatusFile(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
