package constants

import "time"

// Advisory lock ids used by SQL backends.
const (
	MigrationLock = iota + 7301
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2.0

	DefaultCommandTimeout  = 300 * time.Second
	DefaultPollInterval    = time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultWorkerCount     = 1

	// A processing job untouched for the command timeout plus this grace
	// period has lost its worker.
	StaleJobGrace       = time.Minute
	DefaultReapSchedule = "@every 1m"

	IdleMarker = "idle"
)
