package lock

import "context"

// DistributedLockManager serializes work across every process sharing one
// database, such as schema migration on startup.
type DistributedLockManager interface {
	Acquire(ctx context.Context, lockID int) error
	Release(ctx context.Context, lockID int) error
}
