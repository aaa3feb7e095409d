package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// hostLock gives one process exclusive ownership of an on-disk index host.
// Bleve's on-disk segments are single-writer, so a second process opening the
// same host would fail later in a less obvious way.
type hostLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// newHostLock creates a lock for the host directory.
// The lock file lives at <dir>/.host.lock
func newHostLock(dir string) *hostLock {
	lockPath := filepath.Join(dir, ".host.lock")
	return &hostLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// tryLock acquires the lock without blocking.
// Returns ErrHostLocked if another process holds it.
func (l *hostLock) tryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create host directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire host lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrHostLocked, filepath.Dir(l.path))
	}

	l.locked = true
	return nil
}

// unlock releases the lock. Safe to call when not held.
func (l *hostLock) unlock() error {
	if !l.locked {
		return nil
	}

	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release host lock: %w", err)
	}
	return nil
}
