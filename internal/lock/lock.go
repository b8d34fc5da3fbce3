// Package lock serializes synchronization runs against one target through
// an advisory file lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// ErrLocked is returned when another run holds the lock
var ErrLocked = errors.New("lock is held by another run")

// RetryDelay is the interval between lock attempts
const RetryDelay = 100 * time.Millisecond

// Lock is an advisory lock on a file
type Lock struct {
	file   *flock.Flock
	logger *logrus.Logger
}

// New creates a lock on path. The file is created on first acquire.
func New(path string, logger *logrus.Logger) *Lock {
	return &Lock{
		file:   flock.New(path),
		logger: logger,
	}
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.file.Path()
}

// Acquire takes the lock, retrying until ctx is done
func (l *Lock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.file.Path()), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := l.file.TryLockContext(ctx, RetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s", ErrLocked, l.file.Path())
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, l.file.Path())
	}

	l.logger.WithField("path", l.file.Path()).Debug("Lock acquired")
	return nil
}

// Release gives the lock up
func (l *Lock) Release() error {
	if err := l.file.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.logger.WithField("path", l.file.Path()).Debug("Lock released")
	return nil
}
