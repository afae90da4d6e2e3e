package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another sync holds the state lock.
var ErrLocked = errors.New("another sync is in progress")

// Lock is an exclusive advisory lock held next to the state file.
type Lock struct {
	path string
	fl   *flock.Flock
}

// LockPath returns the lock file used for the state file at statePath.
func LockPath(statePath string) string {
	return statePath + ".lock"
}

// AcquireLock takes the state lock without blocking.
func AcquireLock(statePath string) (*Lock, error) {
	path := LockPath(statePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and leaves the lock file in place for the next run.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
