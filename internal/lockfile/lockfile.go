// Package lockfile enforces the single-daemon-instance guarantee with an
// advisory flock on the PID file. The OS drops the lock on process exit, so
// a crashed daemon never wedges the next start.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// ErrLockHeld means another daemon already holds the lock.
var ErrLockHeld = errors.New("daemon already running")

// Lock is a held PID-file lock.
type Lock struct {
	fl   *flock.Flock
	path string
}

// Acquire takes an exclusive non-blocking lock on path and writes the
// current PID into it. Returns ErrLockHeld when another process has it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create state dir: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lockfile: %s: %w", path, err)
	}
	if !locked {
		return nil, ErrLockHeld
	}
	// Best-effort PID note for operators; the flock is the actual guard.
	_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	return &Lock{fl: fl, path: path}, nil
}

// Release unlocks. Safe to skip: the OS releases on exit anyway.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

func (l *Lock) Path() string { return l.path }
