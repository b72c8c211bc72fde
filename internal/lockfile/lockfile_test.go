package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "daemon.pid")
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("pid file = %q, want %d", data, os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
	// Released lock is reacquirable.
	lock2, err := Acquire(path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	lock2.Release()
}

func TestAcquire_secondInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	// A second flock handle on the same file conflicts even within one
	// process, which is exactly the double-start case.
	if _, err := Acquire(path); !errors.Is(err, ErrLockHeld) {
		t.Errorf("second Acquire = %v, want ErrLockHeld", err)
	}
}
