package winestage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// RunLock is an exclusive advisory lock on the workspace.
type RunLock struct {
	f *os.File
}

// AcquireRunLock takes <workdir>/.winestage.lock without blocking.
func AcquireRunLock(workdir string) (*RunLock, error) {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workdir %s: %w", workdir, err)
	}
	path := filepath.Join(workdir, ".winestage.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (lock %s)", ErrRunLocked, path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &RunLock{f: f}, nil
}

// Release drops the lock. Safe to call on nil.
func (l *RunLock) Release() {
	if l == nil || l.f == nil {
		return
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
	l.f = nil
}
