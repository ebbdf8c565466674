package atomicio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is the process-wide advisory exclusive lock held around every
// mutating operation against a root: only one lpm process may
// hold it at a time, and the lock file records the owning PID so a stale
// holder (crashed process, lock file left behind) can be diagnosed instead
// of silently deadlocking every future invocation.
type Lock struct {
	path string
	file *os.File
}

// LockError reports that another process (identified by PID, best-effort)
// already holds the lock.
type LockError struct {
	Path      string
	HolderPID int
}

func (e *LockError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("lock %s held by pid %d", e.Path, e.HolderPID)
	}
	return fmt.Sprintf("lock %s held by another process", e.Path)
}

// Acquire takes the exclusive lock at path, writing this process's PID into
// the lock file on success. Non-blocking: returns *LockError immediately if
// another process holds it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder, _ := readPID(path)
		f.Close()
		return nil, &LockError{Path: path, HolderPID: holder}
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating lock file %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing pid to lock file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("fsync lock file %s: %w", path, err)
	}
	return &Lock{path: path, file: f}, nil
}

// Release drops the lock. The lock file itself is left in place (it is
// reused, not deleted, by the next Acquire) so its PID is always readable
// for diagnostics.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	return l.file.Close()
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path) // #nosec G304 - internal lock file, not user input
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}
