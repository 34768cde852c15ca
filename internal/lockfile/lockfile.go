// Package lockfile guards a state directory so that a single engine instance
// owns its SQLite store and whatsmeow session. The lock is an flock on a file
// in the directory; the kernel drops it when the process dies.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "bbta.lock"

// Owner describes the process holding a lock. It is written into the lock
// file so that a second instance can say who it collided with.
type Owner struct {
	PID       int
	Transport string
	Started   time.Time
}

func (o Owner) encode() string {
	return fmt.Sprintf("pid=%d\ntransport=%s\nstarted=%s\n", o.PID, o.Transport, o.Started.UTC().Format(time.RFC3339))
}

// parseOwner reads the key=value lines written by encode. Unknown keys are
// ignored; ok is false when no pid was found.
func parseOwner(content string) (owner Owner, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, found := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !found {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				owner.PID = pid
				ok = true
			}
		case "transport":
			owner.Transport = value
		case "started":
			owner.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return owner, ok
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the lock on stateDir for the current process. It fails
// fast with a *LockError when another live process holds it.
func AcquireLock(stateDir, transport string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	lockPath := filepath.Join(stateDir, LockFileName)

	// O_TRUNC would wipe the owner's details before we know we won.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lerr := &LockError{LockPath: lockPath, Cause: err}
		if data, readErr := os.ReadFile(lockPath); readErr == nil {
			lerr.Owner, lerr.OwnerKnown = parseOwner(string(data))
		}
		slog.Error("lockfile.AcquireLock: state directory is locked", "lock_path", lockPath, "owner_pid", lerr.Owner.PID)
		return nil, lerr
	}

	owner := Owner{PID: os.Getpid(), Transport: transport, Started: time.Now()}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock owner to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: state directory locked", "lock_path", lockPath, "pid", owner.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(owner.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err, "lock_path", file.Name())
	}
	return nil
}

// Release drops the lock and removes the lock file. Calling it twice is a
// no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: unlock failed", "error", err, "lock_path", l.path)
	}
	closeErr := l.file.Close()
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: could not remove lock file", "error", err, "lock_path", l.path)
	}
	slog.Debug("Lock.Release: state directory unlocked", "lock_path", l.path)
	return closeErr
}

// LockError reports a lock held by another process.
type LockError struct {
	LockPath   string
	Owner      Owner
	OwnerKnown bool
	Cause      error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state directory is in use by another bbta instance (lock file %s)", e.LockPath)
	if e.OwnerKnown {
		state := "running"
		if !isProcessRunning(e.Owner.PID) {
			state = "not running, stale lock"
		}
		fmt.Fprintf(&b, ": pid %d (%s)", e.Owner.PID, state)
		if e.Owner.Transport != "" {
			fmt.Fprintf(&b, ", transport %s", e.Owner.Transport)
		}
		if !e.Owner.Started.IsZero() {
			fmt.Fprintf(&b, ", started %s", e.Owner.Started.Format(time.RFC3339))
		}
	}
	fmt.Fprintf(&b, "; remove %s only if no other instance uses this directory", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
