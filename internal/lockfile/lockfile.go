// Package lockfile guards the state directory against concurrent BillPipe
// instances using an flock-based lock that the kernel releases if the
// process dies.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "billpipe.lock"

// Lock represents an active state directory lock.
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// AcquireLock attempts to acquire an exclusive lock on the state directory.
// It returns a LockError describing the conflicting process when the lock is
// already held.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Attempting to acquire lock", "lock_path", lockPath, "state_dir", stateDir)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	// Non-blocking flock fails immediately when another process holds it.
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := readHolderInfo(lockPath)
		slog.Error("Failed to acquire lock, another BillPipe instance is running",
			"error", err, "lock_path", lockPath, "holder", holder)
		return nil, &LockError{LockPath: lockPath, HolderInfo: holder, Cause: err}
	}

	if _, err := fmt.Fprintf(file, "pid=%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "error", err, "lock_path", lockPath)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

// Release releases the lock and removes the lock file.
// Safe to call multiple times.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil {
		slog.Error("Failed to remove lock file", "error", err, "lock_path", l.path)
	}

	l.acquired = false
	l.file = nil
	slog.Info("Released state directory lock", "lock_path", l.path)
	return nil
}

// LockError is returned when the lock is held by another process.
type LockError struct {
	LockPath   string
	HolderInfo string
	Cause      error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another BillPipe instance is already using this state directory (lock file: %s)", e.LockPath)
	if e.HolderInfo != "" {
		msg += fmt.Sprintf("; held by %s", e.HolderInfo)
	}
	msg += fmt.Sprintf("; remove %s only if you are sure no other instance is running", e.LockPath)
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readHolderInfo reads the existing lock file to describe the holder in
// error messages. Returns empty string when nothing useful can be read.
func readHolderInfo(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	if pid := extractPID(string(data)); pid > 0 {
		if isProcessRunning(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running, stale lock)", pid)
	}
	return strings.TrimSpace(string(data))
}

// extractPID pulls the pid=NNNN value out of lock file content.
func extractPID(content string) int {
	const pidPrefix = "pid="
	idx := strings.Index(content, pidPrefix)
	if idx == -1 {
		return 0
	}
	start := idx + len(pidPrefix)
	end := start
	for end < len(content) && content[end] >= '0' && content[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	pid, err := strconv.Atoi(content[start:end])
	if err != nil {
		return 0
	}
	return pid
}

// isProcessRunning probes a PID with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
