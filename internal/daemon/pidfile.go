package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const pidFilename = "webdog.pid"

// WritePID records the current process ID under dataDir, creating the
// directory if needed. An existing PID file is overwritten; callers are
// expected to have checked IsRunning first.
func WritePID(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory for PID file: %w", err)
	}

	path := filepath.Join(dataDir, pidFilename)
	body := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("writing PID file %s: %w", path, err)
	}
	return nil
}

// ReadPID returns the process ID recorded under dataDir.
func ReadPID(dataDir string) (int, error) {
	path := filepath.Join(dataDir, pidFilename)

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing PID from %s: %w", path, err)
	}
	return pid, nil
}

// RemovePID deletes the PID file under dataDir. A missing file is not an
// error, so it is safe to call on every shutdown path.
func RemovePID(dataDir string) error {
	path := filepath.Join(dataDir, pidFilename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing PID file %s: %w", path, err)
	}
	return nil
}

// IsRunning reports whether the PID file under dataDir names a live process.
func IsRunning(dataDir string) bool {
	pid, err := ReadPID(dataDir)
	return err == nil && isProcessAlive(pid)
}

// isProcessAlive probes pid with signal 0, which tests for existence
// without delivering anything. Non-positive PIDs would address the whole
// process group, so they are rejected outright.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(unix.Signal(0)) == nil
}
