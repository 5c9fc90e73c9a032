package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPIDRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}

	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPID got %d, want %d", pid, os.Getpid())
	}

	if err := RemovePID(dir); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, pidFilename)); !os.IsNotExist(err) {
		t.Error("PID file still exists after RemovePID")
	}
}

func TestWritePID_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "webdog")

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID with missing data dir: %v", err)
	}

	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("got PID %d, want %d", pid, os.Getpid())
	}
}

func TestReadPID_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadPID(t.TempDir()); err == nil {
			t.Fatal("expected error reading nonexistent PID file")
		}
	})

	t.Run("garbage content", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte("not-a-number"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := ReadPID(dir); err == nil {
			t.Fatal("expected error parsing invalid PID")
		}
	})
}

func TestRemovePID_NoFile(t *testing.T) {
	// Removing a PID file that was never written is not an error.
	if err := RemovePID(t.TempDir()); err != nil {
		t.Fatalf("RemovePID on nonexistent file: %v", err)
	}
}

func TestIsRunning(t *testing.T) {
	t.Run("own process", func(t *testing.T) {
		dir := t.TempDir()
		if err := WritePID(dir); err != nil {
			t.Fatalf("WritePID: %v", err)
		}
		if !IsRunning(dir) {
			t.Error("IsRunning returned false for our own PID")
		}
	})

	t.Run("no file", func(t *testing.T) {
		if IsRunning(t.TempDir()) {
			t.Error("IsRunning returned true with no PID file")
		}
	})

	t.Run("dead process", func(t *testing.T) {
		dir := t.TempDir()
		// A PID this high is almost certainly unused. The assertion is
		// soft since PID allocation is up to the OS; we mainly verify
		// the liveness probe does not panic on a stale file.
		if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte(strconv.Itoa(99999)), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		_ = IsRunning(dir)
	})
}
