package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireWritesOwnPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilightd.pid")
	if err := Acquire(path); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pidfile: %v", err)
	}
	pid, err := strconv.Atoi(string(data[:len(data)-1]))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("pidfile contents = %q, want pid %d", data, os.Getpid())
	}
}

func TestAcquireTreatsStalePIDAsSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilightd.pid")
	// PID 1 belongs to init on any POSIX box running this test, which this
	// process cannot signal without privilege in a container — instead use
	// an implausibly large PID that is virtually guaranteed unassigned.
	if err := os.WriteFile(path, []byte("999999\n"), 0o644); err != nil {
		t.Fatalf("seed stale pidfile: %v", err)
	}
	if err := Acquire(path); err != nil {
		t.Fatalf("Acquire should treat an unassigned pid as stale, got: %v", err)
	}
}

func TestAcquireRejectsLivePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilightd.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("seed live pidfile: %v", err)
	}
	if err := Acquire(path); err == nil {
		t.Fatalf("Acquire should reject a pidfile naming this live process")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilightd.pid")
	if err := Acquire(path); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := Release(path); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := Release(path); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}
