package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNarrativeLock_AcquireThenRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrative.lock")
	l := NewNarrativeLock(path)

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire() on a fresh path returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file was not created: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release() returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("lock file should be gone after Release()")
	}
}

func TestNarrativeLock_SecondAcquireFailsWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrative.lock")
	l1 := NewNarrativeLock(path)
	l2 := NewNarrativeLock(path)

	if err := l1.Acquire(); err != nil {
		t.Fatalf("first Acquire() failed: %v", err)
	}
	defer l1.Release()

	if err := l2.Acquire(); err != ErrLockHeld {
		t.Errorf("second Acquire() = %v, want ErrLockHeld", err)
	}
}

func TestNarrativeLock_StaleLockIsStolen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrative.lock")
	l := NewNarrativeLock(path)

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	stale := time.Now().Add(-(lockStaleAfter + time.Second))
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatalf("Chtimes() failed: %v", err)
	}

	l2 := NewNarrativeLock(path)
	if err := l2.Acquire(); err != nil {
		t.Errorf("Acquire() on a stale lock should steal it, got: %v", err)
	}
}

func TestNarrativeLock_ReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrative.lock")
	l := NewNarrativeLock(path)
	if err := l.Release(); err != nil {
		t.Errorf("Release() on a never-acquired lock should be a no-op, got: %v", err)
	}
}

func TestNewNarrativeLock_DefaultsPath(t *testing.T) {
	l := NewNarrativeLock("")
	if l.path != defaultLockPath {
		t.Errorf("path = %q, want default %q", l.path, defaultLockPath)
	}
}
