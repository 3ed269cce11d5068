package lockmgr

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odi-dev/odi/internal/odierr"
)

func TestAcquireRelease(t *testing.T) {
	m, err := Open(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	h, err := m.Acquire(context.Background(), "workspace", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Release(); err != nil {
		t.Fatal(err)
	}
	// Reacquiring after release must succeed.
	h2, err := m.Acquire(context.Background(), "workspace", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_ = h2.Release()
}

func TestAcquireZeroTimeoutBusy(t *testing.T) {
	m, err := Open(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	h, err := m.Acquire(context.Background(), "sync/origin", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	_, err = m.Acquire(context.Background(), "sync/origin", 0)
	if !errors.Is(err, odierr.ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy, got %v", err)
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	m, err := Open(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	h, err := m.Acquire(context.Background(), "refs/issues/abc", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	_, err = m.Acquire(context.Background(), "refs/issues/abc", 150*time.Millisecond)
	if !errors.Is(err, odierr.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestStaleLockIsBroken(t *testing.T) {
	root := t.TempDir()
	m, err := Open(root, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	path := m.pathFor("workspace")
	rec := record{PID: deadPID(), AcquiredMs: time.Now().Add(-10 * time.Minute).UnixMilli()}
	body, _ := json.Marshal(rec)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	h, err := m.Acquire(context.Background(), "workspace", 2*time.Second)
	if err != nil {
		t.Fatalf("expected stale lock to be broken and reacquired, got %v", err)
	}
	_ = h.Release()
}

func TestFreshLockFromDeadPIDIsNotBroken(t *testing.T) {
	root := t.TempDir()
	m, err := Open(root, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	path := m.pathFor("workspace")
	rec := record{PID: deadPID(), AcquiredMs: time.Now().UnixMilli()}
	body, _ := json.Marshal(rec)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = m.Acquire(context.Background(), "workspace", 200*time.Millisecond)
	if !errors.Is(err, odierr.ErrLockTimeout) {
		t.Fatalf("expected lock to remain held despite dead PID (not yet stale-aged), got %v", err)
	}
}

// deadPID returns a PID almost certainly not in use.
func deadPID() int {
	return 1 << 30
}

func TestKeyHashIsStableAndFileLocation(t *testing.T) {
	root := t.TempDir()
	m, err := Open(root, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	h, err := m.Acquire(context.Background(), "refs/issues/xyz", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	want := filepath.Join(root, "locks", keyHash("refs/issues/xyz")+".lock")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected lock file at %s: %v", want, err)
	}
}
