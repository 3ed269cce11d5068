// Package lockmgr implements the Lock Manager (C4): advisory, file-based
// locks over logical resource keys (spec.md §4.4), with stale-lock breaking
// and otel-backed wait metrics in the manner of the repository's dolt access
// lock.
package lockmgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/odi-dev/odi/internal/odierr"
)

const (
	// pollInterval is the fallback poll cadence when fsnotify does not
	// deliver a timely wake-up event.
	pollInterval = 100 * time.Millisecond

	// staleAge is how long a lock record may sit unacquired by a live
	// process before it is eligible to be broken.
	staleAge = 5 * time.Minute
)

// record is the on-disk JSON body of a lock file, per spec.md §4.4.
type record struct {
	PID        int   `json:"pid"`
	AcquiredMs int64 `json:"acquired_ms"`
}

// Handle represents a held lock. Release is idempotent.
type Handle struct {
	key  string
	path string
}

// Manager grants advisory locks over logical keys ("refs/issues/<uuid>",
// "sync/<remote>", "workspace", ...), rooted at R/locks.
type Manager struct {
	root string // R/locks
	log  *slog.Logger

	waitMs metric.Float64Histogram
}

// Open returns a Manager rooted at filepath.Join(workspaceRoot, "locks").
func Open(workspaceRoot string, log *slog.Logger, meter metric.Meter) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	root := filepath.Join(workspaceRoot, "locks")
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create locks dir: %v", odierr.ErrIO, err)
	}
	m := &Manager{root: root, log: log}
	if meter != nil {
		h, err := meter.Float64Histogram("odi.lock.wait_ms",
			metric.WithDescription("time spent waiting to acquire an advisory lock"))
		if err == nil {
			m.waitMs = h
		}
	}
	return m, nil
}

func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) pathFor(key string) string {
	return filepath.Join(m.root, keyHash(key)+".lock")
}

// Acquire attempts to obtain the lock for key, waiting up to timeout. A
// timeout of zero reports ErrLockBusy immediately if the lock is already
// held, per spec.md §8.
func (m *Manager) Acquire(ctx context.Context, key string, timeout time.Duration) (*Handle, error) {
	path := m.pathFor(key)
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("lock.key_hash", keyHash(key)[:12]))

	record := func(waited time.Duration) {
		if m.waitMs != nil {
			m.waitMs.Record(ctx, float64(waited.Milliseconds()), attrs)
		}
	}

	if h, err := m.tryCreate(path); err == nil {
		record(0)
		return h, nil
	} else if !errors.Is(err, odierr.ErrLockBusy) {
		return nil, err
	}

	if timeout <= 0 {
		return nil, fmt.Errorf("%w: lock %q held", odierr.ErrLockBusy, key)
	}

	if broken, err := m.breakIfStale(path); err != nil {
		return nil, err
	} else if broken {
		if h, err := m.tryCreate(path); err == nil {
			record(time.Since(start))
			return h, nil
		}
	}

	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		_ = watcher.Add(m.root)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: lock %q after %v", odierr.ErrLockTimeout, key, timeout)
		}

		var wake <-chan fsnotify.Event
		if watcher != nil {
			wake = watcher.Events
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", odierr.ErrTimeout, ctx.Err())
		case <-time.After(minDuration(remaining, pollInterval)):
		case <-wake:
		case <-ticker.C:
		}

		if h, err := m.tryCreate(path); err == nil {
			record(time.Since(start))
			return h, nil
		} else if !errors.Is(err, odierr.ErrLockBusy) {
			return nil, err
		}

		if broken, err := m.breakIfStale(path); err == nil && broken {
			if h, err := m.tryCreate(path); err == nil {
				record(time.Since(start))
				return h, nil
			}
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// tryCreate attempts the O_CREAT|O_EXCL lock-file create, writing the
// current process's record on success.
func (m *Manager) tryCreate(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 -- path derived from sha256 of logical key
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: lock file exists", odierr.ErrLockBusy)
		}
		return nil, fmt.Errorf("%w: create lock file: %v", odierr.ErrIO, err)
	}
	defer f.Close()

	rec := record{PID: os.Getpid(), AcquiredMs: time.Now().UnixMilli()}
	body, err := json.Marshal(rec)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: marshal lock record: %v", odierr.ErrIO, err)
	}
	if _, err := f.Write(body); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: write lock record: %v", odierr.ErrIO, err)
	}
	return &Handle{key: path, path: path}, nil
}

// breakIfStale removes path if its holder's PID is no longer running and
// the record is older than staleAge. Returns whether it broke the lock.
func (m *Manager) breakIfStale(path string) (bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from sha256 of logical key
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: read lock record: %v", odierr.ErrIO, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		// Unreadable record: treat conservatively, do not break.
		return false, nil
	}
	age := time.Since(time.UnixMilli(rec.AcquiredMs))
	if age < staleAge || processAlive(rec.PID) {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("%w: remove stale lock: %v", odierr.ErrIO, err)
	}
	m.log.Warn("lockmgr: broke stale lock", "path", path, "holder_pid", rec.PID, "age", age)
	return true, nil
}

// Release removes the lock file. Safe to call multiple times.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: release lock: %v", odierr.ErrIO, err)
	}
	return nil
}
