// Package refstore implements the Reference Store (C3): mutable name->hash
// mappings with compare-and-swap semantics and tombstone propagation
// (spec.md §4.3, §6).
package refstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/odi-dev/odi/internal/odierr"
)

// tombstoneMarker is the single-byte content (before the trailing newline)
// that marks a ref as logically deleted, per spec.md §4.3/§6.
const tombstoneMarker = 0x00

var hexHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// CASResult is the outcome of a compare-and-swap ref update.
type CASResult int

const (
	Updated CASResult = iota
	Conflict
)

// Entry is the parsed content of a ref file.
type Entry struct {
	Hash      string // valid 64-hex hash; empty if Tombstone is true
	Tombstone bool
}

// Store manages ref files rooted at a workspace directory, plus the mirrored
// tombstone subtree at refs/tombstones/.
type Store struct {
	root string // workspace root R
	log  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-ref in-process lock, keyed by ref name
}

// Open returns a Store rooted at workspaceRoot.
func Open(workspaceRoot string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(workspaceRoot, "refs"), 0o750); err != nil {
		return nil, fmt.Errorf("%w: create refs dir: %v", odierr.ErrIO, err)
	}
	return &Store{root: workspaceRoot, log: log, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) refLock(ref string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[ref]
	if !ok {
		m = &sync.Mutex{}
		s.locks[ref] = m
	}
	return m
}

// path maps a logical ref name (e.g. "issues/<uuid>", "HEAD",
// "remotes/origin/head") to its on-disk path. "HEAD" is special-cased to
// R/HEAD; everything else lives under R/refs/.
func (s *Store) path(ref string) string {
	if ref == "HEAD" {
		return filepath.Join(s.root, "HEAD")
	}
	return filepath.Join(s.root, "refs", filepath.FromSlash(ref))
}

func (s *Store) tombstonePath(ref string) string {
	return filepath.Join(s.root, "refs", "tombstones", filepath.FromSlash(ref))
}

func parseEntry(data []byte) (Entry, error) {
	line := strings.TrimSuffix(string(data), "\n")
	if len(data) > 0 && data[0] == tombstoneMarker {
		return Entry{Tombstone: true}, nil
	}
	if !hexHashPattern.MatchString(line) {
		return Entry{}, fmt.Errorf("%w: ref content %q is not a 64-hex hash", odierr.ErrCorruption, line)
	}
	return Entry{Hash: line}, nil
}

func encodeEntry(e Entry) []byte {
	if e.Tombstone {
		return []byte{tombstoneMarker, '\n'}
	}
	return []byte(e.Hash + "\n")
}

// Read returns the current entry for ref, or (Entry{}, false, nil) if the
// ref does not exist at all (never written).
func (s *Store) Read(ref string) (Entry, bool, error) {
	data, err := os.ReadFile(s.path(ref)) // #nosec G304 -- ref is an internal logical name, not attacker input
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("%w: read ref %s: %v", odierr.ErrIO, ref, err)
	}
	e, err := parseEntry(data)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", odierr.ErrIO, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp ref file: %v", odierr.ErrIO, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // best effort; no-op once renamed
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp ref file: %v", odierr.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: fsync temp ref file: %v", odierr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp ref file: %v", odierr.ErrIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename ref into place: %v", odierr.ErrIO, err)
	}
	return nil
}

// CAS atomically updates ref from expectedHash to newHash. expectedHash
// may be empty to mean "ref must not currently exist / must be absent or
// tombstoned". Equal expected and new hashes is a no-op that still reports
// Updated (spec.md §8 idempotence law).
func (s *Store) CAS(ref, expectedHash, newHash string) (CASResult, string, error) {
	lock := s.refLock(ref)
	lock.Lock()
	defer lock.Unlock()

	current, exists, err := s.Read(ref)
	if err != nil {
		return Conflict, "", err
	}
	currentHash := ""
	if exists && !current.Tombstone {
		currentHash = current.Hash
	}
	if currentHash != expectedHash {
		return Conflict, currentHash, nil
	}
	if err := atomicWrite(s.path(ref), encodeEntry(Entry{Hash: newHash})); err != nil {
		return Conflict, "", err
	}
	s.log.Debug("refstore: cas updated", "ref", ref, "from", expectedHash, "to", newHash)
	return Updated, newHash, nil
}

// Delete writes a tombstone at ref (rather than unlinking), mirrored under
// refs/tombstones/ so sync can propagate the deletion (spec.md §4.3).
func (s *Store) Delete(ref, expectedHash string) (CASResult, error) {
	lock := s.refLock(ref)
	lock.Lock()
	defer lock.Unlock()

	current, exists, err := s.Read(ref)
	if err != nil {
		return Conflict, err
	}
	currentHash := ""
	if exists && !current.Tombstone {
		currentHash = current.Hash
	}
	if currentHash != expectedHash {
		return Conflict, nil
	}
	tomb := encodeEntry(Entry{Tombstone: true})
	if err := atomicWrite(s.path(ref), tomb); err != nil {
		return Conflict, err
	}
	if err := atomicWrite(s.tombstonePath(ref), tomb); err != nil {
		return Conflict, err
	}
	s.log.Debug("refstore: tombstoned", "ref", ref)
	return Updated, nil
}

// List returns every ref name (logical, slash-separated, relative to refs/)
// whose name has the given prefix. HEAD is never included; List is scoped
// to refs/.
func (s *Store) List(prefix string) ([]string, error) {
	base := filepath.Join(s.root, "refs")
	var out []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, "tombstones/") {
			return nil
		}
		if prefix == "" || strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list refs: %v", odierr.ErrIO, err)
	}
	return out, nil
}
