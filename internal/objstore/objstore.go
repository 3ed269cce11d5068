// Package objstore implements the Object Store (C2): content-addressed,
// fan-out on-disk storage of compressed object blobs, with crash-atomic
// writes (spec.md §4.2, §6).
package objstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/odi-dev/odi/internal/codec"
	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/odierr"
)

// Store is a content-addressed blob store rooted at a workspace directory's
// "objects" subdirectory.
type Store struct {
	root string // R/objects
	log  *slog.Logger
}

// Open returns a Store rooted at filepath.Join(workspaceRoot, "objects"),
// creating the directory if necessary.
func Open(workspaceRoot string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	root := filepath.Join(workspaceRoot, "objects")
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create objects dir: %v", odierr.ErrIO, err)
	}
	return &Store{root: root, log: log}, nil
}

// Hash returns the lowercase hex SHA-256 of the full on-disk byte sequence
// (header + compressed payload), per spec.md §4.2/§6.
func Hash(fullBytes []byte) string {
	sum := sha256.Sum256(fullBytes)
	return hex.EncodeToString(sum[:])
}

func (s *Store) path(hash string) (string, error) {
	if len(hash) != 64 {
		return "", fmt.Errorf("%w: hash %q must be 64 hex characters", odierr.ErrInvalidIdentifier, hash)
	}
	return filepath.Join(s.root, hash[:2], hash[2:]), nil
}

// Put writes fullBytes (the complete codec.Encode output) under its content
// hash. If an object with that hash already exists, Put is a no-op
// (deduplication) and returns the existing hash.
func (s *Store) Put(fullBytes []byte) (string, error) {
	hash := Hash(fullBytes)
	target, err := s.path(hash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err == nil {
		s.log.Debug("objstore: object already present, skipping write", "hash", hash)
		return hash, nil
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: mkdir fan-out dir: %v", odierr.ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp object file: %v", odierr.ErrIO, err)
	}
	tmpPath := tmp.Name()
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(fullBytes); err != nil {
		return "", fmt.Errorf("%w: write temp object file: %v", odierr.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("%w: fsync temp object file: %v", odierr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close temp object file: %v", odierr.ErrIO, err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		if os.IsExist(err) {
			// Lost a dedup race: another writer created it first. Fine.
			cleanupTmp = true
			return hash, nil
		}
		return "", fmt.Errorf("%w: rename temp object into place: %v", odierr.ErrIO, err)
	}
	cleanupTmp = false
	s.log.Debug("objstore: wrote object", "hash", hash, "bytes", len(fullBytes))
	return hash, nil
}

// Has reports whether an object with the given hash is present, without
// reading its content.
func (s *Store) Has(hash string) (bool, error) {
	target, err := s.path(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat object: %v", odierr.ErrIO, err)
}

// Get reads the full on-disk bytes for hash and verifies they hash back to
// the requested identifier, per invariant 3 of spec.md §3.
func (s *Store) Get(hash string) ([]byte, error) {
	target, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target) // #nosec G304 -- target is derived from a validated hex hash
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: object %s not found", odierr.ErrUnknownEntity, hash)
		}
		return nil, fmt.Errorf("%w: read object: %v", odierr.ErrIO, err)
	}
	if got := Hash(data); got != hash {
		return nil, fmt.Errorf("%w: object %s hashes to %s on read", odierr.ErrCorruption, hash, got)
	}
	return data, nil
}

// GetDecoded reads and decodes the object at hash into its typed entity
// value via the Object Codec (C1).
func (s *Store) GetDecoded(hash string) (any, entity.Kind, error) {
	raw, err := s.Get(hash)
	if err != nil {
		return nil, 0, err
	}
	return codec.Decode(raw)
}

// kindOf peeks only the fixed header of an on-disk object to classify it,
// without decompressing or validating the payload.
func (s *Store) kindOf(hash string) (entity.Kind, error) {
	target, err := s.path(hash)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(target) // #nosec G304 -- target is derived from a validated hex hash
	if err != nil {
		return 0, err
	}
	defer f.Close()
	// magic(4) + compressor(1) + version(2) + kind(2), no need to read payload_length.
	buf := make([]byte, 9)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, err
	}
	return entity.Kind(uint16(buf[7])<<8 | uint16(buf[8])), nil
}

// Enumerate walks the fan-out directories and returns every object hash
// present, optionally filtered to a single kind (which requires reading
// each candidate's header).
func (s *Store) Enumerate(kindFilter *entity.Kind) ([]string, error) {
	var hashes []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Dir(filepath.Dir(path)) != s.root {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		hash := filepath.Base(filepath.Dir(path)) + filepath.Base(rel)
		if len(hash) != 64 {
			return nil
		}
		if kindFilter != nil {
			k, err := s.kindOf(hash)
			if err != nil || k != *kindFilter {
				return nil
			}
		}
		hashes = append(hashes, hash)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate objects: %v", odierr.ErrIO, err)
	}
	return hashes, nil
}

// Delete removes an object file. Objects are otherwise immutable; Delete
// exists only for garbage collection of unreachable objects, never for
// mutation.
func (s *Store) Delete(hash string) error {
	target, err := s.path(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete object: %v", odierr.ErrIO, err)
	}
	return nil
}
