package syncengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/odi-dev/odi/internal/entity"
)

// Conflict is a divergent ref that could not be auto-merged, persisted under
// R/locks/conflicts/ pending resolution (spec.md §4.7.4). Conflicts are
// transient working state, not a durable object kind, so they live outside
// the object store rather than taking up a Kind.
type Conflict struct {
	EntityKind        entity.Kind
	EntityID          string
	LocalHash         string
	RemoteHash        string
	AncestorHash      string // empty for a structural conflict
	Structural        bool
	ConflictingFields []ConflictingField `json:",omitempty"`
}

// conflictStore persists Conflict records as JSON files under
// R/locks/conflicts/<entityID>.json.
type conflictStore struct {
	dir string
}

func openConflictStore(workspaceRoot string) (*conflictStore, error) {
	dir := filepath.Join(workspaceRoot, "locks", "conflicts")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conflicts dir: %w", err)
	}
	return &conflictStore{dir: dir}, nil
}

func (c *conflictStore) path(entityID string) string {
	return filepath.Join(c.dir, entityID+".json")
}

func (c *conflictStore) Put(conflict Conflict) error {
	data, err := json.MarshalIndent(conflict, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(conflict.EntityID), data, 0o600)
}

func (c *conflictStore) Get(entityID string) (Conflict, bool, error) {
	data, err := os.ReadFile(c.path(entityID)) // #nosec G304 -- entityID is an internal logical id
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Conflict{}, false, nil
		}
		return Conflict{}, false, err
	}
	var conflict Conflict
	if err := json.Unmarshal(data, &conflict); err != nil {
		return Conflict{}, false, err
	}
	return conflict, true, nil
}

func (c *conflictStore) Delete(entityID string) error {
	err := os.Remove(c.path(entityID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every pending conflict.
func (c *conflictStore) List() ([]Conflict, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Conflict
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, e.Name())) // #nosec G304 -- directory entries from our own conflicts dir
		if err != nil {
			return nil, err
		}
		var conflict Conflict
		if err := json.Unmarshal(data, &conflict); err != nil {
			return nil, err
		}
		out = append(out, conflict)
	}
	return out, nil
}
