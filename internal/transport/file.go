package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/odi-dev/odi/internal/objstore"
	"github.com/odi-dev/odi/internal/odierr"
	"github.com/odi-dev/odi/internal/refstore"
)

// fileAdapter implements Adapter directly against another workspace's
// object/ref layout on the local filesystem.
type fileAdapter struct {
	objects *objstore.Store
	refs    *refstore.Store
}

func dialFile(u *url.URL) (Adapter, error) {
	root := u.Path
	if root == "" {
		root = u.Opaque
	}
	objects, err := objstore.Open(root, nil)
	if err != nil {
		return nil, err
	}
	refs, err := refstore.Open(root, nil)
	if err != nil {
		return nil, err
	}
	return &fileAdapter{objects: objects, refs: refs}, nil
}

// ListRefs reports a tombstoned ref with hash "" rather than omitting it,
// matching Engine.localRefSnapshot's convention: the caller's classification
// (classifyForPush/classifyForPull) and Pull's delete-propagation both branch
// on an empty hash to recognize a deletion, so a ref this store has
// tombstoned must still appear in the map, not vanish from it.
func (a *fileAdapter) ListRefs(_ context.Context) (map[string]string, error) {
	names, err := a.refs.List("")
	if err != nil {
		return nil, err
	}
	names = append(names, "HEAD")
	out := make(map[string]string, len(names))
	for _, name := range names {
		e, ok, err := a.refs.Read(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if e.Tombstone {
			out[name] = ""
		} else {
			out[name] = e.Hash
		}
	}
	return out, nil
}

func (a *fileAdapter) HasObjects(_ context.Context, hashes []string) ([]bool, error) {
	out := make([]bool, len(hashes))
	for i, h := range hashes {
		ok, err := a.objects.Has(h)
		if err != nil {
			return nil, err
		}
		out[i] = ok
	}
	return out, nil
}

func (a *fileAdapter) GetObject(_ context.Context, hash string) ([]byte, error) {
	return a.objects.Get(hash)
}

func (a *fileAdapter) PutObject(_ context.Context, hash string, data []byte) error {
	got, err := a.objects.Put(data)
	if err != nil {
		return err
	}
	if got != hash {
		return fmt.Errorf("%w: object claims hash %s but hashes to %s", odierr.ErrIntegrity, hash, got)
	}
	return nil
}

// UpdateRef treats an empty newHash as a tombstone request (spec.md §4.7.2
// push step 7's "ref deletions propagate as tombstones"), since refstore
// represents deletion as a distinct write, not a CAS to an empty hash.
func (a *fileAdapter) UpdateRef(_ context.Context, name string, expectedHash, newHash string) (refstore.CASResult, string, error) {
	if newHash == "" {
		res, err := a.refs.Delete(name, expectedHash)
		return res, "", err
	}
	return a.refs.CAS(name, expectedHash, newHash)
}

func (a *fileAdapter) Close() error { return nil }
