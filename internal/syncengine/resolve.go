package syncengine

import (
	"context"
	"reflect"
	"time"

	"github.com/odi-dev/odi/internal/codec"
	"github.com/odi-dev/odi/internal/config"
	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/transport"
)

// validatable matches the codec's encode-time contract; every entity kind
// this engine can merge implements it.
type validatable interface {
	Validate() error
}

// resolveDivergent handles one ref classified classDivergent: it attempts a
// per-field three-way merge, falls back to the configured conflict strategy,
// and as a last resort records a Conflict for manual resolution (spec.md
// §4.7.4). localHeadHash/remoteHeadHash are the repository-level HEAD
// values at the time of this sync; remoteHeadHash becomes the merge
// ChangeSet's second parent, while mergeChangeSet takes the first parent
// from the live local HEAD rather than from localHeadHash. When pushBack is
// true the resolution is also written to remote.
func (e *Engine) resolveDivergent(
	ctx context.Context, remote transport.Adapter, author entity.UserID,
	name, localHash, remoteHash, localHeadHash, remoteHeadHash string, pushBack bool,
) (RefStatus, error) {
	logicalID := logicalIDOf(name)

	var localVal any
	var localKind entity.Kind
	var err error
	if localHash != "" {
		localVal, localKind, err = e.objects.GetDecoded(localHash)
		if err != nil {
			return RefStatus{}, err
		}
	}
	var remoteVal any
	var remoteKind entity.Kind
	if remoteHash != "" {
		remoteVal, remoteKind, err = e.fetchDecoded(ctx, remote, remoteHash)
		if err != nil {
			return RefStatus{}, err
		}
	}

	records, err := e.changeHistory(logicalID)
	if err != nil {
		return RefStatus{}, err
	}
	ancestorHash, ancestorFound := ancestorOf(records, localHash)
	kind := localKind
	if kind == 0 {
		kind = remoteKind
	}

	structural := localHash == "" || remoteHash == "" || !ancestorFound || isStructural(ancestorHash, localKind, remoteKind)
	conflict := Conflict{
		EntityKind: kind, EntityID: logicalID,
		LocalHash: localHash, RemoteHash: remoteHash, AncestorHash: ancestorHash, Structural: structural,
	}

	if !structural {
		var ancestorVal any
		if ancestorHash != "" {
			ancestorVal, _, err = e.fetchDecoded(ctx, remote, ancestorHash)
			if err != nil {
				return RefStatus{}, err
			}
		}
		merged, fields, err := threeWayDiffFields(ancestorVal, localVal, remoteVal)
		if err != nil {
			return RefStatus{}, err
		}
		if len(fields) == 0 {
			return e.commitResolution(ctx, author, name, logicalID, kind, localHash, remoteHash, localHeadHash, remoteHeadHash, merged.(validatable), classMerged, remote, pushBack)
		}
		conflict.ConflictingFields = fields
	}

	switch e.strategy {
	case config.StrategyPreferLocal:
		if localVal == nil {
			return e.commitDelete(ctx, author, name, logicalID, kind, localHash, remoteHash, localHeadHash, remoteHeadHash, remote, pushBack)
		}
		return e.commitResolution(ctx, author, name, logicalID, kind, localHash, remoteHash, localHeadHash, remoteHeadHash, localVal.(validatable), classConflictRecorded, remote, pushBack)
	case config.StrategyPreferRemote:
		if remoteVal == nil {
			return e.commitDelete(ctx, author, name, logicalID, kind, localHash, remoteHash, localHeadHash, remoteHeadHash, remote, pushBack)
		}
		return e.commitResolution(ctx, author, name, logicalID, kind, localHash, remoteHash, localHeadHash, remoteHeadHash, remoteVal.(validatable), classConflictRecorded, remote, pushBack)
	case config.StrategyPreferNewer:
		if localVal != nil && remoteVal != nil {
			winner, ok := preferByUpdatedAt(localVal, remoteVal)
			if ok {
				return e.commitResolution(ctx, author, name, logicalID, kind, localHash, remoteHash, localHeadHash, remoteHeadHash, winner.(validatable), classConflictRecorded, remote, pushBack)
			}
		}
		// Falls through to manual: a deletion or a type without UpdatedAt
		// cannot be compared by recency.
		fallthrough
	default: // config.StrategyManual
		if err := e.conflicts.Put(conflict); err != nil {
			return RefStatus{}, err
		}
		return RefStatus{Ref: name, Class: classConflictRecorded, Conflict: &conflict}, nil
	}
}

// resolveHeadDivergence reconciles a HEAD that has advanced independently on
// both sides with no common descendant direction. Unlike an entity ref, HEAD
// is itself a ChangeSet hash rather than content an ancestor/3-way diff
// applies to: every other divergent entity ref already folds its resolution
// into HEAD via mergeChangeSet, so a HEAD-only divergence needs nothing more
// than an empty merge commit joining the two chains.
func (e *Engine) resolveHeadDivergence(ctx context.Context, remote transport.Adapter, author entity.UserID, localHeadHash, remoteHeadHash string, pushBack bool) (RefStatus, error) {
	newHash, err := e.mergeChangeSet(ctx, author, localHeadHash, remoteHeadHash)
	if err != nil {
		return RefStatus{}, err
	}
	if pushBack {
		full, err := e.objects.Get(newHash)
		if err != nil {
			return RefStatus{}, err
		}
		if err := remote.PutObject(ctx, newHash, full); err != nil {
			return RefStatus{}, err
		}
		if _, _, err := remote.UpdateRef(ctx, "HEAD", remoteHeadHash, newHash); err != nil {
			return RefStatus{}, err
		}
	}
	return RefStatus{Ref: "HEAD", Class: classMerged}, nil
}

// preferByUpdatedAt picks the struct with the strictly-later UpdatedAt
// field, tie-breaking to local (spec.md §4.7.4 "prefer_newer"). ok is false
// if either value lacks a recognizable UpdatedAt field.
func preferByUpdatedAt(local, remote any) (any, bool) {
	lt, lok := updatedAtOf(local)
	rt, rok := updatedAtOf(remote)
	if !lok || !rok {
		return nil, false
	}
	if rt.After(lt) {
		return remote, true
	}
	return local, true
}

func updatedAtOf(v any) (time.Time, bool) {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return time.Time{}, false
	}
	f := rv.FieldByName("UpdatedAt")
	if !f.IsValid() {
		return time.Time{}, false
	}
	t, ok := f.Interface().(time.Time)
	return t, ok
}

// commitResolution writes the resolved entity locally (and to remote when
// pushBack is set) and advances HEAD with a two-parent merge ChangeSet.
func (e *Engine) commitResolution(
	ctx context.Context, author entity.UserID, name, logicalID string, kind entity.Kind,
	localHash, remoteHash, localHeadHash, remoteHeadHash string, resolved validatable,
	class refClass, remote transport.Adapter, pushBack bool,
) (RefStatus, error) {
	full, _, err := encodeValidated(resolved)
	if err != nil {
		return RefStatus{}, err
	}
	newHash, err := e.objects.Put(full)
	if err != nil {
		return RefStatus{}, err
	}

	if newHash != localHash {
		if _, _, err := e.refs.CAS(name, localHash, newHash); err != nil {
			return RefStatus{}, err
		}
	}

	if _, err := e.mergeChangeSet(ctx, author, localHeadHash, remoteHeadHash, entity.ChangeRecord{
		Kind: kind, LogicalID: logicalID, PriorHash: localHash, NewHash: newHash, Type: entity.ChangeModify,
	}); err != nil {
		return RefStatus{}, err
	}

	if pushBack {
		if newHash != remoteHash {
			if err := remote.PutObject(ctx, newHash, full); err != nil {
				return RefStatus{}, err
			}
		}
		if _, _, err := remote.UpdateRef(ctx, name, remoteHash, newHash); err != nil {
			return RefStatus{}, err
		}
	}

	if err := e.conflicts.Delete(logicalID); err != nil {
		return RefStatus{}, err
	}
	return RefStatus{Ref: name, Class: class}, nil
}

// commitDelete resolves a divergent ref in favor of deletion.
func (e *Engine) commitDelete(
	ctx context.Context, author entity.UserID, name, logicalID string, kind entity.Kind,
	localHash, remoteHash, localHeadHash, remoteHeadHash string, remote transport.Adapter, pushBack bool,
) (RefStatus, error) {
	if localHash != "" {
		if _, err := e.refs.Delete(name, localHash); err != nil {
			return RefStatus{}, err
		}
	}
	if _, err := e.mergeChangeSet(ctx, author, localHeadHash, remoteHeadHash, entity.ChangeRecord{
		Kind: kind, LogicalID: logicalID, PriorHash: localHash, NewHash: "", Type: entity.ChangeDelete,
	}); err != nil {
		return RefStatus{}, err
	}
	if pushBack {
		if _, _, err := remote.UpdateRef(ctx, name, remoteHash, ""); err != nil {
			return RefStatus{}, err
		}
	}
	if err := e.conflicts.Delete(logicalID); err != nil {
		return RefStatus{}, err
	}
	return RefStatus{Ref: name, Class: classConflictRecorded}, nil
}

// encodeValidated encodes a resolved entity, mirroring
// internal/repo.putValidated's validate-then-encode step (codec.Encode
// already calls Validate internally; this just gives the call site a name
// that matches what it is doing here).
func encodeValidated(v validatable) ([]byte, entity.Kind, error) {
	return codec.Encode(v)
}
