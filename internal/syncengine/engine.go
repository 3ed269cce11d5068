package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odi-dev/odi/internal/codec"
	"github.com/odi-dev/odi/internal/config"
	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/events"
	"github.com/odi-dev/odi/internal/lockmgr"
	"github.com/odi-dev/odi/internal/objstore"
	"github.com/odi-dev/odi/internal/odierr"
	"github.com/odi-dev/odi/internal/refstore"
	"github.com/odi-dev/odi/internal/transport"
)

// hasObjectsBatchSize bounds each has_objects round trip (spec.md §4.7.2
// step 4).
const hasObjectsBatchSize = 256

// maxRefRetries bounds the retry-from-step-2-on-conflict loop of spec.md
// §4.7.2 step 8.
const maxRefRetries = 5

// uploadConcurrency bounds concurrent PutObject calls during a push.
const uploadConcurrency = 8

// Engine is the Sync Engine (C7): it drives a transport.Adapter against the
// local object/ref/lock triad, independent of the Repository Facade (C6).
type Engine struct {
	objects *objstore.Store
	refs    *refstore.Store
	locks   *lockmgr.Manager

	conflicts *conflictStore
	strategy  config.ConflictStrategy
	log       *slog.Logger
	events    *events.Broker
}

// SetEvents attaches a broker other sync/mutation outcomes also publish to,
// so one subscriber can observe both a Repository's CRUD and its Engine's
// Push/Pull outcomes on the same channel.
func (e *Engine) SetEvents(b *events.Broker) { e.events = b }

// publishRef reports one resolved ref's outcome on the event stream.
func (e *Engine) publishRef(author entity.UserID, rs RefStatus) {
	typ := events.SyncRefResolved
	if rs.Class == classConflictRecorded {
		typ = events.SyncConflict
	}
	e.events.Publish(events.Event{
		Type: typ, Author: author, Ref: rs.Ref, Class: rs.Class.String(),
	})
}

// Open wires the engine against a workspace root.
func Open(workspaceRoot string, strategy config.ConflictStrategy, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	objects, err := objstore.Open(workspaceRoot, log)
	if err != nil {
		return nil, err
	}
	refs, err := refstore.Open(workspaceRoot, log)
	if err != nil {
		return nil, err
	}
	locks, err := lockmgr.Open(workspaceRoot, log, nil)
	if err != nil {
		return nil, err
	}
	conflicts, err := openConflictStore(workspaceRoot)
	if err != nil {
		return nil, err
	}
	if strategy == "" {
		strategy = config.StrategyManual
	}
	return &Engine{objects: objects, refs: refs, locks: locks, conflicts: conflicts, strategy: strategy, log: log}, nil
}

// RefStatus reports how one ref fared during a push or pull.
type RefStatus struct {
	Ref      string
	Class    refClass
	Conflict *Conflict
	Err      error
}

// Result summarizes a completed push or pull.
type Result struct {
	Refs []RefStatus
}

type refClass int

const (
	classSkip refClass = iota
	classFastForwardAdd
	classFastForwardUpdate
	classDivergent
	classConflictRecorded
	classMerged
)

func (c refClass) String() string {
	switch c {
	case classSkip:
		return "up-to-date"
	case classFastForwardAdd:
		return "added"
	case classFastForwardUpdate:
		return "updated"
	case classDivergent:
		return "divergent"
	case classConflictRecorded:
		return "conflict"
	case classMerged:
		return "merged"
	default:
		return "unknown"
	}
}

// Conflicts returns every pending conflict recorded by a previous sync.
func (e *Engine) Conflicts() ([]Conflict, error) {
	return e.conflicts.List()
}

// localRefSnapshot reads every local ref (refs/* plus HEAD) into a plain map,
// using "" to mean tombstoned.
func (e *Engine) localRefSnapshot() (map[string]string, error) {
	names, err := e.refs.List("")
	if err != nil {
		return nil, err
	}
	names = append(names, "HEAD")
	out := make(map[string]string, len(names))
	for _, name := range names {
		entry, exists, err := e.refs.Read(name)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		if entry.Tombstone {
			out[name] = ""
		} else {
			out[name] = entry.Hash
		}
	}
	return out, nil
}

// changeHistory walks the local ChangeSet chain from HEAD, returning every
// ChangeRecord touching logicalID, most-recent-first along the chain this
// engine walked down.
func (e *Engine) changeHistory(logicalID string) ([]entity.ChangeRecord, error) {
	head, exists, err := e.refs.Read("HEAD")
	if err != nil || !exists || head.Tombstone {
		return nil, err
	}
	var records []entity.ChangeRecord
	seen := map[string]bool{}
	var walk func(csHash string) error
	walk = func(csHash string) error {
		if csHash == "" || seen[csHash] {
			return nil
		}
		seen[csHash] = true
		v, kind, err := e.objects.GetDecoded(csHash)
		if err != nil {
			return err
		}
		if kind != entity.KindChangeSet {
			return nil
		}
		cs := v.(*entity.ChangeSet)
		for _, rec := range cs.Changes {
			if rec.LogicalID == logicalID {
				records = append(records, rec)
			}
		}
		for _, p := range cs.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(head.Hash); err != nil {
		return nil, err
	}
	return records, nil
}

// isAncestor reports whether hash appears anywhere in logicalID's locally
// known history, i.e. whether local HEAD is a descendant of a state where
// this entity held that hash (spec.md §4.7.2 step 3). Both call sites only
// invoke this once the other side is known to hold a ref (remoteHas/localHas
// is true), so an empty hash here always means "that side's ref is a
// tombstone," never "that side never had this ref" — it must be matched
// against an actual delete record (NewHash/PriorHash == "") like any other
// value, not treated as trivially true, or a one-side delete would be
// misclassified as a safe fast-forward and resurrect the deleted entity.
func isAncestor(records []entity.ChangeRecord, hash string) bool {
	for _, r := range records {
		if r.NewHash == hash || r.PriorHash == hash {
			return true
		}
	}
	return false
}

// ancestorOf returns the hash logicalID held immediately before it became
// currentHash, for use as the three-way merge base. found is false if
// currentHash was never recorded as a NewHash in local history (e.g. it is
// purely a remote-side hash this workspace never produced).
func ancestorOf(records []entity.ChangeRecord, currentHash string) (hash string, found bool) {
	for _, r := range records {
		if r.NewHash == currentHash {
			return r.PriorHash, true
		}
	}
	return "", false
}

// fetchDecoded decodes hash from the local object store if present, else
// fetches and decodes it from remote without persisting it locally. Used
// only for ancestry checks, where we must inspect a changeset the local
// store may not have yet.
func (e *Engine) fetchDecoded(ctx context.Context, remote transport.Adapter, hash string) (any, entity.Kind, error) {
	if has, err := e.objects.Has(hash); err == nil && has {
		return e.objects.GetDecoded(hash)
	}
	data, err := remote.GetObject(ctx, hash)
	if err != nil {
		return nil, 0, err
	}
	return codec.Decode(data)
}

// remoteChangeHistory mirrors changeHistory but walks a ChangeSet chain
// fetched from remote starting at remoteHead, for pull-side ancestry checks
// against a logical entity id.
func (e *Engine) remoteChangeHistory(ctx context.Context, remote transport.Adapter, remoteHead, logicalID string) ([]entity.ChangeRecord, error) {
	if remoteHead == "" {
		return nil, nil
	}
	var records []entity.ChangeRecord
	seen := map[string]bool{}
	var walk func(h string) error
	walk = func(h string) error {
		if h == "" || seen[h] {
			return nil
		}
		seen[h] = true
		v, kind, err := e.fetchDecoded(ctx, remote, h)
		if err != nil {
			return err
		}
		if kind != entity.KindChangeSet {
			return nil
		}
		cs := v.(*entity.ChangeSet)
		for _, rec := range cs.Changes {
			if rec.LogicalID == logicalID {
				records = append(records, rec)
			}
		}
		for _, p := range cs.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(remoteHead); err != nil {
		return nil, err
	}
	return records, nil
}

// isAncestorAcross reports whether candidate is reachable by walking of's
// ChangeSet.Parents chain, fetching changesets from remote as needed. It is
// used to classify HEAD itself: a ref whose value is a ChangeSet hash, not
// an entity hash, so the per-logicalID changeHistory walk does not apply.
func (e *Engine) isAncestorAcross(ctx context.Context, remote transport.Adapter, candidate, of string) (bool, error) {
	if candidate == "" || candidate == of {
		return true, nil
	}
	seen := map[string]bool{}
	var walk func(h string) (bool, error)
	walk = func(h string) (bool, error) {
		if h == "" || seen[h] {
			return false, nil
		}
		seen[h] = true
		if h == candidate {
			return true, nil
		}
		v, kind, err := e.fetchDecoded(ctx, remote, h)
		if err != nil {
			return false, err
		}
		if kind != entity.KindChangeSet {
			return false, nil
		}
		cs := v.(*entity.ChangeSet)
		for _, p := range cs.Parents {
			ok, err := walk(p)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return walk(of)
}

// reachable returns the transitive closure of object hashes needed to make
// sense of hash: for a ChangeSet, its ancestor chain and every entity object
// it references; for a leaf entity object, just itself.
func (e *Engine) reachable(hash string) (map[string]bool, error) {
	out := map[string]bool{}
	var walk func(h string) error
	walk = func(h string) error {
		if h == "" || out[h] {
			return nil
		}
		out[h] = true
		v, kind, err := e.objects.GetDecoded(h)
		if err != nil {
			return err
		}
		if kind != entity.KindChangeSet {
			return nil
		}
		cs := v.(*entity.ChangeSet)
		for _, p := range cs.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		for _, rec := range cs.Changes {
			if rec.NewHash != "" {
				if err := walk(rec.NewHash); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(hash); err != nil {
		return nil, err
	}
	return out, nil
}

// uploadMissing sends every hash in candidates the remote lacks, batching
// has_objects calls and uploading concurrently (spec.md §4.7.2 steps 4-5).
func (e *Engine) uploadMissing(ctx context.Context, remote transport.Adapter, candidates map[string]bool) error {
	all := make([]string, 0, len(candidates))
	for h := range candidates {
		all = append(all, h)
	}

	var missing []string
	for start := 0; start < len(all); start += hasObjectsBatchSize {
		end := start + hasObjectsBatchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]
		has, err := remote.HasObjects(ctx, batch)
		if err != nil {
			return err
		}
		for i, h := range batch {
			if i >= len(has) || !has[i] {
				missing = append(missing, h)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, h := range missing {
		h := h
		g.Go(func() error {
			data, err := e.objects.Get(h)
			if err != nil {
				return err
			}
			return remote.PutObject(gctx, h, data)
		})
	}
	return g.Wait()
}

// downloadMissing fetches every hash in wanted that is not already present
// locally, verifying content hash on receipt (spec.md §4.7.3, §4.7.5).
func (e *Engine) downloadMissing(ctx context.Context, remote transport.Adapter, wanted map[string]bool) error {
	var need []string
	for h := range wanted {
		has, err := e.objects.Has(h)
		if err != nil {
			return err
		}
		if !has {
			need = append(need, h)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, h := range need {
		h := h
		g.Go(func() error {
			data, err := remote.GetObject(gctx, h)
			if err != nil {
				return err
			}
			got, err := e.objects.Put(data)
			if err != nil {
				return err
			}
			if got != h {
				return fmt.Errorf("%w: requested object %s but received bytes hashing to %s", odierr.ErrIntegrity, h, got)
			}
			return nil
		})
	}
	return g.Wait()
}

// mergeChangeSet records an auto-merge or manual resolution as a two-parent
// ChangeSet, advancing local HEAD (spec.md §4.7.4 "every resolution advances
// the local ChangeSet chain with a two-parent merge record"). recs may be
// empty: a HEAD-only reconciliation with no entity-level changes of its own
// still needs a merge commit joining two otherwise-unrelated chains.
//
// The local parent is always the live HEAD read under the lock below, not a
// value captured at the start of a sync pass: a push or pull resolving
// several divergent refs calls this once per ref, and each call must chain
// onto the previous call's merge commit rather than recreate a parent edge
// back to the pre-sync head, which would orphan it.
func (e *Engine) mergeChangeSet(ctx context.Context, author entity.UserID, _, remoteParent string, recs ...entity.ChangeRecord) (string, error) {
	h, err := e.locks.Acquire(ctx, "changeset/head", 10*time.Second)
	if err != nil {
		return "", err
	}
	defer h.Release()

	headEntry, headExists, err := e.refs.Read("HEAD")
	if err != nil {
		return "", err
	}
	priorHead := ""
	if headExists && !headEntry.Tombstone {
		priorHead = headEntry.Hash
	}

	parents := []string{}
	if priorHead != "" {
		parents = append(parents, priorHead)
	}
	if remoteParent != "" && remoteParent != priorHead {
		parents = append(parents, remoteParent)
	}

	cs := &entity.ChangeSet{
		ID:        uuid.NewString(),
		Parents:   parents,
		Author:    author,
		Timestamp: time.Now().UTC(),
		Changes:   recs,
	}
	full, _, err := codec.Encode(cs)
	if err != nil {
		return "", err
	}
	csHash, err := e.objects.Put(full)
	if err != nil {
		return "", err
	}
	res, _, err := e.refs.CAS("HEAD", priorHead, csHash)
	if err != nil {
		return "", err
	}
	if res == refstore.Conflict {
		return "", fmt.Errorf("%w: HEAD moved during merge changeset append", odierr.ErrConcurrentUpdate)
	}
	return csHash, nil
}

// logicalIDOf extracts the logical id from a ref name of the form
// "<kindPlural>/<id>"; HEAD has no logical id.
func logicalIDOf(ref string) string {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' {
			return ref[i+1:]
		}
	}
	return ref
}
