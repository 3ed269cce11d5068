package syncengine

import (
	"context"
	"time"

	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/refstore"
	"github.com/odi-dev/odi/internal/transport"
)

// Pull downloads remote changes, fast-forwarding local refs that can safely
// advance and resolving (or recording) conflicts for the rest. It is the
// mirror image of Push (spec.md §4.7.3).
func (e *Engine) Pull(ctx context.Context, remoteName string, remote transport.Adapter, author entity.UserID) (*Result, error) {
	h, err := e.locks.Acquire(ctx, "sync/"+remoteName, 30*time.Second)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	local, err := e.localRefSnapshot()
	if err != nil {
		return nil, err
	}
	remoteRefs, err := remote.ListRefs(ctx)
	if err != nil {
		return nil, err
	}
	localHeadHash := local["HEAD"]
	remoteHeadHash := remoteRefs["HEAD"]

	result := &Result{}
	wanted := map[string]bool{}
	type pullEntry struct {
		name       string
		localHash  string
		localHas   bool
		remoteHash string
	}
	var plan []pullEntry

	for name, remoteHash := range remoteRefs {
		localHash, localHas := local[name]
		class, err := e.classifyForPull(ctx, remote, name, localHash, localHas, remoteHash, remoteHeadHash)
		if err != nil {
			return nil, err
		}

		switch class {
		case classSkip:
			result.Refs = append(result.Refs, RefStatus{Ref: name, Class: class})
			continue
		case classDivergent:
			var status RefStatus
			var err error
			if name == "HEAD" {
				status, err = e.resolveHeadDivergence(ctx, remote, author, localHeadHash, remoteHeadHash, false)
			} else {
				status, err = e.resolveDivergent(ctx, remote, author, name, localHash, remoteHash, localHeadHash, remoteHeadHash, false)
			}
			if err != nil {
				return nil, err
			}
			result.Refs = append(result.Refs, status)
			e.publishRef(author, status)
			continue
		}

		reach, err := e.remoteReachable(ctx, remote, remoteHash)
		if err != nil {
			return nil, err
		}
		for hh := range reach {
			wanted[hh] = true
		}
		plan = append(plan, pullEntry{name: name, localHash: localHash, localHas: localHas, remoteHash: remoteHash})
	}

	if err := e.downloadMissing(ctx, remote, wanted); err != nil {
		return nil, err
	}

	for _, p := range plan {
		expected := ""
		if p.localHas {
			expected = p.localHash
		}
		var res refstore.CASResult
		if p.remoteHash == "" {
			res, err = e.refs.Delete(p.name, expected)
		} else {
			res, _, err = e.refs.CAS(p.name, expected, p.remoteHash)
		}
		if err != nil {
			return nil, err
		}
		if res == refstore.Conflict {
			e.log.Warn("syncengine: local ref moved mid-pull, leaving for next sync", "ref", p.name)
			continue
		}
		class := classFastForwardUpdate
		if !p.localHas {
			class = classFastForwardAdd
		}
		status := RefStatus{Ref: p.name, Class: class}
		result.Refs = append(result.Refs, status)
		e.publishRef(author, status)
	}

	return result, nil
}

// remoteReachable computes reachable() against hashes fetched from remote
// rather than the local store, for the download side of a sync.
func (e *Engine) remoteReachable(ctx context.Context, remote transport.Adapter, hash string) (map[string]bool, error) {
	out := map[string]bool{}
	var walk func(h string) error
	walk = func(h string) error {
		if h == "" || out[h] {
			return nil
		}
		out[h] = true
		v, kind, err := e.fetchDecoded(ctx, remote, h)
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

// classifyForPull mirrors classifyForPush with local and remote swapped:
// ancestry is checked against remote's ChangeSet history (fetched on
// demand) rather than local's.
func (e *Engine) classifyForPull(ctx context.Context, remote transport.Adapter, name, localHash string, localHas bool, remoteHash, remoteHeadHash string) (refClass, error) {
	if !localHas {
		if remoteHash == "" {
			return classSkip, nil
		}
		return classFastForwardAdd, nil
	}
	if localHash == remoteHash {
		return classSkip, nil
	}

	if name == "HEAD" {
		ok, err := e.isAncestorAcross(ctx, remote, localHash, remoteHash)
		if err != nil {
			return 0, err
		}
		if ok {
			return classFastForwardUpdate, nil
		}
		return classDivergent, nil
	}

	records, err := e.remoteChangeHistory(ctx, remote, remoteHeadHash, logicalIDOf(name))
	if err != nil {
		return 0, err
	}
	if isAncestor(records, localHash) {
		return classFastForwardUpdate, nil
	}
	return classDivergent, nil
}
