package syncengine

import (
	"context"
	"time"

	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/refstore"
	"github.com/odi-dev/odi/internal/transport"
)

type pushPlanEntry struct {
	localHash  string
	remoteHash string
	remoteHas  bool
	class      refClass
}

// Push uploads local changes to remote, fast-forwarding refs the remote
// can safely advance and resolving (or recording) conflicts for the rest,
// per spec.md §4.7.2.
func (e *Engine) Push(ctx context.Context, remoteName string, remote transport.Adapter, author entity.UserID) (*Result, error) {
	h, err := e.locks.Acquire(ctx, "sync/"+remoteName, 30*time.Second)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	result := &Result{}
	for attempt := 0; attempt < maxRefRetries; attempt++ {
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

		plan := map[string]pushPlanEntry{}
		candidates := map[string]bool{}
		result.Refs = nil

		for name, localHash := range local {
			remoteHash, remoteHas := remoteRefs[name]
			class, err := e.classifyForPush(ctx, remote, name, localHash, remoteHash, remoteHas)
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
					status, err = e.resolveHeadDivergence(ctx, remote, author, localHeadHash, remoteHeadHash, true)
				} else {
					status, err = e.resolveDivergent(ctx, remote, author, name, localHash, remoteHash, localHeadHash, remoteHeadHash, true)
				}
				if err != nil {
					return nil, err
				}
				result.Refs = append(result.Refs, status)
				e.publishRef(author, status)
				continue
			}

			if localHash != "" {
				reach, err := e.reachable(localHash)
				if err != nil {
					return nil, err
				}
				for hh := range reach {
					candidates[hh] = true
				}
			}
			plan[name] = pushPlanEntry{localHash: localHash, remoteHash: remoteHash, remoteHas: remoteHas, class: class}
		}

		if len(plan) == 0 {
			break
		}

		if err := e.uploadMissing(ctx, remote, candidates); err != nil {
			return nil, err
		}

		retryNeeded := false
		for name, p := range plan {
			expected := ""
			if p.remoteHas {
				expected = p.remoteHash
			}
			casResult, current, err := remote.UpdateRef(ctx, name, expected, p.localHash)
			if err != nil {
				return nil, err
			}
			if casResult == refstore.Conflict {
				e.log.Warn("syncengine: remote ref moved mid-push, reclassifying", "ref", name, "remote_current", current)
				retryNeeded = true
				continue
			}
			status := RefStatus{Ref: name, Class: p.class}
			result.Refs = append(result.Refs, status)
			e.publishRef(author, status)
		}

		if !retryNeeded {
			break
		}
	}
	return result, nil
}

// classifyForPush decides whether a ref is new to remote, a clean
// fast-forward, unchanged, or divergent (spec.md §4.7.2 steps 2-3). HEAD is
// classified by ChangeSet ancestry since its value is a changeset hash, not
// an entity hash.
func (e *Engine) classifyForPush(ctx context.Context, remote transport.Adapter, name, localHash, remoteHash string, remoteHas bool) (refClass, error) {
	if !remoteHas {
		if localHash == "" {
			return classSkip, nil
		}
		return classFastForwardAdd, nil
	}
	if remoteHash == localHash {
		return classSkip, nil
	}

	if name == "HEAD" {
		ok, err := e.isAncestorAcross(ctx, remote, remoteHash, localHash)
		if err != nil {
			return 0, err
		}
		if ok {
			return classFastForwardUpdate, nil
		}
		return classDivergent, nil
	}

	records, err := e.changeHistory(logicalIDOf(name))
	if err != nil {
		return 0, err
	}
	if isAncestor(records, remoteHash) {
		return classFastForwardUpdate, nil
	}
	return classDivergent, nil
}
