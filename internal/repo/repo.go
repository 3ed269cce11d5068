// Package repo implements the Repository Facade (C6): typed CRUD over the
// entity kinds, composing the Object Codec (C1), Object Store (C2),
// Reference Store (C3), and Lock Manager (C4) per spec.md §4.6.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/odi-dev/odi/internal/codec"
	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/events"
	"github.com/odi-dev/odi/internal/idgen"
	"github.com/odi-dev/odi/internal/lockmgr"
	"github.com/odi-dev/odi/internal/objstore"
	"github.com/odi-dev/odi/internal/odierr"
	"github.com/odi-dev/odi/internal/refstore"
)

// defaultIDPrefix namespaces semantic issue IDs when a workspace has not
// chosen its own (spec.md §6 leaves the prefix to the caller).
const defaultIDPrefix = "odi"

// maxConflictRetries bounds the CAS retry loop of spec.md §4.6 step 6.
const maxConflictRetries = 5

const headRef = "HEAD"

// validatable is implemented by every entity pointer type this package
// manages; codec.Encode already accepts `any`, so CRUD is generic over this.
type validatable interface {
	Validate() error
}

// Repository is the facade handle over one workspace's storage triad.
type Repository struct {
	objects *objstore.Store
	refs    *refstore.Store
	locks   *lockmgr.Manager
	log     *slog.Logger

	maxObjectBytes uint64
	idPrefix       string
	semanticIDs    *idgen.SemanticIDGenerator
	events         *events.Broker
}

// Events returns the broker mutation outcomes are published to. A caller
// (the CLI, a hook) subscribes via events.Broker.Subscribe before issuing
// mutations it wants to observe.
func (r *Repository) Events() *events.Broker { return r.events }

// Open wires the facade against a workspace root, creating the underlying
// stores if absent.
func Open(workspaceRoot string, maxObjectBytes uint64, log *slog.Logger) (*Repository, error) {
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
	return &Repository{
		objects: objects, refs: refs, locks: locks, log: log, maxObjectBytes: maxObjectBytes,
		idPrefix: defaultIDPrefix, semanticIDs: idgen.NewSemanticIDGenerator(),
		events: events.NewBroker(),
	}, nil
}

// SetIDPrefix overrides the prefix used for generated semantic issue IDs
// (e.g. a short workspace or project code instead of "odi").
func (r *Repository) SetIDPrefix(prefix string) {
	if prefix != "" {
		r.idPrefix = prefix
	}
}

func (r *Repository) putValidated(v validatable) (string, error) {
	if err := v.Validate(); err != nil {
		return "", err
	}
	full, _, err := codec.Encode(v)
	if err != nil {
		return "", err
	}
	if r.maxObjectBytes > 0 && uint64(len(full)) > r.maxObjectBytes {
		return "", fmt.Errorf("%w: encoded object is %d bytes, limit is %d", odierr.ErrLimitExceeded, len(full), r.maxObjectBytes)
	}
	return r.objects.Put(full)
}

// get reads the ref, loads and decodes the target object. ok is false if the
// ref has never been written or is tombstoned.
func (r *Repository) get(ref string) (value any, hash string, ok bool, err error) {
	entry, exists, err := r.refs.Read(ref)
	if err != nil {
		return nil, "", false, err
	}
	if !exists || entry.Tombstone {
		return nil, "", false, nil
	}
	v, _, err := r.objects.GetDecoded(entry.Hash)
	if err != nil {
		return nil, "", false, err
	}
	return v, entry.Hash, true, nil
}

// mutate implements the read-construct-encode-CAS-changeset loop of
// spec.md §4.6 steps 2-8. build receives the prior decoded value (nil if the
// ref did not exist) and the prior hash, and returns the new entity value (a
// validatable pointer) plus its ChangeType.
func (r *Repository) mutate(
	ctx context.Context, ref string, kind entity.Kind, logicalID string, author entity.UserID,
	build func(prior any, priorHash string, exists bool) (validatable, entity.ChangeType, error),
) (string, error) {
	h, err := r.locks.Acquire(ctx, "refs/"+ref, 10*time.Second)
	if err != nil {
		return "", err
	}
	defer h.Release()

	var newHash string
	op := func() error {
		prior, priorHash, exists, err := r.get(ref)
		if err != nil {
			return backoff.Permanent(err)
		}
		newVal, changeType, err := build(prior, priorHash, exists)
		if err != nil {
			return backoff.Permanent(err)
		}

		if changeType == entity.ChangeDelete {
			res, err := r.refs.Delete(ref, priorHash)
			if err != nil {
				return backoff.Permanent(err)
			}
			if res == refstore.Conflict {
				return fmt.Errorf("%w: ref %s moved during delete", odierr.ErrConcurrentUpdate, ref)
			}
			return r.appendChangeSet(ctx, kind, logicalID, author, priorHash, "", changeType)
		}

		nh, err := r.putValidated(newVal)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, _, err := r.refs.CAS(ref, priorHash, nh)
		if err != nil {
			return backoff.Permanent(err)
		}
		if res == refstore.Conflict {
			return fmt.Errorf("%w: ref %s moved during update", odierr.ErrConcurrentUpdate, ref)
		}
		newHash = nh
		return r.appendChangeSet(ctx, kind, logicalID, author, priorHash, nh, changeType)
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxConflictRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if pe, ok := err.(*backoff.PermanentError); ok {
			return "", pe.Err
		}
		return "", fmt.Errorf("%w: %v", odierr.ErrConcurrentUpdate, err)
	}
	return newHash, nil
}

// appendChangeSet advances HEAD with a new ChangeSet recording one logical
// mutation, per spec.md §4.6 step 7. HEAD is its own lock domain distinct
// from the entity ref lock, so unrelated mutations never serialize on it
// longer than the append itself.
func (r *Repository) appendChangeSet(ctx context.Context, kind entity.Kind, logicalID string, author entity.UserID, priorHash, newHash string, changeType entity.ChangeType) error {
	h, err := r.locks.Acquire(ctx, "changeset/head", 10*time.Second)
	if err != nil {
		return err
	}
	defer h.Release()

	headEntry, headExists, err := r.refs.Read(headRef)
	if err != nil {
		return err
	}
	var parents []string
	priorHeadHash := ""
	if headExists && !headEntry.Tombstone {
		priorHeadHash = headEntry.Hash
		parents = []string{priorHeadHash}
	}

	cs := &entity.ChangeSet{
		ID:        uuid.NewString(),
		Parents:   parents,
		Author:    author,
		Timestamp: time.Now().UTC(),
		Changes: []entity.ChangeRecord{{
			Kind:      kind,
			LogicalID: logicalID,
			PriorHash: priorHash,
			NewHash:   newHash,
			Type:      changeType,
		}},
	}
	full, _, err := codec.Encode(cs)
	if err != nil {
		return err
	}
	csHash, err := r.objects.Put(full)
	if err != nil {
		return err
	}
	res, _, err := r.refs.CAS(headRef, priorHeadHash, csHash)
	if err != nil {
		return err
	}
	if res == refstore.Conflict {
		return fmt.Errorf("%w: HEAD moved during changeset append", odierr.ErrConcurrentUpdate)
	}
	r.events.Publish(events.Event{
		Type: events.ForMutation(kind, changeType), Author: author,
		EntityKind: kind, EntityID: logicalID,
	})
	return nil
}

// Head returns the current changeset hash, or "" if no mutation has ever
// been committed.
func (r *Repository) Head() (string, error) {
	e, exists, err := r.refs.Read(headRef)
	if err != nil || !exists || e.Tombstone {
		return "", err
	}
	return e.Hash, nil
}
