package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/odierr"
)

func issueRef(id string) string { return "issues/" + id }

// CreateIssue validates and stores a new Issue, generating its ID if unset.
// A non-empty Title yields a readable semantic ID (e.g.
// "odi-tsk-fix_login_redirect"); an empty title falls back to a UUID.
func (r *Repository) CreateIssue(ctx context.Context, author entity.UserID, draft entity.Issue) (*entity.Issue, error) {
	if draft.ID == "" {
		if draft.Title != "" {
			id, err := r.nextSemanticID(draft.Title)
			if err != nil {
				return nil, err
			}
			draft.ID = id
		} else {
			draft.ID = uuid.NewString()
		}
	}
	now := time.Now().UTC()
	draft.CreatedAt = now
	draft.UpdatedAt = now
	if draft.Status == "" {
		draft.Status = entity.StatusOpen
	}
	draft.Author = author

	_, err := r.mutate(ctx, issueRef(draft.ID), entity.KindIssue, draft.ID, author,
		func(prior any, _ string, exists bool) (validatable, entity.ChangeType, error) {
			if exists {
				return nil, "", fmt.Errorf("%w: issue %s already exists", odierr.ErrInvalidIdentifier, draft.ID)
			}
			v := draft
			return &v, entity.ChangeCreate, nil
		})
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// nextSemanticID generates a collision-checked semantic ID for title against
// every currently live issue ref.
func (r *Repository) nextSemanticID(title string) (string, error) {
	refs, err := r.refs.List("issues/")
	if err != nil {
		return "", err
	}
	existing := make([]string, 0, len(refs))
	for _, ref := range refs {
		existing = append(existing, strings.TrimPrefix(ref, "issues/"))
	}
	return r.semanticIDs.GenerateSemanticID(r.idPrefix, "task", title, existing), nil
}

// GetIssue loads and decodes the current Issue for id.
func (r *Repository) GetIssue(id string) (*entity.Issue, error) {
	v, _, ok, err := r.get(issueRef(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: issue %s", odierr.ErrUnknownEntity, id)
	}
	iss, ok := v.(*entity.Issue)
	if !ok {
		return nil, fmt.Errorf("%w: ref issues/%s does not hold an Issue", odierr.ErrCorruption, id)
	}
	return iss, nil
}

// IssuePatch carries only the fields a mutation intends to change; nil
// pointers and a nil Labels/Assignees slice mean "leave unchanged".
type IssuePatch struct {
	Title       *string
	Description *string
	Status      *entity.Status
	Priority    *entity.Priority
	Assignees   *[]entity.UserID
	Labels      *[]entity.LabelID
	Metadata    *map[string]string
	GitRefs     *[]entity.GitRef
}

// UpdateIssue applies patch to the current Issue, enforcing the status
// state machine, and advances HEAD via a ChangeSet.
func (r *Repository) UpdateIssue(ctx context.Context, author entity.UserID, id string, patch IssuePatch) (*entity.Issue, error) {
	var updated entity.Issue
	_, err := r.mutate(ctx, issueRef(id), entity.KindIssue, id, author,
		func(prior any, _ string, exists bool) (validatable, entity.ChangeType, error) {
			if !exists {
				return nil, "", fmt.Errorf("%w: issue %s", odierr.ErrUnknownEntity, id)
			}
			current, ok := prior.(*entity.Issue)
			if !ok {
				return nil, "", fmt.Errorf("%w: ref issues/%s does not hold an Issue", odierr.ErrCorruption, id)
			}
			next := *current
			if patch.Title != nil {
				next.Title = *patch.Title
			}
			if patch.Description != nil {
				next.Description = *patch.Description
			}
			if patch.Status != nil {
				if !entity.CanTransition(current.Status, *patch.Status) {
					return nil, "", fmt.Errorf("%w: %s -> %s", odierr.ErrIllegalTransition, current.Status, *patch.Status)
				}
				next.Status = *patch.Status
				if next.Status == entity.StatusClosed {
					now := time.Now().UTC()
					next.ClosedAt = &now
				} else {
					next.ClosedAt = nil
				}
			}
			if patch.Priority != nil {
				next.Priority = *patch.Priority
			}
			if patch.Assignees != nil {
				next.Assignees = *patch.Assignees
			}
			if patch.Labels != nil {
				next.Labels = *patch.Labels
			}
			if patch.Metadata != nil {
				next.Metadata = *patch.Metadata
			}
			if patch.GitRefs != nil {
				next.GitRefs = *patch.GitRefs
			}
			next.UpdatedAt = time.Now().UTC()
			updated = next
			return &next, entity.ChangeModify, nil
		})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// LinkGitRef appends ref to the issue's GitRefs, deduplicating on
// (RepoRoot, Branch, RemoteURL). The caller supplies ref (typically from
// internal/vcslink against their working directory); the core never
// discovers VCS state on its own (spec.md §6).
func (r *Repository) LinkGitRef(ctx context.Context, author entity.UserID, id string, ref entity.GitRef) (*entity.Issue, error) {
	current, err := r.GetIssue(id)
	if err != nil {
		return nil, err
	}
	refs := current.GitRefs
	for _, existing := range refs {
		if existing == ref {
			return current, nil
		}
	}
	refs = append(append([]entity.GitRef(nil), refs...), ref)
	return r.UpdateIssue(ctx, author, id, IssuePatch{GitRefs: &refs})
}

// DeleteIssue tombstones the issue's ref.
func (r *Repository) DeleteIssue(ctx context.Context, author entity.UserID, id string) error {
	_, err := r.mutate(ctx, issueRef(id), entity.KindIssue, id, author,
		func(prior any, _ string, exists bool) (validatable, entity.ChangeType, error) {
			if !exists {
				return nil, "", fmt.Errorf("%w: issue %s", odierr.ErrUnknownEntity, id)
			}
			return nil, entity.ChangeDelete, nil
		})
	return err
}

// ListIssues enumerates refs/issues/*, decodes each target, and applies
// filter. No secondary index is maintained; spec.md §4.6 permits one to be
// added by a caller that needs it.
func (r *Repository) ListIssues(filter entity.IssueFilter) ([]*entity.Issue, error) {
	refs, err := r.refs.List("issues/")
	if err != nil {
		return nil, err
	}
	var out []*entity.Issue
	for _, ref := range refs {
		v, _, ok, err := r.get(ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		iss, ok := v.(*entity.Issue)
		if !ok {
			continue
		}
		if filter.Matches(iss) {
			out = append(out, iss)
		}
	}
	return out, nil
}
