// Package odi provides the public entry point onto a workspace: a
// repository handle with the CRUD operations of the Repository Facade and
// the sync operations of the Sync Engine, a configuration view, and the
// structured event stream both publish to (spec.md §6). A CLI, a future
// daemon, or tests are expected to consume this package rather than reach
// into internal/ directly.
package odi

import (
	"context"
	"log/slog"

	"github.com/odi-dev/odi/internal/config"
	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/events"
	"github.com/odi-dev/odi/internal/repo"
	"github.com/odi-dev/odi/internal/syncengine"
	"github.com/odi-dev/odi/internal/transport"
	"github.com/odi-dev/odi/internal/vcslink"
)

// Core entity types, re-exported so a caller never has to import internal/.
type (
	Issue            = entity.Issue
	IssueFilter      = entity.IssueFilter
	IssuePatch       = repo.IssuePatch
	Status           = entity.Status
	Priority         = entity.Priority
	Project          = entity.Project
	ProjectSettings  = entity.ProjectSettings
	Label            = entity.Label
	User             = entity.User
	Team             = entity.Team
	RemoteDescriptor = entity.RemoteDescriptor
	Workspace        = entity.Workspace
	GitRef           = entity.GitRef
	VCSMetadata      = entity.VCSMetadata
	UserID           = entity.UserID
	ProjectID        = entity.ProjectID
	LabelID          = entity.LabelID
)

// Status values.
const (
	StatusOpen       = entity.StatusOpen
	StatusInProgress = entity.StatusInProgress
	StatusResolved   = entity.StatusResolved
	StatusClosed     = entity.StatusClosed
)

// Priority values.
const (
	PriorityLow      = entity.PriorityLow
	PriorityMedium   = entity.PriorityMedium
	PriorityHigh     = entity.PriorityHigh
	PriorityCritical = entity.PriorityCritical
)

// Conflict resolution strategies (spec.md §4.7.4), re-exported from
// internal/config so a caller configuring sync never imports it directly.
const (
	StrategyManual       = config.StrategyManual
	StrategyPreferLocal  = config.StrategyPreferLocal
	StrategyPreferRemote = config.StrategyPreferRemote
	StrategyPreferNewer  = config.StrategyPreferNewer
)

// Handle bundles the Repository Facade and Sync Engine for one opened
// workspace, sharing a single event broker between them.
type Handle struct {
	Repo   *repo.Repository
	Sync   *syncengine.Engine
	Config config.Effective

	broker *events.Broker
}

// Open wires a Handle against an existing workspace root, resolving its
// layered configuration (spec.md §4.5) to size object limits and the
// default conflict strategy.
func Open(ctx context.Context, workspaceRoot string, log *slog.Logger) (*Handle, error) {
	eff, err := config.New(workspaceRoot).Resolve(nil)
	if err != nil {
		return nil, err
	}
	r, err := repo.Open(workspaceRoot, eff.MaxObjectBytes, log)
	if err != nil {
		return nil, err
	}
	e, err := syncengine.Open(workspaceRoot, eff.SyncConflictStrategy, log)
	if err != nil {
		return nil, err
	}
	broker := r.Events()
	e.SetEvents(broker)
	return &Handle{Repo: r, Sync: e, Config: eff, broker: broker}, nil
}

// Init opens a fresh workspace and stores its root Workspace object. dir, if
// non-empty, is probed for a surrounding VCS repository via internal/vcslink
// and attached to the new Workspace — the core itself never invokes a VCS
// (spec.md §6); this is the one caller-side enrichment step.
func Init(ctx context.Context, workspaceRoot, id string, author entity.UserID, dir string, log *slog.Logger) (*Handle, error) {
	h, err := Open(ctx, workspaceRoot, log)
	if err != nil {
		return nil, err
	}
	var vcs *entity.VCSMetadata
	if dir != "" {
		vcs, err = vcslink.Discover(dir)
		if err != nil {
			return nil, err
		}
	}
	if _, err := h.Repo.InitWorkspace(ctx, author, id, vcs); err != nil {
		return nil, err
	}
	return h, nil
}

// Subscribe returns a channel of every mutation and sync outcome from this
// point forward. Call events.Broker methods directly (via Handle.Events) for
// Unsubscribe.
func (h *Handle) Subscribe() events.Subscriber { return h.broker.Subscribe() }

// Events exposes the underlying broker, e.g. for Unsubscribe.
func (h *Handle) Events() *events.Broker { return h.broker }

// Dial opens a transport.Adapter to a remote for Handle.Sync's Push/Pull,
// per the URI schemes of spec.md §4.8 (file://, http(s)://, ssh://).
func Dial(ctx context.Context, uri string, opts transport.Options) (transport.Adapter, error) {
	return transport.Dial(ctx, uri, opts)
}

// LinkGitRef attaches the caller's current VCS position (branch + first
// remote) at dir to an existing issue, via internal/vcslink.CurrentRef.
func (h *Handle) LinkGitRef(ctx context.Context, author entity.UserID, issueID, dir string) (*entity.Issue, error) {
	ref, err := vcslink.CurrentRef(dir)
	if err != nil {
		return nil, err
	}
	return h.Repo.LinkGitRef(ctx, author, issueID, *ref)
}
