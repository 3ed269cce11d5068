// Package events implements the structured event stream spec.md §6 requires
// the core to expose to observers (logging, hooks) for mutation and sync
// outcomes, as a channel-based publish/subscribe broker.
package events

import (
	"sync"
	"time"

	"github.com/odi-dev/odi/internal/entity"
)

// Type names one kind of outcome an observer can subscribe to.
type Type string

const (
	IssueCreated    Type = "issue.created"
	IssueUpdated    Type = "issue.updated"
	IssueDeleted    Type = "issue.deleted"
	ProjectCreated  Type = "project.created"
	ProjectUpdated  Type = "project.updated"
	ProjectDeleted  Type = "project.deleted"
	UserCreated     Type = "user.created"
	UserUpdated     Type = "user.updated"
	UserDeleted     Type = "user.deleted"
	TeamCreated     Type = "team.created"
	TeamUpdated     Type = "team.updated"
	TeamDeleted     Type = "team.deleted"
	LabelCreated    Type = "label.created"
	LabelUpdated    Type = "label.updated"
	LabelDeleted    Type = "label.deleted"
	RemoteCreated   Type = "remote.created"
	RemoteUpdated   Type = "remote.updated"
	RemoteDeleted   Type = "remote.deleted"
	WorkspaceInit   Type = "workspace.init"
	WorkspaceUpdate Type = "workspace.updated"

	SyncRefResolved Type = "sync.ref_resolved"
	SyncConflict    Type = "sync.conflict_recorded"
)

// ForMutation maps an entity kind and change type to the Type an observer
// subscribes to, per spec.md §6's "structured event stream for mutation...
// outcomes". The zero Type means no event is published for this combination:
// entity.KindChangeSet and any unrecognized kind map to it.
func ForMutation(kind entity.Kind, change entity.ChangeType) Type {
	created := change == entity.ChangeCreate
	deleted := change == entity.ChangeDelete
	switch kind {
	case entity.KindIssue:
		switch {
		case created:
			return IssueCreated
		case deleted:
			return IssueDeleted
		default:
			return IssueUpdated
		}
	case entity.KindProject:
		switch {
		case created:
			return ProjectCreated
		case deleted:
			return ProjectDeleted
		default:
			return ProjectUpdated
		}
	case entity.KindUser:
		switch {
		case created:
			return UserCreated
		case deleted:
			return UserDeleted
		default:
			return UserUpdated
		}
	case entity.KindTeam:
		switch {
		case created:
			return TeamCreated
		case deleted:
			return TeamDeleted
		default:
			return TeamUpdated
		}
	case entity.KindLabel:
		switch {
		case created:
			return LabelCreated
		case deleted:
			return LabelDeleted
		default:
			return LabelUpdated
		}
	case entity.KindRemoteDescriptor:
		switch {
		case created:
			return RemoteCreated
		case deleted:
			return RemoteDeleted
		default:
			return RemoteUpdated
		}
	case entity.KindWorkspace:
		if created {
			return WorkspaceInit
		}
		return WorkspaceUpdate
	default:
		return ""
	}
}

// Event is one mutation or sync outcome. EntityID/EntityKind describe what
// changed; Ref/Class are set only for sync.* events (see syncengine.RefStatus).
type Event struct {
	Type       Type
	Timestamp  time.Time
	Author     entity.UserID
	EntityKind entity.Kind
	EntityID   string
	Ref        string
	Class      string
}

// Subscriber is a channel an observer reads published events from.
type Subscriber chan Event

// Broker fans Publish calls out to every live Subscriber. A nil *Broker is a
// valid no-op publisher, so callers that don't care about the event stream
// (most tests) can pass nil instead of standing one up.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
}

// NewBroker creates a ready-to-use Broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[Subscriber]bool)}
}

// Subscribe registers a new observer and returns its channel. Events are
// dropped for a subscriber whose buffer is full rather than blocking the
// publisher — an observer that falls behind misses events, it never stalls
// a mutation.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish broadcasts ev to every current subscriber. Safe to call on a nil
// Broker (a no-op), so components can hold a *Broker field without a
// separate "is observability enabled" check.
func (b *Broker) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}
