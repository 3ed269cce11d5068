package entity

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/odi-dev/odi/internal/odierr"
	"github.com/odi-dev/odi/internal/storage"
)

// Status is an Issue's lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

func (s Status) valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	default:
		return false
	}
}

// allowedTransitions enumerates the Issue state machine from spec.md §3
// invariant 5. A transition not listed here is illegal.
var allowedTransitions = map[Status]map[Status]bool{
	StatusOpen:       {StatusInProgress: true, StatusClosed: true},
	StatusInProgress: {StatusResolved: true, StatusClosed: true},
	StatusResolved:   {StatusClosed: true, StatusInProgress: true},
	StatusClosed:     {StatusOpen: true},
}

// CanTransition reports whether moving from 'from' to 'to' is legal. A
// no-op transition (from == to) is always legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return allowedTransitions[from][to]
}

// Priority is an Issue's urgency tier.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// UserID, ProjectID, and LabelID are logical identifiers resolved through
// the Reference Store (C3), distinct from object hashes.
type UserID string
type ProjectID string
type LabelID string

// GitRef is an opaque VCS reference attached to an Issue on explicit link
// requests (spec.md §6, VCS metadata enricher boundary). The core never
// interprets its contents.
type GitRef struct {
	RepoRoot  string `odi:"1"`
	Branch    string `odi:"2"`
	RemoteURL string `odi:"3"`
}

// Issue is the central tracked work item.
type Issue struct {
	ID          string     `odi:"1"` // stable; repo.CreateIssue assigns a semantic slug ID, or a UUID for an untitled draft
	Title       string     `odi:"2"`
	Description string     `odi:"3"`
	Status      Status     `odi:"4"`
	Priority    Priority   `odi:"5"`
	Author      UserID     `odi:"6"`
	CoAuthors   []UserID   `odi:"7"` // sorted set
	Assignees   []UserID   `odi:"8"` // sorted set
	Labels      []LabelID  `odi:"9"` // sorted set
	ProjectID   ProjectID  `odi:"10"`
	CreatedAt   time.Time  `odi:"11"`
	UpdatedAt   time.Time  `odi:"12"`
	ClosedAt    *time.Time `odi:"13"`
	GitRefs     []GitRef   `odi:"14"`
	// Metadata holds caller-defined JSON-valued extension fields (e.g.
	// "jira.sprint"), opaque to the core. Keys and values are validated on
	// write, never interpreted.
	Metadata map[string]string `odi:"15"`
}

const maxTitleCodepoints = 100

// Validate enforces the Issue field constraints of spec.md §3. It does not
// check status-transition legality; callers validating a mutation must also
// call CanTransition against the prior state.
func (i *Issue) Validate() error {
	n := 0
	hasNonSpace := false
	for _, r := range i.Title {
		n++
		if n > maxTitleCodepoints {
			return fmt.Errorf("%w: title must be %d codepoints or fewer", odierr.ErrTitleTooLong, maxTitleCodepoints)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: title contains a control character", odierr.ErrInvalidIdentifier)
		}
		if !unicode.IsSpace(r) {
			hasNonSpace = true
		}
	}
	if n == 0 || !hasNonSpace {
		return fmt.Errorf("%w: title must not be empty or all whitespace", odierr.ErrTitleTooLong)
	}
	if !i.Status.valid() {
		return fmt.Errorf("%w: invalid status %q", odierr.ErrInvalidIdentifier, i.Status)
	}
	if !i.Priority.valid() {
		return fmt.Errorf("%w: invalid priority %q", odierr.ErrInvalidIdentifier, i.Priority)
	}
	if strings.TrimSpace(string(i.Author)) == "" {
		return fmt.Errorf("%w: author is required", odierr.ErrInvalidIdentifier)
	}
	for k, v := range i.Metadata {
		if err := storage.ValidateMetadataKey(k); err != nil {
			return fmt.Errorf("%w: %v", odierr.ErrInvalidIdentifier, err)
		}
		if _, err := storage.NormalizeMetadataValue(v); err != nil {
			return fmt.Errorf("%w: metadata[%q]: %v", odierr.ErrInvalidIdentifier, k, err)
		}
	}
	return nil
}

// IssueFilter predicates for Repository.ListIssues (spec.md §4.6).
type IssueFilter struct {
	Status    *Status
	Assignee  *UserID
	Label     *LabelID
	ProjectID *ProjectID
}

// Matches reports whether the issue satisfies every set predicate.
func (f IssueFilter) Matches(i *Issue) bool {
	if f.Status != nil && i.Status != *f.Status {
		return false
	}
	if f.Assignee != nil {
		found := false
		for _, a := range i.Assignees {
			if a == *f.Assignee {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Label != nil {
		found := false
		for _, l := range i.Labels {
			if l == *f.Label {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ProjectID != nil && i.ProjectID != *f.ProjectID {
		return false
	}
	return true
}
