// Package entity defines the typed object kinds ODI stores: Issue, Project,
// Workspace, User, Team, Label, RemoteDescriptor, and ChangeSet. Each kind
// carries validation rules and state-machine invariants enforced before the
// object codec is allowed to encode it.
package entity

import "fmt"

// Kind tags an object's type in its encoded header.
type Kind uint16

const (
	KindIssue Kind = iota + 1
	KindProject
	KindWorkspace
	KindUser
	KindTeam
	KindLabel
	KindRemoteDescriptor
	KindChangeSet
)

func (k Kind) String() string {
	switch k {
	case KindIssue:
		return "Issue"
	case KindProject:
		return "Project"
	case KindWorkspace:
		return "Workspace"
	case KindUser:
		return "User"
	case KindTeam:
		return "Team"
	case KindLabel:
		return "Label"
	case KindRemoteDescriptor:
		return "RemoteDescriptor"
	case KindChangeSet:
		return "ChangeSet"
	default:
		return fmt.Sprintf("Kind(%d)", uint16(k))
	}
}

// ParseKind validates a raw header kind tag.
func ParseKind(v uint16) (Kind, error) {
	k := Kind(v)
	switch k {
	case KindIssue, KindProject, KindWorkspace, KindUser, KindTeam, KindLabel, KindRemoteDescriptor, KindChangeSet:
		return k, nil
	default:
		return 0, fmt.Errorf("entity: unknown object kind %d", v)
	}
}
