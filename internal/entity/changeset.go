package entity

import "time"

// ChangeType classifies a single entry in a ChangeSet.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// ChangeRecord links a logical entity's prior object hash to its new one.
type ChangeRecord struct {
	Kind      Kind       `odi:"1"`
	LogicalID string     `odi:"2"`
	PriorHash string     `odi:"3"` // empty on Create
	NewHash   string     `odi:"4"` // empty on Delete (tombstone)
	Type      ChangeType `odi:"5"`
}

// ChangeSet is ODI's internal ancestry record, advanced on every successful
// mutation or merge. Parents form the chain C7 walks for ancestor queries.
// A merge ChangeSet has two parents (local, remote); an ordinary mutation
// has exactly one (or zero, for the very first commit).
type ChangeSet struct {
	ID        string         `odi:"1"` // UUID
	Parents   []string       `odi:"2"` // ChangeSet hashes, 0, 1, or 2 entries
	Author    UserID         `odi:"3"`
	Timestamp time.Time      `odi:"4"`
	Changes   []ChangeRecord `odi:"5"`
}
