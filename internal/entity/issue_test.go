package entity

import (
	"errors"
	"strings"
	"testing"

	"github.com/odi-dev/odi/internal/odierr"
)

func TestIssueValidate(t *testing.T) {
	valid := func() Issue {
		return Issue{
			ID:       "11111111-1111-1111-1111-111111111111",
			Title:    "Fix login",
			Status:   StatusOpen,
			Priority: PriorityHigh,
			Author:   "alice",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Issue)
		wantErr error
	}{
		{"valid issue", func(i *Issue) {}, nil},
		{"empty title", func(i *Issue) { i.Title = "" }, odierr.ErrTitleTooLong},
		{"whitespace title", func(i *Issue) { i.Title = "   " }, odierr.ErrTitleTooLong},
		{"title at 100 accepted", func(i *Issue) { i.Title = strings.Repeat("a", 100) }, nil},
		{"title at 101 rejected", func(i *Issue) { i.Title = strings.Repeat("a", 101) }, odierr.ErrTitleTooLong},
		{"control char in title", func(i *Issue) { i.Title = "bad\x00title" }, odierr.ErrInvalidIdentifier},
		{"invalid status", func(i *Issue) { i.Status = Status("bogus") }, odierr.ErrInvalidIdentifier},
		{"invalid priority", func(i *Issue) { i.Priority = Priority("urgent") }, odierr.ErrInvalidIdentifier},
		{"missing author", func(i *Issue) { i.Author = "" }, odierr.ErrInvalidIdentifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := valid()
			tt.mutate(&issue)
			err := issue.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want wrapped %v", err, tt.wantErr)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusInProgress, true},
		{StatusOpen, StatusClosed, true},
		{StatusOpen, StatusResolved, false},
		{StatusInProgress, StatusResolved, true},
		{StatusInProgress, StatusClosed, true},
		{StatusInProgress, StatusOpen, false},
		{StatusResolved, StatusClosed, true},
		{StatusResolved, StatusInProgress, true},
		{StatusResolved, StatusOpen, false},
		{StatusClosed, StatusOpen, true},
		{StatusClosed, StatusInProgress, false},
		{StatusOpen, StatusOpen, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIssueFilterMatches(t *testing.T) {
	open := StatusOpen
	alice := UserID("alice")
	i := &Issue{Status: StatusOpen, Assignees: []UserID{"alice", "bob"}}
	if !(IssueFilter{Status: &open, Assignee: &alice}).Matches(i) {
		t.Fatal("expected match")
	}
	bob := UserID("carol")
	if (IssueFilter{Assignee: &bob}).Matches(i) {
		t.Fatal("expected no match for absent assignee")
	}
}
