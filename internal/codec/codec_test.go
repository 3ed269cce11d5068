package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/odi-dev/odi/internal/entity"
)

func sampleIssue() *entity.Issue {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &entity.Issue{
		ID:        "11111111-1111-1111-1111-111111111111",
		Title:     "Fix login",
		Status:    entity.StatusOpen,
		Priority:  entity.PriorityHigh,
		Author:    "alice",
		CoAuthors: []entity.UserID{"bob", "alice"},
		Assignees: []entity.UserID{"carol"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	issue := sampleIssue()
	b, kind, err := Encode(issue)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if kind != entity.KindIssue {
		t.Fatalf("kind = %v, want Issue", kind)
	}

	decoded, decKind, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decKind != entity.KindIssue {
		t.Fatalf("decoded kind = %v, want Issue", decKind)
	}
	got := decoded.(*entity.Issue)
	if got.ID != issue.ID || got.Title != issue.Title || !got.CreatedAt.Equal(issue.CreatedAt) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, issue)
	}
	// CoAuthors must come back sorted (natural key ordering), not insertion order.
	if len(got.CoAuthors) != 2 || got.CoAuthors[0] != "alice" || got.CoAuthors[1] != "bob" {
		t.Fatalf("CoAuthors not canonically sorted: %v", got.CoAuthors)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a, _, err := Encode(sampleIssue())
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := Encode(sampleIssue())
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatal("equal entity values must produce equal bytes")
	}
}

func TestEncodeRejectsInvalidEntity(t *testing.T) {
	bad := sampleIssue()
	bad.Title = ""
	if _, _, err := Encode(bad); err == nil {
		t.Fatal("expected EncodingError for empty title")
	} else {
		var encErr *EncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("expected *EncodingError, got %T: %v", err, err)
		}
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	b, _, err := Encode(sampleIssue())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Decode(b[:len(b)-5]); err == nil {
		t.Fatal("expected decode error for truncated payload")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	b, _, err := Encode(sampleIssue())
	if err != nil {
		t.Fatal(err)
	}
	corrupt := append([]byte(nil), b...)
	corrupt[0] = 'X'
	if _, _, err := Decode(corrupt); err == nil {
		t.Fatal("expected decode error for bad magic")
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	b, _, err := Encode(sampleIssue())
	if err != nil {
		t.Fatal(err)
	}
	corrupt := append([]byte(nil), b...)
	corrupt[6] = 0xFF // version low byte
	if _, _, err := Decode(corrupt); err == nil {
		t.Fatal("expected decode error for version mismatch")
	}
}
