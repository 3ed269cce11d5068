package refstore

import "testing"

const hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestCASCreateAndUpdate(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	res, _, err := s.CAS("issues/i1", "", hashA)
	if err != nil || res != Updated {
		t.Fatalf("create CAS: %v, %v", res, err)
	}

	e, ok, err := s.Read("issues/i1")
	if err != nil || !ok || e.Hash != hashA {
		t.Fatalf("Read after create: %+v, %v, %v", e, ok, err)
	}

	res, _, err = s.CAS("issues/i1", hashA, hashB)
	if err != nil || res != Updated {
		t.Fatalf("update CAS: %v, %v", res, err)
	}
}

func TestCASConflict(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.CAS("issues/i1", "", hashA); err != nil {
		t.Fatal(err)
	}
	res, current, err := s.CAS("issues/i1", hashB, hashB)
	if err != nil {
		t.Fatal(err)
	}
	if res != Conflict || current != hashA {
		t.Fatalf("expected Conflict with current=%s, got res=%v current=%s", hashA, res, current)
	}
}

func TestCASNoOpSameHash(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.CAS("issues/i1", "", hashA); err != nil {
		t.Fatal(err)
	}
	res, _, err := s.CAS("issues/i1", hashA, hashA)
	if err != nil || res != Updated {
		t.Fatalf("expected no-op CAS to return Updated, got %v, %v", res, err)
	}
}

func TestDeleteTombstones(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.CAS("issues/i1", "", hashA); err != nil {
		t.Fatal(err)
	}
	res, err := s.Delete("issues/i1", hashA)
	if err != nil || res != Updated {
		t.Fatalf("delete: %v, %v", res, err)
	}
	e, ok, err := s.Read("issues/i1")
	if err != nil || !ok || !e.Tombstone {
		t.Fatalf("expected tombstone entry, got %+v, %v, %v", e, ok, err)
	}

	tombs, err := s.List("")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range tombs {
		if r == "issues/i1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected tombstoned ref to still be listed under refs/")
	}
}

func TestListPrefix(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.CAS("issues/i1", "", hashA); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.CAS("projects/p1", "", hashB); err != nil {
		t.Fatal(err)
	}
	refs, err := s.List("issues/")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != "issues/i1" {
		t.Fatalf("List(issues/) = %v", refs)
	}
}
