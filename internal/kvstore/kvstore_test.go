package kvstore

import "testing"

// TestRegistryRoundTrip is scenario 4 from §8: set, get, remove, get-fails.
func TestRegistryRoundTrip(t *testing.T) {
	s := New()
	s.SetNumber("test.x", 42, 0)

	e, ok := s.Get("test.x")
	if !ok {
		t.Fatalf("expected key to be present")
	}
	if e.Num == nil || e.Num.Value != 42 {
		t.Fatalf("got %+v, want number 42", e)
	}

	s.Remove("test.x")
	if _, ok := s.Get("test.x"); ok {
		t.Fatalf("expected key to be gone after remove")
	}

	// remove is idempotent
	s.Remove("test.x")
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.SetString("a.b", "v1")
	snap := s.Snapshot()
	s.SetString("a.b", "v2")
	if e := snap["a.b"]; e.Str == nil || *e.Str != "v1" {
		t.Fatalf("snapshot mutated by later write: %+v", snap["a.b"])
	}
}
