package memory

import (
	"testing"
	"time"
)

func TestRecentIDsRejectsDuplicates(t *testing.T) {
	r := NewRecentIDs(8, time.Minute)
	if !r.Accept("e1") {
		t.Fatalf("first delivery should be accepted")
	}
	if r.Accept("e1") {
		t.Fatalf("duplicate should be rejected")
	}
	if r.Accept("  ") {
		t.Fatalf("blank id should be rejected")
	}
	accepted, dup := r.Stats()
	if accepted != 1 || dup != 1 {
		t.Fatalf("stats = %d/%d, want 1/1", accepted, dup)
	}
}

func TestRecentIDsForgetsOldest(t *testing.T) {
	r := NewRecentIDs(2, time.Minute)
	r.Accept("a")
	r.Accept("b")
	r.Accept("c")
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
	if !r.Accept("a") {
		t.Fatalf("evicted id should be accepted again")
	}
}

func TestRecentIDsExpire(t *testing.T) {
	r := NewRecentIDs(8, 30*time.Millisecond)
	r.Accept("k")
	time.Sleep(80 * time.Millisecond)
	if !r.Accept("k") {
		t.Fatalf("expired id should be accepted again")
	}
}

func TestRecentIDsReset(t *testing.T) {
	r := NewRecentIDs(4, time.Minute)
	r.Accept("x")
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("reset should clear ids")
	}
	if a, d := r.Stats(); a != 0 || d != 0 {
		t.Fatalf("reset should zero stats, got %d/%d", a, d)
	}
}
