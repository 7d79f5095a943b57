package registry

import "testing"

func TestConfirmFromVotedStartsFresh(t *testing.T) {
	r := New()
	r.AddVoted("C", "client-1")
	ps := r.Confirm("C", "client-1")
	if ps.TeamNumber != -1 {
		t.Fatalf("expected fresh team -1, got %d", ps.TeamNumber)
	}
	if _, ok := r.IsConfirmed("C"); !ok {
		t.Fatal("expected C confirmed")
	}
}

// TestRejoinRoundTrip is spec.md's L2: confirmed x disconnect(TIMEOUT) x
// rejoin yields the same hasFoundObject/teamNumber as before disconnect.
func TestRejoinRoundTrip(t *testing.T) {
	r := New()
	r.AddVoted("C", "client-1")
	r.Confirm("C", "client-1")
	r.SetFoundObject("C")
	r.SetTeamNumber("C", 1)

	before, _ := r.IsConfirmed("C")

	// disconnect (TIMEOUT): move to missing.
	moved, ok := r.MoveToMissing("C")
	if !ok {
		t.Fatal("expected C to be confirmed before moving to missing")
	}
	if moved.HasFoundObject != before.HasFoundObject || moved.TeamNumber != before.TeamNumber {
		t.Fatal("state mutated on move to missing")
	}

	// rejoin with a new clientID.
	r.AddVoted("C", "client-2")
	after := r.Confirm("C", "client-2")

	if after.HasFoundObject != before.HasFoundObject {
		t.Errorf("hasFoundObject not preserved: before=%v after=%v", before.HasFoundObject, after.HasFoundObject)
	}
	if after.TeamNumber != before.TeamNumber {
		t.Errorf("teamNumber not preserved: before=%d after=%d", before.TeamNumber, after.TeamNumber)
	}
	if after.ClientID != "client-2" {
		t.Errorf("expected new clientID to win, got %s", after.ClientID)
	}
	if _, stillMissing := r.IsMissing("C"); stillMissing {
		t.Error("I1 violated: C present in both confirmed and missing")
	}
}

func TestHasConflictingConfirmed(t *testing.T) {
	r := New()
	r.AddVoted("C", "client-1")
	r.Confirm("C", "client-1")

	if r.HasConflictingConfirmed("C", "client-1") {
		t.Error("same clientID should not conflict")
	}
	if !r.HasConflictingConfirmed("C", "client-2") {
		t.Error("different clientID should conflict")
	}
}

func TestSnapshotRestore(t *testing.T) {
	r := New()
	r.AddVoted("A", "c1")
	r.Confirm("A", "c1")
	r.SetFoundObject("A")

	data, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	r2 := New()
	if err := r2.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	ps, ok := r2.IsConfirmed("A")
	if !ok || !ps.HasFoundObject {
		t.Fatalf("restored state wrong: %+v ok=%v", ps, ok)
	}
}

func TestSetReadyIdempotent(t *testing.T) {
	r := New()
	r.AddVoted("A", "c1")
	r.Confirm("A", "c1")

	if !r.SetReady("A", true) {
		t.Fatal("first SetReady(true) should report a change")
	}
	if r.SetReady("A", true) {
		t.Fatal("second SetReady(true) should report no change (L1 idempotence)")
	}
}
