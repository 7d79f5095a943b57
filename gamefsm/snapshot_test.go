package gamefsm

import (
	"testing"
	"time"

	"github.com/tgoossens/htttp-peno/registry"
	"github.com/tgoossens/htttp-peno/transport/memtransport"
)

// TestRequestSnapshotAgainstJoinedPeer is the wire-level half of
// SPEC_FULL.md §4's late-join sync: a bare requester (standing in for
// spectator.Spectator, which has no Peer of its own) asks a joined peer
// for a snapshot and gets back its registry and lifecycle state.
func TestRequestSnapshotAgainstJoinedPeer(t *testing.T) {
	bus := memtransport.NewBus()
	a := newTestPeer(bus, "A", 4)
	joinAndWait(t, a)

	state, snap, ok := RequestSnapshot(bus.Peer(), 500*time.Millisecond)
	if !ok {
		t.Fatal("expected a snapshot reply from the joined peer")
	}
	if state != Waiting {
		t.Fatalf("expected WAITING, got %s", state)
	}

	reg := registry.New()
	if err := reg.Restore(snap); err != nil {
		t.Fatalf("restore snapshot: %v", err)
	}
	ids := reg.ConfirmedIDs()
	if len(ids) != 1 || ids[0] != "A" {
		t.Fatalf("expected confirmed={A}, got %v", ids)
	}
}

// TestRequestSnapshotTimesOutWithNoPeers covers a spectator starting
// before anyone has joined: it gets no answer and simply falls back to
// observing from here on.
func TestRequestSnapshotTimesOutWithNoPeers(t *testing.T) {
	bus := memtransport.NewBus()
	_, _, ok := RequestSnapshot(bus.Peer(), 50*time.Millisecond)
	if ok {
		t.Fatal("expected no snapshot reply when no peer has joined")
	}
}

// TestDisconnectedPeerDoesNotAnswerSnapshotRequest guards against a
// not-yet-admitted peer answering for state it doesn't own: a peer
// still in JOINING (or never joined) must not reply.
func TestDisconnectedPeerDoesNotAnswerSnapshotRequest(t *testing.T) {
	bus := memtransport.NewBus()
	_ = newTestPeer(bus, "A", 4) // never joined

	_, _, ok := RequestSnapshot(bus.Peer(), 80*time.Millisecond)
	if ok {
		t.Fatal("expected no snapshot reply from a disconnected peer")
	}
}
