package gamefsm

import (
	"testing"
	"time"

	"github.com/tgoossens/htttp-peno/transport/memtransport"
)

// TestJoinTeamPartnersWithOtherPeerNotSelf guards against a self-ping
// regression: the shared bus fans a peer's own ping back to its own
// team binding, and without a self-origin check a peer would reply to
// itself and "partner" with itself instead of waiting for the other
// team member. Two distinct peers calling JoinTeam on the same team
// number must partner with each other.
func TestJoinTeamPartnersWithOtherPeerNotSelf(t *testing.T) {
	bus := memtransport.NewBus()
	a := newTestPeer(bus, "A", 4)
	b := newTestPeer(bus, "B", 4)
	setPlayingForTest(t, a)
	setPlayingForTest(t, b)

	aPartner := make(chan string, 1)
	bPartner := make(chan string, 1)
	a.handlers.TeamConnected = func(id string) { aPartner <- id }
	b.handlers.TeamConnected = func(id string) { bPartner <- id }

	if err := a.JoinTeam(1); err != nil {
		t.Fatalf("a.JoinTeam: %v", err)
	}
	if err := b.JoinTeam(1); err != nil {
		t.Fatalf("b.JoinTeam: %v", err)
	}

	select {
	case id := <-aPartner:
		if id != "B" {
			t.Fatalf("A partnered with %q, want B", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for A's partner")
	}
	select {
	case id := <-bPartner:
		if id != "A" {
			t.Fatalf("B partnered with %q, want A", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for B's partner")
	}
}

func setPlayingForTest(t *testing.T, p *Peer) {
	t.Helper()
	p.mu.Lock()
	p.state = Playing
	p.mu.Unlock()
}
