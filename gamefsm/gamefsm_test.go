package gamefsm

import (
	"sync"
	"testing"
	"time"

	"github.com/tgoossens/htttp-peno/config"
	"github.com/tgoossens/htttp-peno/dispatch"
	"github.com/tgoossens/htttp-peno/htttlog"
	"github.com/tgoossens/htttp-peno/transport/memtransport"
)

func testConfig(playerID string, n int) config.Config {
	cfg := config.Default()
	cfg.PlayerID = playerID
	cfg.N = n
	cfg.RequestLifetime = 80 * time.Millisecond
	cfg.HeartbeatFreq = 30 * time.Millisecond
	cfg.HeartbeatLifetime = 90 * time.Millisecond
	return cfg
}

func newTestPeer(bus *memtransport.Bus, playerID string, n int) *Peer {
	return New(testConfig(playerID, n), bus.Peer(), dispatch.Sync(), htttlog.Discard())
}

// TestFirstPlayer is spec.md's S1: a lone joiner is admitted on a
// zero-reply timeout.
func TestFirstPlayer(t *testing.T) {
	bus := memtransport.NewBus()
	a := newTestPeer(bus, "A", 4)

	joined := make(chan error, 1)
	if err := a.Join(Handlers{Joined: func(err error) { joined <- err }}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	select {
	case err := <-joined:
		if err != nil {
			t.Fatalf("expected successful join, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for join")
	}

	if a.State() != Waiting {
		t.Fatalf("expected WAITING, got %s", a.State())
	}
	if ids := a.reg.ConfirmedIDs(); len(ids) != 1 || ids[0] != "A" {
		t.Fatalf("expected confirmed={A}, got %v", ids)
	}
}

// TestFillLobbyAndStart is spec.md's S2.
func TestFillLobbyAndStart(t *testing.T) {
	bus := memtransport.NewBus()
	ids := []string{"A", "B", "C", "D"}
	peers := make(map[string]*Peer, 4)

	rolled := make(chan struct{}, 4)
	started := make(chan struct{}, 4)
	for _, id := range ids {
		p := newTestPeer(bus, id, 4)
		peers[id] = p
	}

	joinAndWait(t, peers["A"])

	var wg sync.WaitGroup
	for _, id := range []string{"B", "C", "D"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			joinAndWait(t, peers[id])
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		p := peers[id]
		p.handlers.GameRolled = func(int, int) { rolled <- struct{}{} }
		p.handlers.GameStarted = func() { started <- struct{}{} }
		if err := p.SetReady(true); err != nil {
			t.Fatalf("%s SetReady: %v", id, err)
		}
	}

	drain(t, rolled, 4, "roll")

	for _, id := range ids {
		if got := peers[id].State(); got != Starting {
			t.Fatalf("%s: expected STARTING after roll, got %s", id, got)
		}
	}

	if err := peers["A"].Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drain(t, started, 4, "start")

	for _, id := range ids {
		if got := peers[id].State(); got != Playing {
			t.Fatalf("%s: expected PLAYING, got %s", id, got)
		}
	}
}

// TestSeesawLockIdempotentAndExclusive is spec.md's S5.
func TestSeesawLockIdempotentAndExclusive(t *testing.T) {
	bus := memtransport.NewBus()
	a := newTestPeer(bus, "A", 4)
	a.state = Playing
	a.playerNumbers = map[string]int{"A": 1}

	if err := a.LockSeesaw(17); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if err := a.LockSeesaw(17); err != nil {
		t.Fatalf("repeat lock should be a no-op, got %v", err)
	}
	if err := a.LockSeesaw(23); err == nil {
		t.Fatal("expected precondition-violated locking a second barcode")
	}
	if err := a.UnlockSeesaw(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if a.seesawLock != 0 {
		t.Fatalf("expected lock cleared, got %d", a.seesawLock)
	}
}

// TestRollTieBreak is spec.md's S6 and L3: identical rolls break ties
// by lexicographic playerID, deterministically across peers.
func TestRollTieBreak(t *testing.T) {
	rolls := map[string]int32{"B": 5, "A": 5, "D": 9, "C": 9}
	numbers := assignPlayerNumbers(rolls)
	want := map[string]int{"A": 1, "B": 2, "C": 3, "D": 4}
	for id, n := range want {
		if numbers[id] != n {
			t.Errorf("player %s: want number %d, got %d", id, n, numbers[id])
		}
	}
}

func joinAndWait(t *testing.T, p *Peer) {
	t.Helper()
	done := make(chan error, 1)
	if err := p.Join(Handlers{Joined: func(err error) { done <- err }}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("join failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for join")
	}
}

func drain(t *testing.T, ch chan struct{}, n int, what string) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s (%d/%d)", what, i, n)
		}
	}
}
