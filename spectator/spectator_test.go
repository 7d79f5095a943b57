package spectator

import (
	"context"
	"testing"
	"time"

	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/config"
	"github.com/tgoossens/htttp-peno/dispatch"
	"github.com/tgoossens/htttp-peno/gamefsm"
	"github.com/tgoossens/htttp-peno/htttlog"
	"github.com/tgoossens/htttp-peno/transport"
	"github.com/tgoossens/htttp-peno/transport/memtransport"
)

func TestSpectatorMirrorsJoinAndStart(t *testing.T) {
	bus := memtransport.NewBus()

	started := make(chan struct{}, 1)
	sp := New(bus.Peer(), 2, Handlers{
		GameStarted: func() { started <- struct{}{} },
	}, htttlog.Discard())
	if err := sp.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sp.Stop()

	publisher := bus.Peer()
	defer publisher.Close()
	ctx := context.Background()

	body, _ := codec.Encode(codec.Envelope{RoutingKey: "joined", PlayerID: "A", Fields: map[string]any{"clientID": "c1"}})
	if err := publisher.Publish(ctx, "joined", body, transport.Props{}); err != nil {
		t.Fatalf("publish joined: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := sp.Registry().IsConfirmed("A"); !ok {
		t.Fatal("expected spectator to have observed A's join")
	}

	startBody, _ := codec.Encode(codec.Envelope{RoutingKey: "start", PlayerID: "A"})
	if err := publisher.Publish(ctx, "start", startBody, transport.Props{}); err != nil {
		t.Fatalf("publish start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for GameStarted")
	}
	if sp.State() != gamefsm.Playing {
		t.Fatalf("expected PLAYING, got %s", sp.State())
	}
}

// TestSpectatorLateJoinRestoresSnapshot is SPEC_FULL.md §4/§5.13: a
// spectator that attaches after a peer has already joined learns the
// roster and lifecycle state from a snapshot reply instead of having to
// wait for the next broadcast that happens to name that player.
func TestSpectatorLateJoinRestoresSnapshot(t *testing.T) {
	bus := memtransport.NewBus()

	cfg := config.Default()
	cfg.PlayerID = "A"
	cfg.N = 4
	cfg.RequestLifetime = 80 * time.Millisecond
	cfg.HeartbeatFreq = 30 * time.Millisecond
	cfg.HeartbeatLifetime = 90 * time.Millisecond
	peer := gamefsm.New(cfg, bus.Peer(), dispatch.Sync(), htttlog.Discard())

	joined := make(chan error, 1)
	if err := peer.Join(gamefsm.Handlers{Joined: func(err error) { joined <- err }}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	select {
	case err := <-joined:
		if err != nil {
			t.Fatalf("join failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for join")
	}

	sp := New(bus.Peer(), 2, Handlers{}, htttlog.Discard())
	if err := sp.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sp.Stop()

	deadline := time.After(time.Second)
	for {
		if _, ok := sp.Registry().IsConfirmed("A"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for late-join snapshot to restore A")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if sp.State() != gamefsm.Waiting {
		t.Fatalf("expected WAITING from restored snapshot, got %s", sp.State())
	}
}
