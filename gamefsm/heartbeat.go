// Heartbeat / failure detector, spec.md §4.6.
//
// Grounded on the teacher's discovery/options.go periodic-ticker idiom
// (a ticker goroutine cancelled via context, bailing out on transport
// error) — discovery/ itself was dropped (HTTTP has no peer-discovery
// phase of its own, join IS discovery), but its ticker-plus-cancel
// shape is exactly spec.md §5's "the heartbeat task is cancelled on
// leave, and bails out permanently on any transport I/O failure."
package gamefsm

import (
	"context"
	"time"

	"github.com/tgoossens/htttp-peno/codec"
)

func (p *Peer) startHeartbeat() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.hbCancel = cancel
	p.hbDone = done
	p.mu.Unlock()

	go p.heartbeatLoop(ctx, done)
}

func (p *Peer) stopHeartbeat() {
	p.mu.Lock()
	cancel := p.hbCancel
	done := p.hbDone
	p.hbCancel = nil
	p.hbDone = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Peer) heartbeatLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.HeartbeatFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.beat(ctx) {
				return
			}
		}
	}
}

// beat publishes one heartbeat and, outside JOINING, reaps stale peers.
// It returns false if the transport has failed permanently, in which
// case the caller's loop exits (spec.md §5: "bails out permanently on
// any transport I/O failure").
func (p *Peer) beat(ctx context.Context) bool {
	pubCtx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	if err := p.publish(pubCtx, topicHeartbeat, nil); err != nil {
		if p.log != nil {
			p.log.Warn("heartbeat publish failed, stopping heartbeat", "err", err)
		}
		return false
	}

	now := time.Now().UnixNano()
	p.mu.Lock()
	p.reg.Touch(p.cfg.PlayerID, now)
	state := p.state
	p.mu.Unlock()

	if state == Joining || state == Disconnected {
		// local membership view isn't authoritative yet, spec.md §4.6.
		return true
	}
	p.reapStale(now)
	return true
}

func (p *Peer) handleHeartbeat(e codec.Envelope) {
	playerID := e.PlayerID
	if playerID == "" {
		return
	}
	p.reg.Touch(playerID, time.Now().UnixNano())
}

func (p *Peer) reapStale(nowUnixNano int64) {
	cutoff := nowUnixNano - p.cfg.HeartbeatLifetime.Nanoseconds()
	for _, id := range p.reg.Stale(cutoff) {
		p.declareMissing(id)
	}
}

// declareMissing runs the same transition handleDisconnect would for a
// TIMEOUT reason, and additionally broadcasts the disconnect on the
// stale peer's behalf so partitioned observers converge, spec.md §4.6.
func (p *Peer) declareMissing(playerID string) {
	p.mu.Lock()
	ps, confirmed := p.reg.IsConfirmed(playerID)
	if !confirmed {
		p.mu.Unlock()
		return
	}
	switch p.state {
	case Waiting, Starting:
		p.reg.Remove(playerID)
		p.clearRollsLocked()
		p.state = Waiting
	case Playing, Paused:
		p.reg.MoveToMissing(playerID)
		p.state = Paused
	}
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	_ = p.publishAs(ctx, topicDisconnect, playerID, map[string]any{
		"clientID": ps.ClientID,
		"reason":   string(ReasonTimeout),
	})
	cancel()

	p.dispatch(func() {
		if p.handlers.PlayerDisconnected != nil {
			p.handlers.PlayerDisconnected(playerID, ReasonTimeout)
		}
	})
}
