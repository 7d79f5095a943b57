package gamefsm

import "github.com/tgoossens/htttp-peno/codec"

// SetReady is the local `setReady(bool)` operation, spec.md §4.1: legal
// while joined, publishes `ready` only on change (L1 idempotence).
func (p *Peer) SetReady(ready bool) error {
	p.mu.Lock()
	if p.state == Disconnected || p.state == Joining {
		err := precondition("setReady only legal while joined, have %s", p.state)
		p.mu.Unlock()
		return err
	}
	changed := p.reg.SetReady(p.cfg.PlayerID, ready)
	p.mu.Unlock()

	if !changed {
		return nil
	}
	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	if err := p.publish(ctx, topicReady, map[string]any{"isReady": ready}); err != nil {
		return err
	}
	p.tryRoll()
	return nil
}

func (p *Peer) handleReady(e codec.Envelope) {
	playerID := e.PlayerID
	ready := codec.BoolField(e, "isReady")
	if playerID == "" {
		return
	}
	p.mu.Lock()
	p.reg.SetReady(playerID, ready)
	p.mu.Unlock()
	p.tryRoll()
}

// Start is the local `start()` operation: legal only once canStart()
// holds, after the roll has produced playerNumbers.
func (p *Peer) Start() error {
	p.mu.Lock()
	if !p.canStartLocked() {
		err := precondition("start only legal when canStart(), have state=%s", p.state)
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	return p.publish(ctx, topicStart, nil)
}

func (p *Peer) handleStart() {
	p.mu.Lock()
	var fire bool
	switch p.state {
	case Starting:
		p.state = Playing
		fire = true
	case Paused:
		if p.reg.MissingCount() == 0 && p.reg.AllReady() {
			p.state = Playing
			fire = true
		}
	}
	p.mu.Unlock()

	if fire {
		p.dispatch(func() {
			if p.handlers.GameStarted != nil {
				p.handlers.GameStarted()
			}
		})
	}
}

// Stop is the local `stop()` operation: legal while joined and not
// WAITING.
func (p *Peer) Stop() error {
	p.mu.Lock()
	if p.state == Disconnected || p.state == Joining || p.state == Waiting {
		err := precondition("stop only legal while joined and not WAITING, have %s", p.state)
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	return p.publish(ctx, topicStop, nil)
}

func (p *Peer) handleStop() {
	p.mu.Lock()
	if p.state != Playing && p.state != Paused {
		p.mu.Unlock()
		return
	}
	p.state = Waiting
	p.clearRollsLocked()
	p.mu.Unlock()

	p.dispatch(func() {
		if p.handlers.GameStopped != nil {
			p.handlers.GameStopped()
		}
	})
}

// Pause is the local `pause()` operation: legal only in PLAYING;
// publishes pause then setReady(false), spec.md §4.1.
func (p *Peer) Pause() error {
	p.mu.Lock()
	if p.state != Playing {
		err := precondition("pause only legal in PLAYING, have %s", p.state)
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	if err := p.publish(ctx, topicPause, nil); err != nil {
		cancel()
		return err
	}
	cancel()
	return p.SetReady(false)
}

func (p *Peer) handlePause() {
	p.mu.Lock()
	if p.state != Playing {
		p.mu.Unlock()
		return
	}
	p.state = Paused
	p.mu.Unlock()

	p.dispatch(func() {
		if p.handlers.GamePaused != nil {
			p.handlers.GamePaused()
		}
	})
}

// UpdatePosition is the local `updatePosition(x,y,angle)` operation:
// legal only in PLAYING, bundled with the local foundObject flag.
func (p *Peer) UpdatePosition(x, y, angle float64) error {
	p.mu.Lock()
	if p.state != Playing {
		err := precondition("updatePosition only legal in PLAYING, have %s", p.state)
		p.mu.Unlock()
		return err
	}
	self, _ := p.reg.IsConfirmed(p.cfg.PlayerID)
	number := p.playerNumbers[p.cfg.PlayerID]
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	return p.publish(ctx, topicUpdate, map[string]any{
		"playerNumber": number,
		"x":            x,
		"y":            y,
		"angle":        angle,
		"foundObject":  self.HasFoundObject,
	})
}

func (p *Peer) handleUpdate(e codec.Envelope) {
	playerID := e.PlayerID
	x, _ := codec.Field[float64](e, "x")
	y, _ := codec.Field[float64](e, "y")
	angle, _ := codec.Field[float64](e, "angle")
	found := codec.BoolField(e, "foundObject")

	p.mu.Lock()
	isPartner := playerID != "" && playerID == p.partnerID
	p.mu.Unlock()

	if !isPartner {
		return
	}
	p.dispatch(func() {
		if p.handlers.PartnerUpdate != nil {
			p.handlers.PartnerUpdate(x, y, angle, found)
		}
	})
}

// FoundObject is the local `foundObject()` operation: legal only in
// PLAYING and not already found; persists and broadcasts.
func (p *Peer) FoundObject() error {
	p.mu.Lock()
	if p.state != Playing {
		err := precondition("foundObject only legal in PLAYING, have %s", p.state)
		p.mu.Unlock()
		return err
	}
	self, _ := p.reg.IsConfirmed(p.cfg.PlayerID)
	if self.HasFoundObject {
		p.mu.Unlock()
		return nil
	}
	p.reg.SetFoundObject(p.cfg.PlayerID)
	number := p.playerNumbers[p.cfg.PlayerID]
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	return p.publish(ctx, topicFound, map[string]any{"playerNumber": number})
}

func (p *Peer) handleFound(e codec.Envelope) {
	playerID := e.PlayerID
	if playerID == "" {
		return
	}
	p.mu.Lock()
	p.reg.SetFoundObject(playerID)
	p.mu.Unlock()

	p.dispatch(func() {
		if p.handlers.PlayerFoundObject != nil {
			p.handlers.PlayerFoundObject(playerID)
		}
	})
}
