// Seesaw mutual exclusion, spec.md §4.4: a broadcast notification, not
// a distributed lock — physical exclusion is the robots' own problem.
package gamefsm

import "github.com/tgoossens/htttp-peno/codec"

// LockSeesaw is legal only in PLAYING. Idempotent for the same
// barcode (L1); fails precondition for a different barcode while one
// is already held (I5).
func (p *Peer) LockSeesaw(barcode int) error {
	p.mu.Lock()
	if p.state != Playing {
		err := precondition("lockSeesaw only legal in PLAYING, have %s", p.state)
		p.mu.Unlock()
		return err
	}
	if p.seesawLock == barcode && barcode != 0 {
		p.mu.Unlock()
		return nil
	}
	if p.seesawLock != 0 {
		err := precondition("seesaw %d already held, cannot lock %d", p.seesawLock, barcode)
		p.mu.Unlock()
		return err
	}
	p.seesawLock = barcode
	number := p.playerNumbers[p.cfg.PlayerID]
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	return p.publish(ctx, topicSeesawLock, map[string]any{
		"playerNumber": number,
		"barcode":      barcode,
	})
}

// UnlockSeesaw clears the local lock and publishes seesawUnlock. A
// no-op if nothing is held.
func (p *Peer) UnlockSeesaw() error {
	p.mu.Lock()
	barcode := p.seesawLock
	if barcode == 0 {
		p.mu.Unlock()
		return nil
	}
	p.seesawLock = 0
	number := p.playerNumbers[p.cfg.PlayerID]
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	return p.publish(ctx, topicSeesawUnlock, map[string]any{
		"playerNumber": number,
		"barcode":      barcode,
	})
}

func (p *Peer) handleSeesawLock(e codec.Envelope) {
	number, _ := codec.IntField(e, "playerNumber")
	barcode, _ := codec.IntField(e, "barcode")
	p.dispatch(func() {
		if p.handlers.SeesawLocked != nil {
			p.handlers.SeesawLocked(number, barcode)
		}
	})
}

func (p *Peer) handleSeesawUnlock(e codec.Envelope) {
	number, _ := codec.IntField(e, "playerNumber")
	barcode, _ := codec.IntField(e, "barcode")
	p.dispatch(func() {
		if p.handlers.SeesawUnlocked != nil {
			p.handlers.SeesawUnlocked(number, barcode)
		}
	})
}
