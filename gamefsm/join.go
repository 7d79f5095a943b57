package gamefsm

import (
	"context"

	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/registry"
	"github.com/tgoossens/htttp-peno/transport"
	"github.com/tgoossens/htttp-peno/vote"
)

// Join is the local `join()` operation, spec.md §4.2. Legal only from
// DISCONNECTED. It is asynchronous: the outcome is reported to
// handlers.Joined, not via this call's return value, except for the
// synchronous precondition check.
func (p *Peer) Join(handlers Handlers) error {
	p.mu.Lock()
	if p.state != Disconnected {
		err := precondition("join only legal in DISCONNECTED, have %s", p.state)
		p.mu.Unlock()
		return err
	}
	p.handlers = handlers
	p.state = Joining
	p.reg.Clear()
	p.mu.Unlock()

	p.startHeartbeat()

	unbindJoinPhase, err := p.t.Bind("#", p.route)
	if err != nil {
		p.mu.Lock()
		p.state = Disconnected
		p.mu.Unlock()
		p.stopHeartbeat()
		return err
	}
	p.mu.Lock()
	p.unbindJoinPhase = unbindJoinPhase
	p.mu.Unlock()

	go p.runJoinVote()
	return nil
}

func (p *Peer) runJoinVote() {
	v, err := vote.New(p.t, p.cfg.N-1)
	if err != nil {
		p.failJoin(err)
		return
	}
	defer v.Cancel()

	if err := v.Cast(context.Background(), topicJoin, map[string]any{
		"clientID": p.clientID,
	}, p.cfg.PlayerID); err != nil {
		p.failJoin(err)
		return
	}

	outcome := v.Await(p.cfg.RequestLifetime, func(r vote.Reply, e codec.Envelope) {
		if !r.Accept {
			return
		}
		p.adoptJoinReply(e)
	})

	switch outcome {
	case vote.Accepted, vote.AcceptedByDefault:
		p.completeJoin()
	default:
		p.rejectJoin()
	}
}

// adoptJoinReply folds one accepting voter's advertised state into this
// peer's not-yet-admitted view, spec.md §4.2 step 4: a voter that reports
// itself joined is stored as confirmed (with its ready flag), a richer
// gameState is adopted, and player numbers and the missing list are merged.
func (p *Peer) adoptJoinReply(e codec.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id := codec.StringField(e, "playerID"); id != "" && codec.BoolField(e, "isJoined") {
		cid := codec.StringField(e, "clientID")
		p.reg.AddVoted(id, cid)
		p.reg.Confirm(id, cid)
		p.reg.SetReady(id, codec.BoolField(e, "isReady"))
	}

	if gs, ok := codec.IntField(e, "gameState"); ok && State(gs) > p.state {
		p.state = State(gs)
	}
	if raw, ok := e.Fields["playerNumbers"]; ok {
		if m, ok := raw.(map[string]any); ok {
			if p.playerNumbers == nil {
				p.playerNumbers = make(map[string]int)
			}
			for id, v := range m {
				if n, ok := v.(float64); ok {
					p.playerNumbers[id] = int(n)
				}
			}
		}
	}
	if raw, ok := e.Fields["missingPlayers"]; ok {
		if list, ok := raw.([]any); ok {
			for _, item := range list {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				id, _ := m["playerID"].(string)
				if id == "" {
					continue
				}
				p.reg.AddVoted(id, "")
			}
		}
	}
}

func (p *Peer) completeJoin() {
	p.mu.Lock()
	if p.unbindJoinPhase == nil {
		// Leave ran while the vote was in flight; nothing left to do.
		p.mu.Unlock()
		return
	}
	// adoptJoinReply may already have adopted a richer gameState from a
	// voter; only a peer still in JOINING moves to WAITING here.
	if p.state == Joining {
		p.state = Waiting
	}
	p.reg.AddVoted(p.cfg.PlayerID, p.clientID)
	p.reg.Confirm(p.cfg.PlayerID, p.clientID)
	unbindJoinPhase := p.unbindJoinPhase
	p.unbindJoinPhase = nil
	p.mu.Unlock()

	if unbindJoinPhase != nil {
		unbindJoinPhase()
	}

	unbindPublic, err := p.t.Bind("#", p.route)
	if err == nil {
		p.mu.Lock()
		p.unbindPublic = unbindPublic
		p.mu.Unlock()
	}

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	_ = p.publish(ctx, topicJoined, map[string]any{"clientID": p.clientID})

	p.replayFoundObject()
	p.tryRoll()

	p.dispatch(func() {
		if p.handlers.Joined != nil {
			p.handlers.Joined(nil)
		}
	})
}

func (p *Peer) rejectJoin() {
	p.mu.Lock()
	if p.unbindJoinPhase == nil {
		p.mu.Unlock()
		return
	}
	p.state = Disconnected
	unbind := p.unbindJoinPhase
	p.unbindJoinPhase = nil
	p.mu.Unlock()

	if unbind != nil {
		unbind()
	}
	p.stopHeartbeat()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	_ = p.publish(ctx, topicDisconnect, map[string]any{
		"clientID": p.clientID,
		"reason":   string(ReasonReject),
	})

	p.dispatch(func() {
		if p.handlers.Joined != nil {
			p.handlers.Joined(ErrProtocolReject)
		}
	})
}

func (p *Peer) failJoin(err error) {
	p.mu.Lock()
	p.state = Disconnected
	p.mu.Unlock()
	p.stopHeartbeat()
	p.dispatch(func() {
		if p.handlers.Joined != nil {
			p.handlers.Joined(err)
		}
	})
}

// replayFoundObject re-fires playerFoundObject for every player already
// marked found at admission time, spec.md §4.2 step 5.
func (p *Peer) replayFoundObject() {
	for _, id := range p.reg.ConfirmedIDs() {
		if ps, ok := p.reg.IsConfirmed(id); ok && ps.HasFoundObject {
			pid := id
			p.dispatch(func() {
				if p.handlers.PlayerFoundObject != nil {
					p.handlers.PlayerFoundObject(pid)
				}
			})
		}
	}
}

// handleJoin is the voter side of spec.md §4.2 steps 2–3: evaluate
// canJoin, record the candidate in voted, and reply.
func (p *Peer) handleJoin(d transport.Delivery, e codec.Envelope) {
	playerID := e.PlayerID
	clientID := codec.StringField(e, "clientID")
	if playerID == "" || clientID == "" || d.ReplyTo == "" {
		return
	}
	if clientID == p.clientID {
		// drop our own join request: the transport fans a publish out to
		// every matching binding including the publisher's, and we must
		// not vote on (or reply to) our own candidacy.
		return
	}

	p.mu.Lock()
	accept := p.canJoinLocked(playerID, clientID)
	if accept {
		p.reg.AddVoted(playerID, clientID)
	}
	self, _ := p.reg.IsConfirmed(p.cfg.PlayerID)
	reply := map[string]any{
		"result":    accept,
		"clientID":  p.clientID,
		"playerID":  p.cfg.PlayerID,
		"isReady":   self.IsReady,
		"isJoined":  p.state != Disconnected && p.state != Joining,
		"gameState": int(p.state),
	}
	if p.playerNumbers != nil {
		reply["playerNumbers"] = p.playerNumbers
	}
	reply["missingPlayers"] = missingPayload(p.reg.MissingIDs(), p.reg)
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	body, err := codec.Encode(codec.Envelope{RoutingKey: d.ReplyTo, PlayerID: p.cfg.PlayerID, Fields: reply})
	if err != nil {
		return
	}
	_ = p.t.Publish(ctx, d.ReplyTo, body, transport.Props{CorrelationID: d.CorrelationID})
}

// handleSnapshotRequest answers a spectator's late-join sync request
// (SPEC_FULL.md §4, supplemented from original_source) with this peer's
// registry snapshot and current lifecycle state. Any joined peer
// answers; the spectator only needs one reply.
func (p *Peer) handleSnapshotRequest(d transport.Delivery) {
	if d.ReplyTo == "" {
		return
	}
	p.mu.Lock()
	if p.state == Disconnected || p.state == Joining {
		p.mu.Unlock()
		return
	}
	snap, err := p.reg.Snapshot()
	state := p.state
	p.mu.Unlock()
	if err != nil {
		return
	}

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	body, err := codec.Encode(codec.Envelope{
		RoutingKey: d.ReplyTo,
		PlayerID:   p.cfg.PlayerID,
		Fields: map[string]any{
			"snapshot":  string(snap),
			"gameState": int(state),
		},
	})
	if err != nil {
		return
	}
	_ = p.t.Publish(ctx, d.ReplyTo, body, transport.Props{CorrelationID: d.CorrelationID})
}

// canJoinLocked is spec.md §4.2 step 2. Caller must hold mu.
func (p *Peer) canJoinLocked(playerID, clientID string) bool {
	switch p.state {
	case Playing:
		return false
	case Paused:
		_, missing := p.reg.IsMissing(playerID)
		return missing
	case Joining, Starting, Waiting:
		if p.reg.HasConflictingConfirmed(playerID, clientID) {
			return false
		}
		if _, confirmed := p.reg.IsConfirmed(playerID); confirmed {
			return true
		}
		if p.reg.HasVoted(playerID) {
			return true
		}
		return p.reg.VotedPlusConfirmedCount()+1 <= p.cfg.N
	default:
		return false
	}
}

// handleJoined is spec.md §4.2 step 6: another peer's admission.
func (p *Peer) handleJoined(e codec.Envelope) {
	playerID := e.PlayerID
	clientID := codec.StringField(e, "clientID")
	if playerID == "" {
		return
	}

	p.mu.Lock()
	ps := p.reg.Confirm(playerID, clientID)
	_ = ps
	p.mu.Unlock()

	p.dispatch(func() {
		if p.handlers.PlayerJoined != nil {
			p.handlers.PlayerJoined(playerID)
		}
	})

	p.tryRoll()
}

// handleDisconnect is spec.md §4.7.
func (p *Peer) handleDisconnect(e codec.Envelope) {
	playerID := e.PlayerID
	clientID := codec.StringField(e, "clientID")
	reason := DisconnectReason(codec.StringField(e, "reason"))
	if playerID == "" {
		return
	}

	p.mu.Lock()
	ps, confirmed := p.reg.IsConfirmed(playerID)
	if !confirmed || ps.ClientID != clientID {
		p.mu.Unlock()
		return // dedup: not currently connected for this pair.
	}
	switch p.state {
	case Joining:
		p.reg.Remove(playerID)
	case Waiting, Starting:
		p.reg.Remove(playerID)
		p.clearRollsLocked()
		p.state = Waiting
	case Playing, Paused:
		p.reg.MoveToMissing(playerID)
		p.state = Paused
	}
	p.mu.Unlock()

	p.dispatch(func() {
		if p.handlers.PlayerDisconnected != nil {
			p.handlers.PlayerDisconnected(playerID, reason)
		}
	})
}

// Leave is the local `leave()` operation, legal in any connected state.
func (p *Peer) Leave() error {
	p.mu.Lock()
	if p.state == Disconnected {
		p.mu.Unlock()
		return precondition("leave only legal while connected")
	}
	p.state = Disconnected
	unbindJoinPhase, unbindPublic, unbindTeam := p.unbindJoinPhase, p.unbindPublic, p.unbindTeam
	p.unbindJoinPhase, p.unbindPublic, p.unbindTeam = nil, nil, nil
	p.reg.Clear()
	p.playerNumbers = nil
	p.playerRolls = nil
	p.seesawLock = 0
	p.localTeam = -1
	p.partnerID = ""
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	_ = p.publish(ctx, topicDisconnect, map[string]any{
		"clientID": p.clientID,
		"reason":   string(ReasonLeave),
	})
	cancel()

	p.stopHeartbeat()
	for _, unbind := range []func() error{unbindJoinPhase, unbindPublic, unbindTeam} {
		if unbind != nil {
			_ = unbind()
		}
	}
	return nil
}

// missingPayload builds the missingPlayers[] join-reply field, spec.md
// §6: {playerID, hasFoundObject, teamNumber} per missing player.
func missingPayload(ids []string, reg *registry.Registry) []map[string]any {
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		ps, ok := reg.IsMissing(id)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"playerID":       id,
			"hasFoundObject": ps.HasFoundObject,
			"teamNumber":     ps.TeamNumber,
		})
	}
	return out
}
