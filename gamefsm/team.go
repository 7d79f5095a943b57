// Team channel, spec.md §4.5: ping/pong partner discovery on a
// team-scoped topic, best-effort tile exchange, partner position
// filtered out of the public `update` topic (see ops.go's
// handleUpdate).
//
// Grounded on the teacher's communication request/reply shape
// (consensus/protocol.go's ProposeAction), reused here for partner
// discovery instead of proposal broadcast: a pong is just a reply on
// the requester's ephemeral queue, never its own wire topic — which is
// why spec.md §6's topic table has no `team.<n>.pong` entry.
package gamefsm

import (
	"context"
	"strconv"
	"strings"

	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/request"
	"github.com/tgoossens/htttp-peno/transport"
)

// JoinTeam is legal only in PLAYING. It binds the team-scoped pattern
// and issues a ping; if a partner is already listening it replies
// immediately, otherwise this peer keeps listening and a later-joining
// partner's own ping will drive the same handler from the other side
// (spec.md §4.5, and §9's note that this TODO-shaped asymmetry is
// preserved behavior, not a bug).
func (p *Peer) JoinTeam(n int) error {
	p.mu.Lock()
	if p.state != Playing {
		err := precondition("joinTeam only legal in PLAYING, have %s", p.state)
		p.mu.Unlock()
		return err
	}
	if p.localTeam == n {
		p.mu.Unlock()
		return nil
	}
	p.localTeam = n
	p.mu.Unlock()

	unbind, err := p.t.Bind(teamPattern(n), p.teamDeliveryHandler)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.unbindTeam = unbind
	p.mu.Unlock()

	go p.pingTeam(n)
	return nil
}

func (p *Peer) pingTeam(n int) {
	req, err := request.New(p.t)
	if err != nil {
		return
	}
	defer req.Cancel()

	if err := req.Send(context.Background(), teamPingTopic(n), nil, p.cfg.PlayerID); err != nil {
		return
	}
	replies, err := req.Collect(p.cfg.RequestLifetime, func(codec.Envelope) bool {
		return false // one reply is enough.
	})
	if err != nil || len(replies) == 0 {
		return // no partner yet; they'll ping us when they join.
	}
	p.setPartner(replies[0].PlayerID)
}

func (p *Peer) setPartner(partnerID string) {
	if partnerID == "" {
		return
	}
	p.mu.Lock()
	if p.partnerID == partnerID {
		p.mu.Unlock()
		return
	}
	p.partnerID = partnerID
	p.mu.Unlock()

	p.dispatch(func() {
		if p.handlers.TeamConnected != nil {
			p.handlers.TeamConnected(partnerID)
		}
	})
}

// SendTiles publishes a best-effort map-sharing message on this peer's
// team channel.
func (p *Peer) SendTiles(tiles [][3]int) error {
	p.mu.Lock()
	n := p.localTeam
	if p.state != Playing || n < 0 {
		err := precondition("sendTiles only legal in PLAYING after joinTeam, have state=%s team=%d", p.state, n)
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	defer cancel()
	return p.publish(ctx, teamTileTopic(n), map[string]any{"tiles": tiles})
}

// Win is legal only in PLAYING with a known partner; it publishes
// `win` and then performs a local stop() (spec.md §4.5).
func (p *Peer) Win() error {
	p.mu.Lock()
	n := p.localTeam
	if p.state != Playing || p.partnerID == "" {
		err := precondition("win only legal in PLAYING with a known partner, have state=%s partner=%q", p.state, p.partnerID)
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
	if err := p.publish(ctx, topicWin, map[string]any{"teamNumber": n}); err != nil {
		cancel()
		return err
	}
	cancel()
	return p.Stop()
}

func (p *Peer) handleWin(e codec.Envelope) {
	n, ok := codec.IntField(e, "teamNumber")
	if !ok {
		return
	}
	p.dispatch(func() {
		if p.handlers.TeamWon != nil {
			p.handlers.TeamWon(n)
		}
	})
}

// teamTopicParts parses "team.<n>.<suffix>" routing keys.
func teamTopicParts(routingKey string) (n int, suffix string, ok bool) {
	parts := strings.SplitN(routingKey, ".", 3)
	if len(parts) != 3 || parts[0] != "team" {
		return 0, "", false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", false
	}
	return n, parts[2], true
}

// teamDeliveryHandler is the callback bound to this peer's team-scoped
// pattern. It decodes and dispatches to onTeamDelivery; malformed
// bodies are dropped (spec.md §7).
func (p *Peer) teamDeliveryHandler(d transport.Delivery) {
	e, err := codec.Decode(d.Body)
	if err != nil {
		return
	}
	p.onTeamDelivery(d, e)
}

// onTeamDelivery handles a delivery on this peer's team-scoped binding:
// a `ping` gets an immediate reply plus the local partner-connected
// side effect; a `tile` fans out to TilesReceived.
func (p *Peer) onTeamDelivery(d transport.Delivery, e codec.Envelope) {
	_, suffix, ok := teamTopicParts(d.RoutingKey)
	if !ok {
		return
	}
	switch suffix {
	case "ping":
		if e.PlayerID == p.cfg.PlayerID {
			// drop our own ping: the transport fans it back to our own
			// binding, and a reply to it would make us our own partner.
			return
		}
		if d.ReplyTo != "" {
			ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
			body, err := codec.Encode(codec.Envelope{RoutingKey: d.ReplyTo, PlayerID: p.cfg.PlayerID})
			if err == nil {
				_ = p.t.Publish(ctx, d.ReplyTo, body, transport.Props{CorrelationID: d.CorrelationID})
			}
			cancel()
		}
		p.setPartner(e.PlayerID)
	case "tile":
		raw, ok := e.Fields["tiles"]
		if !ok {
			return
		}
		tiles := decodeTiles(raw)
		p.dispatch(func() {
			if p.handlers.TilesReceived != nil {
				p.handlers.TilesReceived(tiles)
			}
		})
	}
}

func decodeTiles(raw any) [][3]int {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	tiles := make([][3]int, 0, len(list))
	for _, item := range list {
		triple, ok := item.([]any)
		if !ok || len(triple) != 3 {
			continue
		}
		var t [3]int
		for i, v := range triple {
			if n, ok := v.(float64); ok {
				t[i] = int(n)
			}
		}
		tiles = append(tiles, t)
	}
	return tiles
}
