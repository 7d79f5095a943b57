package gamefsm

import (
	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/transport"
)

// route is the single delivery callback every binding funnels through,
// dispatched by topic prefix — spec.md §9 "Nested handler classes...
// collapse to three pure routing functions dispatched from a single
// delivery callback keyed on topic prefix." Team topics are handled by
// a separate callback (team.go's onTeamDelivery) since they're bound on
// their own pattern with their own routing-key shape.
func (p *Peer) route(d transport.Delivery) {
	e, err := codec.Decode(d.Body)
	if err != nil {
		// malformed message: drop this delivery only, spec.md §7.
		return
	}
	switch d.RoutingKey {
	case topicJoin:
		p.handleJoin(d, e)
	case topicJoined:
		p.handleJoined(e)
	case topicDisconnect:
		p.handleDisconnect(e)
	case topicReady:
		p.handleReady(e)
	case topicRoll:
		p.handleRoll(e)
	case topicStart:
		p.handleStart()
	case topicStop:
		p.handleStop()
	case topicPause:
		p.handlePause()
	case topicFound:
		p.handleFound(e)
	case topicHeartbeat:
		p.handleHeartbeat(e)
	case topicUpdate:
		p.handleUpdate(e)
	case topicSeesawLock:
		p.handleSeesawLock(e)
	case topicSeesawUnlock:
		p.handleSeesawUnlock(e)
	case topicWin:
		p.handleWin(e)
	case topicSnapshotRequest:
		p.handleSnapshotRequest(d)
	default:
		// team.<n>.* topics are handled by the dedicated team binding
		// (team.go's teamDeliveryHandler), not by this "#" binding —
		// otherwise a team message delivered to both bindings would be
		// processed twice.
	}
}
