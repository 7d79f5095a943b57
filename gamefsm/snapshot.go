package gamefsm

import (
	"context"
	"time"

	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/request"
	"github.com/tgoossens/htttp-peno/transport"
)

// RequestSnapshot issues a one-shot snapshotRequest over t and returns
// the first reply's registry snapshot bytes and lifecycle state. It is
// exported for the spectator role's late-join sync (SPEC_FULL.md §4,
// supplemented from original_source) — a spectator has no Peer of its
// own to answer from, so it borrows the wire protocol directly rather
// than standing up a whole Peer just to ask one question.
func RequestSnapshot(t transport.Transport, timeout time.Duration) (State, []byte, bool) {
	req, err := request.New(t)
	if err != nil {
		return Disconnected, nil, false
	}
	defer req.Cancel()

	if err := req.Send(context.Background(), topicSnapshotRequest, nil, "spectator"); err != nil {
		return Disconnected, nil, false
	}

	replies, err := req.Collect(timeout, func(codec.Envelope) bool {
		return false // one reply is enough.
	})
	if err != nil || len(replies) == 0 {
		return Disconnected, nil, false
	}

	e := replies[0]
	gs, ok := codec.IntField(e, "gameState")
	if !ok {
		return Disconnected, nil, false
	}
	snap := codec.StringField(e, "snapshot")
	return State(gs), []byte(snap), true
}
