// Package vote layers quorum semantics on top of request: collect
// typed accept/reject replies, succeed at a required quorum of accepts
// or on a zero-reply timeout (the "first player" case, spec.md §4.2 step
// 5), fail on the first reject.
//
// Grounded on the teacher's communication/bft.go broadcastVoteForProposal
// / onReceiveVotes / checkAndCommit pipeline: the accept/reject tally and
// early-reject short circuit are kept, the ed25519 signature
// verification and certificate/ledger commit are dropped (Non-goals: no
// cryptographic authentication, no persistent log).
package vote

import (
	"context"
	"time"

	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/request"
	"github.com/tgoossens/htttp-peno/transport"
)

// Reply is one peer's vote, decoded from the "result" field of a reply
// envelope (spec.md §6's join-reply shape).
type Reply struct {
	Accept bool
	Fields map[string]any
}

// Outcome is the terminal result of a Vote round.
type Outcome int

const (
	// Pending should never be observed by a caller; it's the zero value.
	Pending Outcome = iota
	Accepted
	Rejected
	// AcceptedByDefault is Accepted reached via a zero-reply timeout —
	// spec.md §4.2 step 5's "first player" case.
	AcceptedByDefault
)

// Vote runs one quorum-voted request/reply round.
type Vote struct {
	req      *request.Requester
	required int
}

// New starts a vote: declares a reply queue via t and returns a Vote
// requiring `required` accepts to succeed.
func New(t transport.Transport, required int) (*Vote, error) {
	r, err := request.New(t)
	if err != nil {
		return nil, err
	}
	return &Vote{req: r, required: required}, nil
}

// CorrelationID exposes the underlying request's id, e.g. for logging.
func (v *Vote) CorrelationID() string { return v.req.CorrelationID() }

// Cast publishes the vote request.
func (v *Vote) Cast(ctx context.Context, routingKey string, fields map[string]any, playerID string) error {
	return v.req.Send(ctx, routingKey, fields, playerID)
}

// Await collects replies until quorum, a reject, or timeout, invoking
// onReply for every decoded reply as it arrives (so the caller can fold
// in side information like gameState/playerNumbers from an accept, per
// spec.md §4.2 step 4) and returns the terminal Outcome.
func (v *Vote) Await(timeout time.Duration, onReply func(Reply, codec.Envelope)) Outcome {
	accepts := 0
	outcome := Pending

	_, err := v.req.Collect(timeout, func(e codec.Envelope) bool {
		result, _ := codec.Field[bool](e, "result")
		onReply(Reply{Accept: result, Fields: e.Fields}, e)
		if !result {
			outcome = Rejected
			return false // first reject short-circuits, spec.md §4.2
		}
		accepts++
		if accepts >= v.required {
			outcome = Accepted
			return false
		}
		return true
	})

	if outcome != Pending {
		return outcome
	}
	if err == request.ErrTimeout {
		if accepts == 0 {
			return AcceptedByDefault
		}
		// some accepts arrived but quorum was never reached: treat as a
		// failed vote. spec.md's L4 only guarantees success at >= required
		// accepts or zero replies; partial quorum on timeout is a reject.
		return Rejected
	}
	return Rejected
}

// Cancel releases the underlying request's reply queue.
func (v *Vote) Cancel() { v.req.Cancel() }
