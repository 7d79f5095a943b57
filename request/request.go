// Package request implements the request/response primitive spec.md
// §4.8 and §8 describe: correlate one published request with zero or
// more replies on an ephemeral reply queue, bounded by a timeout, and
// cancellable.
//
// Grounded on the teacher's ConsensusNode.ProposeAction +
// BroadcastwithTimeout pattern (consensus/protocol.go): publish, then
// block (here: select) waiting for matching replies or a timer.
package request

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/transport"
)

// ErrTimeout is returned by Collect when the deadline elapses before
// onReply asked it to stop, however many replies had arrived (treating
// zero replies as success lives in the vote package, not here — request
// itself is neutral about what "no replies" means).
var ErrTimeout = errors.New("request: timed out waiting for replies")

// ErrCancelled is returned by Collect after Cancel.
var ErrCancelled = errors.New("request: cancelled")

// Requester owns one ephemeral reply queue and one correlation ID for a
// single request/reply round.
type Requester struct {
	t             transport.Transport
	rq            transport.ReplyQueue
	correlationID string

	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// New declares a reply queue and correlation ID, ready to Send a
// request. The caller is responsible for eventually calling Cancel to
// release the queue; Collect's timeout does not release it.
func New(t transport.Transport) (*Requester, error) {
	rq, err := t.DeclareReplyQueue()
	if err != nil {
		return nil, err
	}
	return &Requester{
		t:             t,
		rq:            rq,
		correlationID: uuid.NewString(),
		done:          make(chan struct{}),
	}, nil
}

// CorrelationID is the id replies must echo to be collected by Collect.
func (r *Requester) CorrelationID() string { return r.correlationID }

// Send publishes one request to routingKey, tagged with this
// Requester's reply queue and correlation id.
func (r *Requester) Send(ctx context.Context, routingKey string, fields map[string]any, playerID string) error {
	body, err := codec.Encode(codec.Envelope{RoutingKey: routingKey, PlayerID: playerID, Fields: fields})
	if err != nil {
		return err
	}
	return r.t.Publish(ctx, routingKey, body, transport.Props{
		ReplyTo:       r.rq.Name(),
		CorrelationID: r.correlationID,
	})
}

// Collect gathers replies until timeout elapses, onReply returns false
// ("I'm done, stop collecting"), or the Requester is cancelled. It
// always returns the replies collected so far alongside any error: a
// timeout with zero replies is reported via ErrTimeout but the
// (empty) slice is still meaningful to callers like vote that treat
// zero-replies-before-timeout as success.
func (r *Requester) Collect(timeout time.Duration, onReply func(codec.Envelope) (keepGoing bool)) ([]codec.Envelope, error) {
	var envelopes []codec.Envelope
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case d, ok := <-r.rq.Deliveries():
			if !ok {
				return envelopes, ErrCancelled
			}
			if d.CorrelationID != r.correlationID {
				continue
			}
			e, err := codec.Decode(d.Body)
			if err != nil {
				// malformed reply: drop it, keep collecting (spec.md §7).
				continue
			}
			envelopes = append(envelopes, e)
			if !onReply(e) {
				return envelopes, nil
			}
		case <-deadline.C:
			return envelopes, ErrTimeout
		case <-r.done:
			return envelopes, ErrCancelled
		}
	}
}

// Cancel releases the reply queue and unblocks any in-flight Collect.
func (r *Requester) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	close(r.done)
	r.rq.Close()
}
