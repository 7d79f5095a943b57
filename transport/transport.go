// Package transport defines the narrow seam HTTTP's core assumes over a
// topic-routed pub/sub broker (spec.md §1, §9 "Transport substitution").
// The core never talks to a concrete broker; it only ever talks to this
// interface, so any topic broker or in-memory fake satisfying it can
// stand in.
//
// Grounded on network/peer.go's Peer/broadcastHandler channel handoff and
// network/p2p.go's narrow-interface-over-concrete-peer adapter shape from
// the teacher, generalized from whole-network broadcast/all-to-all to
// topic-routed publish/subscribe.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("transport: closed")

// Props are per-message headers a Publish call may set, mirroring the
// broker-level metadata spec.md §2.2 assumes (a reply-to queue name and
// correlation id for request/reply, used by the request package).
type Props struct {
	ReplyTo       string
	CorrelationID string
}

// Delivery is one inbound message handed to a Bind callback.
type Delivery struct {
	RoutingKey string
	Body       []byte
	ReplyTo    string
	CorrelationID string
}

// ReplyQueue is an ephemeral, auto-delete queue created for one
// request/reply round. Name is the routing key replies to this queue
// should be published to.
type ReplyQueue interface {
	Name() string
	// Deliveries yields messages published to this queue's name.
	Deliveries() <-chan Delivery
	// Close releases the queue. Safe to call more than once.
	Close() error
}

// Transport is the whole surface HTTTP's core requires of a broker.
type Transport interface {
	// Publish sends body to routingKey. Fire-and-forget: the transport
	// does not guarantee delivery, only that it attempted to hand the
	// message to the broker (spec.md §5's "no operation blocks
	// indefinitely").
	Publish(ctx context.Context, routingKey string, body []byte, props Props) error

	// Bind registers onDeliver to be called, on some transport-owned
	// goroutine, for every delivery whose routing key matches pattern
	// (glob syntax, see transport/topicmatch). The returned unbind
	// function removes the binding; it is idempotent.
	Bind(pattern string, onDeliver func(Delivery)) (unbind func() error, err error)

	// DeclareReplyQueue allocates a fresh ephemeral queue for a single
	// request/reply round (spec.md §4.8).
	DeclareReplyQueue() (ReplyQueue, error)

	// Close shuts the transport down. After Close, Publish and Bind
	// return ErrClosed.
	Close() error
}

// WithTimeout is a convenience a Requester can use to bound how long it
// waits on a ReplyQueue before giving up; it does not belong to the
// Transport interface itself since timeout policy is the caller's
// (spec.md assigns timeouts to the request/vote primitives, not the
// transport).
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
