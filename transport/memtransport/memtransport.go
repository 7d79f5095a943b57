// Package memtransport is an in-process fake broker satisfying
// transport.Transport: a Bus shared by every peer in a single process,
// fanning out publishes to bound patterns over channels.
//
// Grounded on network/peer.go's broadcastHandler, which hands delivered
// bytes to the owning Peer over a channel rather than returning them
// synchronously from ServeHTTP; here the same "deliver over a channel,
// let the receiving goroutine own sequencing" idiom replaces HTTP
// request/response with an in-memory topic exchange.
package memtransport

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tgoossens/htttp-peno/transport"
	"github.com/tgoossens/htttp-peno/transport/topicmatch"
)

// Bus is the shared exchange every peer in a process publishes to and
// binds against — the in-memory equivalent of one broker-side topic
// exchange for one gameID.
type Bus struct {
	mu       sync.Mutex
	bindings map[string]*binding // binding id -> binding
	replyQs  map[string]*replyQueue
	closed   bool
}

type binding struct {
	matcher *topicmatch.Matcher
	deliver func(transport.Delivery)
}

// NewBus creates a fresh, empty exchange.
func NewBus() *Bus {
	return &Bus{
		bindings: make(map[string]*binding),
		replyQs:  make(map[string]*replyQueue),
	}
}

// Peer returns a transport.Transport bound to this Bus. Each call
// represents one peer attaching to the exchange; peers are otherwise
// indistinguishable to the bus (routing is purely by routing key).
func (b *Bus) Peer() *Transport {
	return &Transport{bus: b}
}

// Transport is one peer's handle onto a shared Bus.
type Transport struct {
	bus *Bus

	mu        sync.Mutex
	bindingID []string
	closed    bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Publish(ctx context.Context, routingKey string, body []byte, props transport.Props) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	d := transport.Delivery{
		RoutingKey:    routingKey,
		Body:          body,
		ReplyTo:       props.ReplyTo,
		CorrelationID: props.CorrelationID,
	}

	t.bus.mu.Lock()
	var matched []*binding
	for _, bd := range t.bus.bindings {
		if bd.matcher.Match(routingKey) {
			matched = append(matched, bd)
		}
	}
	rq, toReplyQueue := t.bus.replyQs[routingKey]
	t.bus.mu.Unlock()

	for _, bd := range matched {
		bd := bd
		go bd.deliver(d)
	}
	if toReplyQueue {
		rq.push(d)
	}
	return nil
}

func (t *Transport) Bind(pattern string, onDeliver func(transport.Delivery)) (func() error, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, transport.ErrClosed
	}

	m, err := topicmatch.Compile(pattern)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()

	t.bus.mu.Lock()
	t.bus.bindings[id] = &binding{matcher: m, deliver: onDeliver}
	t.bus.mu.Unlock()

	t.mu.Lock()
	t.bindingID = append(t.bindingID, id)
	t.mu.Unlock()

	unbound := false
	var once sync.Mutex
	return func() error {
		once.Lock()
		defer once.Unlock()
		if unbound {
			return nil
		}
		unbound = true
		t.bus.mu.Lock()
		delete(t.bus.bindings, id)
		t.bus.mu.Unlock()
		return nil
	}, nil
}

func (t *Transport) DeclareReplyQueue() (transport.ReplyQueue, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, transport.ErrClosed
	}

	rq := &replyQueue{
		bus:  t.bus,
		name: "reply." + uuid.NewString(),
		ch:   make(chan transport.Delivery, 16),
	}
	t.bus.mu.Lock()
	t.bus.replyQs[rq.name] = rq
	t.bus.mu.Unlock()
	return rq, nil
}

// Close detaches this peer's bindings from the bus. It does not shut
// down the Bus itself — other peers keep running, mirroring spec.md §5's
// "one logical channel to the broker per peer".
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ids := t.bindingID
	t.bindingID = nil
	t.mu.Unlock()

	t.bus.mu.Lock()
	for _, id := range ids {
		delete(t.bus.bindings, id)
	}
	t.bus.mu.Unlock()
	return nil
}

type replyQueue struct {
	bus  *Bus
	name string

	mu     sync.Mutex
	closed bool
	ch     chan transport.Delivery
}

func (r *replyQueue) Name() string { return r.name }

func (r *replyQueue) Deliveries() <-chan transport.Delivery { return r.ch }

func (r *replyQueue) push(d transport.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- d:
	default:
		// a full, unconsumed reply queue is a caller bug (it should have
		// timed out and closed by now); drop rather than block the
		// publisher, matching spec.md's "no operation blocks
		// indefinitely".
	}
}

func (r *replyQueue) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.ch)
	r.bus.mu.Lock()
	delete(r.bus.replyQs, r.name)
	r.bus.mu.Unlock()
	return nil
}
