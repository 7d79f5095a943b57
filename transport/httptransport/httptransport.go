// Package httptransport is a real, wire-level transport.Transport:
// every peer runs an HTTP server, and Publish POSTs the message to every
// other known peer's address. It is the adapted descendant of the
// teacher's network.Peer — the HTTP server and listener plumbing is
// kept (without the retry-on-busy loop: Publish makes one attempt per
// peer and skips a peer it cannot reach), but Peer's MPI-style
// collective operations (Broadcast/AllToAll, indexed by numeric rank)
// are replaced with
// topic-routed publish/subscribe addressed by routing key, matching
// spec.md's transport assumptions instead of the teacher's consensus
// collective-communication needs.
//
// This is a reference/demo backend, not a production broker: peer
// addresses are a fixed, known set (no discovery, no reconnection, per
// spec.md's Non-goals), and reply queues are served from the same
// listener as everything else.
package httptransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tgoossens/htttp-peno/transport"
	"github.com/tgoossens/htttp-peno/transport/topicmatch"
)

// Transport is one peer's HTTP-backed connection to the group. Peers
// address each other directly; there is no broker process, so every peer
// must know every other peer's address (spec.md's transport is assumed
// external — this is one concrete implementation of that assumption).
type Transport struct {
	self      string
	peerAddrs func() []string // callback so peers can be added as they're discovered via the join protocol
	client    *http.Client
	server    *http.Server

	mu       sync.Mutex
	bindings map[string]*binding
	replyQs  map[string]*replyQueue
	closed   bool
}

type binding struct {
	matcher *topicmatch.Matcher
	deliver func(transport.Delivery)
}

type replyQueue struct {
	name   string
	ch     chan transport.Delivery
	onDone func()
}

func (r *replyQueue) Name() string                         { return r.name }
func (r *replyQueue) Deliveries() <-chan transport.Delivery { return r.ch }
func (r *replyQueue) Close() error {
	r.onDone()
	return nil
}

// New starts an HTTP listener at listenAddr and returns a Transport
// addressed by selfAddr (the value peerAddrs() should also report back
// for this peer, so it can be skipped when publishing). peerAddrs is
// polled fresh on every Publish so newly admitted peers are reachable
// without reconstructing the Transport.
func New(listenAddr, selfAddr string, peerAddrs func() []string) (*Transport, error) {
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		self:      selfAddr,
		peerAddrs: peerAddrs,
		client:    &http.Client{},
		bindings:  make(map[string]*binding),
		replyQs:   make(map[string]*replyQueue),
	}
	t.server = &http.Server{Handler: http.HandlerFunc(t.serveHTTP)}
	go func() {
		if err := t.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(err)
		}
	}()
	return t, nil
}

func (t *Transport) serveHTTP(w http.ResponseWriter, r *http.Request) {
	routingKey := r.Header.Get("Routing-Key")
	if routingKey == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	d := transport.Delivery{
		RoutingKey:    routingKey,
		Body:          body,
		ReplyTo:       r.Header.Get("Reply-To"),
		CorrelationID: r.Header.Get("Correlation-Id"),
	}
	w.WriteHeader(http.StatusAccepted)

	t.mu.Lock()
	var matched []*binding
	for _, b := range t.bindings {
		if b.matcher.Match(routingKey) {
			matched = append(matched, b)
		}
	}
	rq, toReplyQueue := t.replyQs[routingKey]
	t.mu.Unlock()

	for _, b := range matched {
		go b.deliver(d)
	}
	if toReplyQueue {
		select {
		case rq.ch <- d:
		default:
		}
	}
}

func (t *Transport) Publish(ctx context.Context, routingKey string, body []byte, props transport.Props) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.mu.Unlock()

	for _, addr := range t.peerAddrs() {
		if addr == t.self {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Routing-Key", routingKey)
		if props.ReplyTo != "" {
			req.Header.Set("Reply-To", props.ReplyTo)
		}
		if props.CorrelationID != "" {
			req.Header.Set("Correlation-Id", props.CorrelationID)
		}
		resp, err := t.client.Do(req)
		if err != nil {
			// best-effort fan-out: one unreachable peer (plausibly the
			// one the heartbeat reaper is about to declare missing)
			// must not block delivery to the rest.
			continue
		}
		resp.Body.Close()
	}
	return nil
}

func (t *Transport) Bind(pattern string, onDeliver func(transport.Delivery)) (func() error, error) {
	m, err := topicmatch.Compile(pattern)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrClosed
	}
	t.bindings[id] = &binding{matcher: m, deliver: onDeliver}
	t.mu.Unlock()

	var once sync.Once
	return func() error {
		once.Do(func() {
			t.mu.Lock()
			delete(t.bindings, id)
			t.mu.Unlock()
		})
		return nil
	}, nil
}

func (t *Transport) DeclareReplyQueue() (transport.ReplyQueue, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrClosed
	}
	name := fmt.Sprintf("reply.%s.%s", t.self, uuid.NewString())
	rq := &replyQueue{name: name, ch: make(chan transport.Delivery, 16)}
	rq.onDone = func() {
		t.mu.Lock()
		delete(t.replyQs, name)
		t.mu.Unlock()
	}
	t.replyQs[name] = rq
	t.mu.Unlock()
	return rq, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.server.Shutdown(context.Background())
}
