package memtransport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tgoossens/htttp-peno/transport"
)

func TestPublishBind(t *testing.T) {
	bus := NewBus()
	a := bus.Peer()
	b := bus.Peer()
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	var got []transport.Delivery
	done := make(chan struct{})
	unbind, err := b.Bind("heartbeat", func(d transport.Delivery) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
		close(done)
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer unbind()

	if err := a.Publish(context.Background(), "heartbeat", []byte("ping"), transport.Props{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delivery never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || string(got[0].Body) != "ping" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestPatternBinding(t *testing.T) {
	bus := NewBus()
	p := bus.Peer()
	defer p.Close()

	recv := make(chan transport.Delivery, 4)
	unbind, _ := p.Bind("team.*.ping", func(d transport.Delivery) { recv <- d })
	defer unbind()

	p.Publish(context.Background(), "team.1.ping", []byte("a"), transport.Props{})
	p.Publish(context.Background(), "team.1.tile", []byte("b"), transport.Props{})
	p.Publish(context.Background(), "team.2.ping", []byte("c"), transport.Props{})

	var routingKeys []string
	timeout := time.After(time.Second)
	for len(routingKeys) < 2 {
		select {
		case d := <-recv:
			routingKeys = append(routingKeys, d.RoutingKey)
		case <-timeout:
			t.Fatalf("only got %v", routingKeys)
		}
	}
	select {
	case d := <-recv:
		routingKeys = append(routingKeys, d.RoutingKey)
	case <-time.After(50 * time.Millisecond):
	}
	if len(routingKeys) != 2 {
		t.Fatalf("expected exactly 2 matches, got %v", routingKeys)
	}
}

func TestReplyQueueRoundTrip(t *testing.T) {
	bus := NewBus()
	requester := bus.Peer()
	responder := bus.Peer()
	defer requester.Close()
	defer responder.Close()

	rq, err := requester.DeclareReplyQueue()
	if err != nil {
		t.Fatalf("DeclareReplyQueue: %v", err)
	}
	defer rq.Close()

	unbind, _ := responder.Bind("join", func(d transport.Delivery) {
		responder.Publish(context.Background(), d.ReplyTo, []byte("ok"), transport.Props{CorrelationID: d.CorrelationID})
	})
	defer unbind()

	if err := requester.Publish(context.Background(), "join", []byte("req"), transport.Props{ReplyTo: rq.Name(), CorrelationID: "abc"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case d := <-rq.Deliveries():
		if string(d.Body) != "ok" || d.CorrelationID != "abc" {
			t.Fatalf("unexpected reply: %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply arrived")
	}
}

func TestCloseStopsPublish(t *testing.T) {
	bus := NewBus()
	p := bus.Peer()
	p.Close()
	if err := p.Publish(context.Background(), "join", nil, transport.Props{}); err != transport.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
