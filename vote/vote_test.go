package vote

import (
	"context"
	"testing"
	"time"

	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/transport"
	"github.com/tgoossens/htttp-peno/transport/memtransport"
)

func TestAcceptedAtQuorum(t *testing.T) {
	bus := memtransport.NewBus()
	requester := bus.Peer()
	defer requester.Close()

	voters := make([]*memtransport.Transport, 3)
	for i := range voters {
		voters[i] = bus.Peer()
		defer voters[i].Close()
		unbind, _ := voters[i].Bind("join", func(d transport.Delivery) {
			e, _ := codec.Decode(d.Body)
			reply, _ := codec.Encode(codec.Envelope{Fields: map[string]any{"result": true}})
			voters[i].Publish(context.Background(), d.ReplyTo, reply, transport.Props{CorrelationID: d.CorrelationID})
			_ = e
		})
		defer unbind()
	}

	v, err := New(requester, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Cancel()

	if err := v.Cast(context.Background(), "join", nil, "A"); err != nil {
		t.Fatalf("Cast: %v", err)
	}

	outcome := v.Await(time.Second, func(r Reply, e codec.Envelope) {})
	if outcome != Accepted {
		t.Fatalf("expected Accepted, got %v", outcome)
	}
}

func TestRejectShortCircuits(t *testing.T) {
	bus := memtransport.NewBus()
	requester := bus.Peer()
	defer requester.Close()

	rejector := bus.Peer()
	defer rejector.Close()
	unbind, _ := rejector.Bind("join", func(d transport.Delivery) {
		reply, _ := codec.Encode(codec.Envelope{Fields: map[string]any{"result": false}})
		rejector.Publish(context.Background(), d.ReplyTo, reply, transport.Props{CorrelationID: d.CorrelationID})
	})
	defer unbind()

	v, _ := New(requester, 3)
	defer v.Cancel()
	v.Cast(context.Background(), "join", nil, "A")

	outcome := v.Await(time.Second, func(r Reply, e codec.Envelope) {})
	if outcome != Rejected {
		t.Fatalf("expected Rejected, got %v", outcome)
	}
}

func TestZeroRepliesIsAcceptedByDefault(t *testing.T) {
	bus := memtransport.NewBus()
	requester := bus.Peer()
	defer requester.Close()

	v, _ := New(requester, 3)
	defer v.Cancel()
	v.Cast(context.Background(), "join", nil, "A")

	outcome := v.Await(50*time.Millisecond, func(r Reply, e codec.Envelope) {})
	if outcome != AcceptedByDefault {
		t.Fatalf("expected AcceptedByDefault, got %v", outcome)
	}
}
