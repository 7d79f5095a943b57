package request

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/transport"
	"github.com/tgoossens/htttp-peno/transport/memtransport"
)

func TestCollectGathersMatchingReplies(t *testing.T) {
	bus := memtransport.NewBus()
	requester, err := New(bus.Peer())
	require.NoError(t, err)
	defer requester.Cancel()

	responder := bus.Peer()
	defer responder.Close()

	unbind, err := responder.Bind("ask", func(d transport.Delivery) {
		body, err := codec.Encode(codec.Envelope{RoutingKey: d.ReplyTo, PlayerID: "B", Fields: map[string]any{"ok": true}})
		require.NoError(t, err)
		_ = responder.Publish(context.Background(), d.ReplyTo, body, transport.Props{CorrelationID: d.CorrelationID})
	})
	require.NoError(t, err)
	defer unbind()

	require.NoError(t, requester.Send(context.Background(), "ask", map[string]any{}, "A"))

	replies, err := requester.Collect(200*time.Millisecond, func(e codec.Envelope) bool {
		return false // stop after the first reply
	})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "B", replies[0].PlayerID)
}

func TestCollectTimesOutWithNoReplies(t *testing.T) {
	bus := memtransport.NewBus()
	requester, err := New(bus.Peer())
	require.NoError(t, err)
	defer requester.Cancel()

	require.NoError(t, requester.Send(context.Background(), "ask", map[string]any{}, "A"))

	replies, err := requester.Collect(30*time.Millisecond, func(codec.Envelope) bool { return true })
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, replies)
}

func TestCancelUnblocksCollect(t *testing.T) {
	bus := memtransport.NewBus()
	requester, err := New(bus.Peer())
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		requester.Cancel()
	}()

	_, err = requester.Collect(time.Second, func(codec.Envelope) bool { return true })
	assert.ErrorIs(t, err, ErrCancelled)
}
