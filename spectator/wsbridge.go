// Websocket fan-out for the spectator role, letting a browser-based
// renderer subscribe to the same view a pterm-rendered terminal
// spectator sees. Grounded directly on the ws.Hub client/broadcast
// shape from the pack's card-game framework (server/internal/ws/hub.go):
// one accept handler per connection, a buffered per-client send channel,
// a broadcast fan-out loop, and a ping ticker to keep idle connections
// alive — the room/seat/card-game state that hub also carries has no
// equivalent here, since HTTTP's wire state (the game-state machine plus
// a PlayerState map) naturally flattened into one JSON snapshot struct.
package spectator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Snapshot is the JSON shape pushed to every connected websocket
// client whenever the mirrored view changes.
type Snapshot struct {
	State         string         `json:"state"`
	Confirmed     []string       `json:"confirmed"`
	Missing       []string       `json:"missing"`
	PlayerNumbers map[string]int `json:"playerNumbers,omitempty"`
}

// Hub fans out Snapshot pushes to every connected browser client.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty fan-out hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*wsClient]struct{})}
}

// ServeWS upgrades r to a websocket connection and registers it as a
// broadcast recipient until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 32)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(r.Context(), c)

	// The spectator bridge is push-only; a client that sends anything is
	// ignored, but we still need to read to notice disconnects promptly.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

func (h *Hub) writeLoop(ctx context.Context, c *wsClient) {
	ping := time.NewTicker(15 * time.Second)
	defer func() {
		ping.Stop()
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// Broadcast pushes snap to every connected client, dropping it for any
// client whose send buffer is full rather than blocking the caller.
func (h *Hub) Broadcast(snap Snapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		if h.log != nil {
			h.log.Warn("spectator snapshot encode failed", "err", err)
		}
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- body:
		default:
		}
	}
}

// SnapshotOf builds a Snapshot from a Spectator's current mirrored
// view, for use as a Handlers callback (e.g. wired into every field so
// any event triggers a fresh push).
func SnapshotOf(s *Spectator) Snapshot {
	return Snapshot{
		State:     s.State().String(),
		Confirmed: s.Registry().ConfirmedIDs(),
		Missing:   s.Registry().MissingIDs(),
	}
}
