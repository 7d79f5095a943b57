// Package gamefsm is HTTTP's central authority in each peer over the
// game lifecycle (spec.md §4.1) and the join/roll/heartbeat/seesaw/team
// protocols that drive it (spec.md §4.2–§4.6, §4.4, §4.5). They share one
// package, not six, per DESIGN.md's "Cyclic ownership" note: every one of
// them reads and mutates the same monitor-guarded state under *Peer.
//
// Grounded on the teacher's domain/poker.StateMachine implementing
// consensus.StateMachine (Validate/Apply/GetCurrentPlayer): the same
// separation of "pure state transition logic" from "consensus/transport
// plumbing" is kept, with maze-game states and operations replacing
// poker hands and turns.
package gamefsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/config"
	"github.com/tgoossens/htttp-peno/dispatch"
	"github.com/tgoossens/htttp-peno/registry"
	"github.com/tgoossens/htttp-peno/transport"
)

// State is one of the six lifecycle states of spec.md §4.1.
type State int

const (
	Disconnected State = iota
	Joining
	Waiting
	Starting
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Joining:
		return "JOINING"
	case Waiting:
		return "WAITING"
	case Starting:
		return "STARTING"
	case Playing:
		return "PLAYING"
	case Paused:
		return "PAUSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DisconnectReason is spec.md §4.7's taxonomy.
type DisconnectReason string

const (
	ReasonLeave   DisconnectReason = "LEAVE"
	ReasonReject  DisconnectReason = "REJECT"
	ReasonTimeout DisconnectReason = "TIMEOUT"
)

// Error taxonomy, spec.md §7.
var (
	// ErrPreconditionViolated is raised synchronously from a public
	// operation when the current state forbids it.
	ErrPreconditionViolated = errors.New("gamefsm: precondition violated")
	// ErrProtocolReject is returned to the join callback when the join
	// vote fails.
	ErrProtocolReject = errors.New("gamefsm: join rejected")
)

func precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPreconditionViolated, fmt.Sprintf(format, args...))
}

// Handlers are the user-supplied lifecycle callbacks, spec.md §2/§9:
// "user callbacks are a struct of function-valued fields." Every field
// is optional; nil handlers are simply not invoked. They are always
// invoked through the Peer's Dispatcher, after state has been committed
// (spec.md §5), never from within the monitor.
type Handlers struct {
	Joined             func(err error)
	PlayerJoined       func(playerID string)
	PlayerDisconnected func(playerID string, reason DisconnectReason)
	GameStarted        func()
	GamePaused         func()
	GameStopped        func()
	GameRolled         func(playerNumber, objectNumber int)
	PlayerFoundObject  func(playerID string)
	SeesawLocked       func(playerNumber, barcode int)
	SeesawUnlocked     func(playerNumber, barcode int)
	TeamConnected      func(partnerID string)
	PartnerUpdate      func(x, y, angle float64, foundObject bool)
	TilesReceived      func(tiles [][3]int)
	TeamWon            func(teamNumber int)
}

// Peer is one running instance of the HTTTP core: the single writer of
// gameState, the registry, playerNumbers, playerRolls and seesawLock
// (spec.md §4.1's last paragraph), guarded by mu for its full transition
// span.
type Peer struct {
	cfg        config.Config
	clientID   string
	t          transport.Transport
	dispatcher dispatch.Dispatcher
	log        *slog.Logger

	mu            sync.Mutex
	state         State
	reg           *registry.Registry
	playerNumbers map[string]int   // nil outside STARTING/PLAYING/PAUSED
	playerRolls   map[string]int32 // accumulating during WAITING roll
	seesawLock    int              // 0 = none
	localTeam     int              // -1 = none
	partnerID     string           // known team partner, "" = none
	handlers      Handlers

	unbindJoinPhase func() error
	unbindPublic    func() error
	unbindTeam      func() error

	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// New constructs a Peer in DISCONNECTED state, bound to t. dispatcher
// controls how Handlers are invoked (dispatch.Sync for the player role,
// dispatch.NewPool for the spectator role — spec.md §9 "Executor for
// handlers").
func New(cfg config.Config, t transport.Transport, dispatcher dispatch.Dispatcher, log *slog.Logger) *Peer {
	if dispatcher == nil {
		dispatcher = dispatch.Sync()
	}
	return &Peer{
		cfg:        cfg,
		clientID:   uuid.NewString(),
		t:          t,
		dispatcher: dispatcher,
		log:        log,
		state:      Disconnected,
		reg:        registry.New(),
		localTeam:  -1,
	}
}

// State returns the current lifecycle state, guarded by the same
// monitor every transition holds — a caller needing a consistent
// multi-field view (state plus registry plus playerNumbers) should go
// through an operation instead of composing several such reads.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ClientID is this peer's randomly generated per-process identifier
// (spec.md §3).
func (p *Peer) ClientID() string { return p.clientID }

// PlayerID is this peer's configured stable identity.
func (p *Peer) PlayerID() string { return p.cfg.PlayerID }

// canStart is spec.md §4.1: true iff in STARTING or PAUSED, confirmed
// count equals N, every confirmed player is ready, and no one is
// missing. Caller must hold mu.
func (p *Peer) canStartLocked() bool {
	if p.state != Starting && p.state != Paused {
		return false
	}
	if p.reg.ConfirmedCount() != p.cfg.N {
		return false
	}
	if p.reg.MissingCount() != 0 {
		return false
	}
	return p.reg.AllReady()
}

// CanStart reports whether Start() would currently succeed.
func (p *Peer) CanStart() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canStartLocked()
}

func (p *Peer) dispatch(fn func()) {
	if fn == nil {
		return
	}
	p.dispatcher.Dispatch(fn)
}

func (p *Peer) publish(ctx context.Context, routingKey string, fields map[string]any) error {
	return p.publishAs(ctx, routingKey, p.cfg.PlayerID, fields)
}

// publishAs publishes under an explicit sender playerID — used by the
// heartbeat reaper, which publishes a `disconnect` on behalf of the
// peer it just declared missing (spec.md §4.6), not on its own behalf.
func (p *Peer) publishAs(ctx context.Context, routingKey, playerID string, fields map[string]any) error {
	body, err := codec.Encode(codec.Envelope{RoutingKey: routingKey, PlayerID: playerID, Fields: fields})
	if err != nil {
		return err
	}
	return p.t.Publish(ctx, routingKey, body, transport.Props{})
}

func backgroundCtx(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}
