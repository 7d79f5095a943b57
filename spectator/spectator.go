// Package spectator is the read-only observer role spec.md §1 and §9
// describe: it binds every public topic and mirrors the game's
// observable state for rendering, but never votes and never drives the
// protocol; the only message it publishes is one late-join snapshot
// request when it starts. Where gamefsm.Peer is the single
// writer of its own authoritative state, a Spectator is a best-effort
// mirror — it has no vote in what's true, only a view of what it has
// seen go by.
//
// Grounded on the teacher's domain/poker spectator-mode rendering (the
// same GameStateMachine driving both an active player's and a
// read-only observer's view), and on spec.md §9's "Executor for
// handlers: the spectator role demands fan-out to a pool" — this is
// the one role in HTTTP that uses dispatch.Pool instead of
// dispatch.Sync.
package spectator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tgoossens/htttp-peno/codec"
	"github.com/tgoossens/htttp-peno/dispatch"
	"github.com/tgoossens/htttp-peno/gamefsm"
	"github.com/tgoossens/htttp-peno/registry"
	"github.com/tgoossens/htttp-peno/transport"
)

// Handlers mirrors gamefsm.Handlers' shape so the same rendering code
// can plug into either role. There is no Joined field, since a spectator
// never joins, and GameRolled is never fired because a spectator ignores
// `roll` messages.
type Handlers struct {
	PlayerJoined       func(playerID string)
	PlayerDisconnected func(playerID string, reason gamefsm.DisconnectReason)
	GameStarted        func()
	GamePaused         func()
	GameStopped        func()
	GameRolled         func(playerNumber, objectNumber int)
	PlayerFoundObject  func(playerID string)
	SeesawLocked       func(playerNumber, barcode int)
	SeesawUnlocked     func(playerNumber, barcode int)
	TeamWon            func(teamNumber int)
	StateChanged       func(gamefsm.State)
}

// Spectator mirrors gamefsm.Peer's public state without participating
// in membership voting, rolls, heartbeats, or team discovery — it only
// ever reads. mu guards the mirrored fields; unlike gamefsm.Peer there
// is no single-writer monitor requirement here since a spectator never
// has to agree with anyone, but the same discipline (mutate under
// mu, dispatch callbacks outside it) is kept for consistency with the
// rest of the codebase and to keep torn reads out of the view model.
type Spectator struct {
	t          transport.Transport
	dispatcher *dispatch.Pool
	log        *slog.Logger
	handlers   Handlers

	mu            sync.Mutex
	state         gamefsm.State
	reg           *registry.Registry
	playerNumbers map[string]int

	unbind func() error
}

// New constructs a Spectator bound to t, with a worker-pool dispatcher
// of the given size (spec.md §9).
func New(t transport.Transport, poolWorkers int, handlers Handlers, log *slog.Logger) *Spectator {
	return &Spectator{
		t:          t,
		dispatcher: dispatch.NewPool(poolWorkers),
		log:        log,
		handlers:   handlers,
		reg:        registry.New(),
	}
}

// snapshotTimeout bounds how long Start waits for a late-join snapshot
// reply before giving up and simply observing from here on.
const snapshotTimeout = 2 * time.Second

// Start binds the public topic pattern, then kicks off a background
// request for a late-join snapshot from whichever joined peer answers
// first (SPEC_FULL.md §4, supplemented from original_source: a
// spectator attaching mid-game asks for one rather than waiting to
// infer it from broadcast traffic). A Spectator does not itself go
// through JOINING — it has no clientID to disambiguate and nothing to
// vote on — so Start returns as soon as the bind succeeds, same as
// gamefsm.Peer.Join returns before its own admission vote settles; the
// snapshot, if one arrives, folds into the mirrored view whenever it's
// ready (or never, if no peer has joined yet to answer it).
func (s *Spectator) Start() error {
	unbind, err := s.t.Bind("#", s.route)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.unbind = unbind
	s.mu.Unlock()

	go s.requestSnapshot()
	return nil
}

func (s *Spectator) requestSnapshot() {
	state, snap, ok := gamefsm.RequestSnapshot(s.t, snapshotTimeout)
	if !ok {
		return
	}
	if err := s.reg.Restore(snap); err != nil {
		return
	}
	s.setState(state)
}

// Stop releases the binding and drains the dispatcher.
func (s *Spectator) Stop() error {
	s.mu.Lock()
	unbind := s.unbind
	s.unbind = nil
	s.mu.Unlock()
	if unbind != nil {
		if err := unbind(); err != nil {
			return err
		}
	}
	s.dispatcher.Close()
	return nil
}

// State returns the last-observed lifecycle state.
func (s *Spectator) State() gamefsm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Registry exposes the mirrored membership view for rendering.
func (s *Spectator) Registry() *registry.Registry { return s.reg }

func (s *Spectator) dispatch(fn func()) {
	if fn == nil {
		return
	}
	s.dispatcher.Dispatch(fn)
}

func (s *Spectator) setState(next gamefsm.State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	s.dispatch(func() {
		if s.handlers.StateChanged != nil {
			s.handlers.StateChanged(next)
		}
	})
}

func (s *Spectator) route(d transport.Delivery) {
	e, err := codec.Decode(d.Body)
	if err != nil {
		return
	}
	switch d.RoutingKey {
	case "joined":
		s.onJoined(e)
	case "disconnect":
		s.onDisconnect(e)
	case "ready":
		s.reg.SetReady(e.PlayerID, codec.BoolField(e, "isReady"))
	case "roll":
		// rolls are internal to the peers' own agreement and are ignored
		// here; a spectator never enters STARTING and goes straight to
		// PLAYING on the next `start`.
	case "start":
		s.onStart()
	case "stop":
		s.setState(gamefsm.Waiting)
		s.dispatch(func() {
			if s.handlers.GameStopped != nil {
				s.handlers.GameStopped()
			}
		})
	case "pause":
		s.setState(gamefsm.Paused)
		s.dispatch(func() {
			if s.handlers.GamePaused != nil {
				s.handlers.GamePaused()
			}
		})
	case "found":
		s.onFound(e)
	case "seesawLock":
		s.onSeesawLock(e)
	case "seesawUnlock":
		s.onSeesawUnlock(e)
	case "win":
		s.onWin(e)
	}
}

func (s *Spectator) onJoined(e codec.Envelope) {
	playerID := e.PlayerID
	if playerID == "" {
		return
	}
	s.reg.Confirm(playerID, codec.StringField(e, "clientID"))
	s.dispatch(func() {
		if s.handlers.PlayerJoined != nil {
			s.handlers.PlayerJoined(playerID)
		}
	})
}

func (s *Spectator) onDisconnect(e codec.Envelope) {
	playerID := e.PlayerID
	if playerID == "" {
		return
	}
	reason := gamefsm.DisconnectReason(codec.StringField(e, "reason"))

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case gamefsm.Playing, gamefsm.Paused:
		s.reg.MoveToMissing(playerID)
		s.setState(gamefsm.Paused)
	default:
		s.reg.Remove(playerID)
	}

	s.dispatch(func() {
		if s.handlers.PlayerDisconnected != nil {
			s.handlers.PlayerDisconnected(playerID, reason)
		}
	})
}

func (s *Spectator) onStart() {
	s.mu.Lock()
	wasPaused := s.state == gamefsm.Paused
	s.mu.Unlock()
	s.setState(gamefsm.Playing)
	_ = wasPaused
	s.dispatch(func() {
		if s.handlers.GameStarted != nil {
			s.handlers.GameStarted()
		}
	})
}

func (s *Spectator) onFound(e codec.Envelope) {
	playerID := e.PlayerID
	if playerID == "" {
		return
	}
	s.reg.SetFoundObject(playerID)
	s.dispatch(func() {
		if s.handlers.PlayerFoundObject != nil {
			s.handlers.PlayerFoundObject(playerID)
		}
	})
}

func (s *Spectator) onSeesawLock(e codec.Envelope) {
	number, _ := codec.IntField(e, "playerNumber")
	barcode, _ := codec.IntField(e, "barcode")
	s.dispatch(func() {
		if s.handlers.SeesawLocked != nil {
			s.handlers.SeesawLocked(number, barcode)
		}
	})
}

func (s *Spectator) onSeesawUnlock(e codec.Envelope) {
	number, _ := codec.IntField(e, "playerNumber")
	barcode, _ := codec.IntField(e, "barcode")
	s.dispatch(func() {
		if s.handlers.SeesawUnlocked != nil {
			s.handlers.SeesawUnlocked(number, barcode)
		}
	})
}

func (s *Spectator) onWin(e codec.Envelope) {
	n, ok := codec.IntField(e, "teamNumber")
	if !ok {
		return
	}
	s.dispatch(func() {
		if s.handlers.TeamWon != nil {
			s.handlers.TeamWon(n)
		}
	})
}
