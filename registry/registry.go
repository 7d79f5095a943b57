// Package registry is the membership data structure of spec.md §3: the
// confirmed set, the pending-vote set, and the missing-player set, keyed
// by playerID with clientID disambiguation, plus the invariants I1–I4.
//
// Grounded on the teacher's ConsensusNode.playersPK map[int]ed25519.PublicKey
// + RemoveNode/quorum-recompute pattern (consensus/node.go), generalized
// from "the set of players whose signing keys we trust" to the
// three-bucket confirmed/voted/missing membership model, and on
// domain/poker.StateMachine's Snapshot/Restore for the optional
// snapshot pair used by spectator late-join sync.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// PlayerState is one player's per-game state, spec.md §3.
type PlayerState struct {
	ClientID       string
	IsReady        bool
	HasFoundObject bool
	TeamNumber     int // -1 = none
	LastHeartbeat  int64 // unix nanos; 0 = never
}

// NewPlayerState returns a fresh PlayerState for a newly-seen player.
func NewPlayerState(clientID string) PlayerState {
	return PlayerState{ClientID: clientID, TeamNumber: -1}
}

// Registry is the process-local membership store. It is not safe for
// concurrent use by itself — spec.md §4.1 assigns exclusive-writer
// discipline to the game state machine's monitor, which Registry trusts
// its caller to hold. The mutex here only protects against accidental
// concurrent reads racing a write from outside that discipline (e.g. a
// dispatched handler reading state); it is not a substitute for it.
type Registry struct {
	mu        sync.RWMutex
	confirmed map[string]PlayerState            // playerID -> state, at most one clientID each (I1, I3)
	voted     map[string]map[string]PlayerState // playerID -> clientID -> tentative state
	missing   map[string]PlayerState            // playerID -> retained state (I1)
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		confirmed: make(map[string]PlayerState),
		voted:     make(map[string]map[string]PlayerState),
		missing:   make(map[string]PlayerState),
	}
}

// ConfirmedCount is |confirmed| (I2: must stay <= N).
func (r *Registry) ConfirmedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.confirmed)
}

// MissingCount is |missing|.
func (r *Registry) MissingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.missing)
}

// IsConfirmed reports whether playerID is currently confirmed, and for
// which clientID.
func (r *Registry) IsConfirmed(playerID string) (PlayerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.confirmed[playerID]
	return ps, ok
}

// IsMissing reports whether playerID is in the missing bucket.
func (r *Registry) IsMissing(playerID string) (PlayerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.missing[playerID]
	return ps, ok
}

// AddVoted records a tentative vote-in-progress entry. Multiple clientIDs
// per playerID are allowed here (spec.md §3: "races resolve at
// confirmation").
func (r *Registry) AddVoted(playerID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.voted[playerID] == nil {
		r.voted[playerID] = make(map[string]PlayerState)
	}
	if _, exists := r.voted[playerID][clientID]; !exists {
		r.voted[playerID][clientID] = NewPlayerState(clientID)
	}
}

// Confirm moves a (playerID, clientID) pair from voted into confirmed,
// restoring retained state from missing if present — this is the rejoin
// restoration spec.md §4.2 step 6 describes. It enforces I1: confirming
// a playerID removes any same-playerID entry from missing.
func (r *Registry) Confirm(playerID, clientID string) PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, wasMissing := r.missing[playerID]
	if wasMissing {
		delete(r.missing, playerID)
		ps.ClientID = clientID
	} else if voted, ok := r.voted[playerID][clientID]; ok {
		ps = voted
	} else {
		ps = NewPlayerState(clientID)
	}

	r.confirmed[playerID] = ps
	delete(r.voted, playerID)
	return ps
}

// HasVoted reports whether playerID has any tentative voted entry,
// regardless of clientID — used by canJoin's condition (b) to decide
// whether admitting a new join would grow the party.
func (r *Registry) HasVoted(playerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.voted[playerID]) > 0
}

// DiscardVote drops a pending vote entry without confirming it (the vote
// failed, or this node lost the tie-break of spec.md §4.2's "Tie-break").
func (r *Registry) DiscardVote(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.voted, playerID)
}

// HasConflictingConfirmed reports whether playerID is confirmed under a
// clientID different from the given one — canJoin's condition (a),
// spec.md §4.2 step 2.
func (r *Registry) HasConflictingConfirmed(playerID, clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.confirmed[playerID]
	return ok && ps.ClientID != clientID
}

// VotedPlusConfirmedCount is |confirmed ∪ voted| for canJoin's condition
// (b), spec.md §4.2 step 2.
func (r *Registry) VotedPlusConfirmedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.confirmed)+len(r.voted))
	for id := range r.confirmed {
		seen[id] = struct{}{}
	}
	for id := range r.voted {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// MoveToMissing moves a confirmed player's full PlayerState to the
// missing bucket (spec.md §4.7: PLAYING/PAUSED disconnect handling). It
// is a no-op if playerID isn't confirmed.
func (r *Registry) MoveToMissing(playerID string) (PlayerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.confirmed[playerID]
	if !ok {
		return PlayerState{}, false
	}
	delete(r.confirmed, playerID)
	r.missing[playerID] = ps
	return ps, true
}

// Remove deletes playerID from every bucket (spec.md §4.7: JOINING/
// WAITING/STARTING disconnect handling, including the heartbeat reaper's).
func (r *Registry) Remove(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.confirmed, playerID)
	delete(r.voted, playerID)
	delete(r.missing, playerID)
}

// Clear empties every bucket (local join() and leave()).
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = make(map[string]PlayerState)
	r.voted = make(map[string]map[string]PlayerState)
	r.missing = make(map[string]PlayerState)
}

// SetReady updates a confirmed player's ready flag, returning whether it
// changed (callers use this to suppress duplicate "ready" publishes,
// spec.md L1).
func (r *Registry) SetReady(playerID string, ready bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.confirmed[playerID]
	if !ok || ps.IsReady == ready {
		return false
	}
	ps.IsReady = ready
	r.confirmed[playerID] = ps
	return true
}

// SetFoundObject marks a confirmed player as having found their object;
// persistent across pause/rejoin per spec.md P5.
func (r *Registry) SetFoundObject(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.confirmed[playerID]; ok {
		ps.HasFoundObject = true
		r.confirmed[playerID] = ps
	}
}

// SetTeamNumber persists a confirmed player's team assignment (spec.md
// I6, P5).
func (r *Registry) SetTeamNumber(playerID string, team int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.confirmed[playerID]; ok {
		ps.TeamNumber = team
		r.confirmed[playerID] = ps
	}
}

// Touch records a heartbeat arrival timestamp for playerID (nanoseconds
// since epoch), if confirmed.
func (r *Registry) Touch(playerID string, nowUnixNano int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.confirmed[playerID]; ok {
		ps.LastHeartbeat = nowUnixNano
		r.confirmed[playerID] = ps
	}
}

// Stale returns confirmed playerIDs whose last heartbeat is nonzero and
// older than cutoffUnixNano — spec.md §4.6's reaper scan, in
// lexicographic order for deterministic test output.
func (r *Registry) Stale(cutoffUnixNano int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []string
	for id, ps := range r.confirmed {
		if ps.LastHeartbeat > 0 && ps.LastHeartbeat < cutoffUnixNano {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// ConfirmedIDs returns confirmed playerIDs in lexicographic order.
func (r *Registry) ConfirmedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.confirmed))
	for id := range r.confirmed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MissingIDs returns missing playerIDs in lexicographic order.
func (r *Registry) MissingIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.missing))
	for id := range r.missing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllReady reports whether every confirmed player is ready (canStart's
// requirement, spec.md §4.1), and that bullet also requires the missing
// bucket be empty, checked separately by the caller via MissingCount.
func (r *Registry) AllReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ps := range r.confirmed {
		if !ps.IsReady {
			return false
		}
	}
	return true
}

// snapshot is the JSON-serializable form used by Snapshot/Restore.
type snapshot struct {
	Confirmed map[string]PlayerState `json:"confirmed"`
	Missing   map[string]PlayerState `json:"missing"`
}

// Snapshot serializes the confirmed and missing buckets (voted entries
// are transient vote-in-progress state and are not part of a stable
// snapshot). Used by the spectator role for late-join sync (SPEC_FULL.md
// §4, supplemented from original_source) and by tests, grounded on
// domain/poker.StateMachine.Snapshot/Restore.
func (r *Registry) Snapshot() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return json.Marshal(snapshot{Confirmed: r.confirmed, Missing: r.missing})
}

// Restore replaces the confirmed and missing buckets from a prior
// Snapshot. The voted bucket is left untouched (a restore mid-vote would
// be a caller bug).
func (r *Registry) Restore(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("registry: restore: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Confirmed == nil {
		s.Confirmed = make(map[string]PlayerState)
	}
	if s.Missing == nil {
		s.Missing = make(map[string]PlayerState)
	}
	r.confirmed = s.Confirmed
	r.missing = s.Missing
	return nil
}
