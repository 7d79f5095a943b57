// Roll protocol, spec.md §4.3: once the lobby is full, every peer draws
// a random 32-bit roll, publishes it, and all peers independently
// compute the same playerNumbers map once all N rolls are in.
//
// Grounded on the teacher's consensus tie-break-by-validator-index
// idiom (consensus/validator.go's deterministic leader rotation):
// same "sort a set of per-player values, assign by position" shape,
// generalized from leader election to player-number assignment, with
// the teacher's validator-index order replaced by spec.md §9's
// lexicographic-playerID tie-break decision.
package gamefsm

import (
	"crypto/rand"
	"encoding/binary"
	"sort"

	"github.com/tgoossens/htttp-peno/codec"
)

func randomRoll() int32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return int32(binary.BigEndian.Uint32(b[:]))
}

// tryRoll is run after any event that might complete the lobby or the
// roll set: a successful join, another peer's `joined`, and any `ready`
// change. It is always safe to call; it's a no-op unless the
// preconditions hold.
func (p *Peer) tryRoll() {
	roll, shouldPublish := p.recordOwnRollIfDue()
	if shouldPublish {
		ctx, cancel := backgroundCtx(p.cfg.RequestLifetime)
		_ = p.publish(ctx, topicRoll, map[string]any{"roll": roll})
		cancel()
	}
	p.finishRollIfComplete()
}

func (p *Peer) recordOwnRollIfDue() (int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Waiting || p.reg.ConfirmedCount() != p.cfg.N {
		return 0, false
	}
	if p.playerRolls == nil {
		p.playerRolls = make(map[string]int32)
	}
	if _, already := p.playerRolls[p.cfg.PlayerID]; already {
		return 0, false
	}
	roll := randomRoll()
	p.playerRolls[p.cfg.PlayerID] = roll
	return roll, true
}

func (p *Peer) handleRoll(e codec.Envelope) {
	playerID := e.PlayerID
	roll, ok := codec.Field[float64](e, "roll")
	if playerID == "" || !ok {
		return
	}

	p.mu.Lock()
	if p.state != Waiting {
		p.mu.Unlock()
		return
	}
	if p.playerRolls == nil {
		p.playerRolls = make(map[string]int32)
	}
	p.playerRolls[playerID] = int32(roll)
	p.mu.Unlock()

	p.finishRollIfComplete()
}

// finishRollIfComplete is spec.md §4.3 steps 2–4: once |rolls| = N,
// every peer sorts and assigns deterministically (L3).
func (p *Peer) finishRollIfComplete() {
	p.mu.Lock()
	if p.state != Waiting || len(p.playerRolls) != p.cfg.N {
		p.mu.Unlock()
		return
	}
	numbers := assignPlayerNumbers(p.playerRolls)
	p.playerNumbers = numbers
	p.state = Starting
	own := numbers[p.cfg.PlayerID]
	p.mu.Unlock()

	p.dispatch(func() {
		if p.handlers.GameRolled != nil {
			p.handlers.GameRolled(own, own-1)
		}
	})
}

// assignPlayerNumbers is spec.md §4.3 step 2–3 and §9's tie-break
// decision: sort ascending by roll, ties broken by playerID
// lexicographic order, assign 1..N by sorted position.
func assignPlayerNumbers(rolls map[string]int32) map[string]int {
	type entry struct {
		id   string
		roll int32
	}
	entries := make([]entry, 0, len(rolls))
	for id, r := range rolls {
		entries = append(entries, entry{id, r})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].roll != entries[j].roll {
			return entries[i].roll < entries[j].roll
		}
		return entries[i].id < entries[j].id
	})
	numbers := make(map[string]int, len(entries))
	for i, e := range entries {
		numbers[e.id] = i + 1
	}
	return numbers
}

// clearRollsLocked discards rolls and numbers (membership dropped below
// N, or stop()). Caller must hold mu.
func (p *Peer) clearRollsLocked() {
	p.playerRolls = nil
	p.playerNumbers = nil
}
