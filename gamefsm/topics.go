package gamefsm

import "fmt"

// Wire topics, spec.md §6.
const (
	topicJoin         = "join"
	topicJoined       = "joined"
	topicDisconnect   = "disconnect"
	topicReady        = "ready"
	topicRoll         = "roll"
	topicStart        = "start"
	topicStop         = "stop"
	topicPause        = "pause"
	topicFound        = "found"
	topicHeartbeat    = "heartbeat"
	topicUpdate       = "update"
	topicSeesawLock   = "seesawLock"
	topicSeesawUnlock = "seesawUnlock"
	topicWin          = "win"

	// topicSnapshotRequest is a supplement beyond spec.md §6's table
	// (DESIGN.md, SPEC_FULL.md §4): a spectator attaching mid-game has no
	// broadcast history to replay, so it requests one peer's registry
	// snapshot instead, rather than waiting for the next message naming
	// every player.
	topicSnapshotRequest = "snapshotRequest"
)

func teamPattern(n int) string   { return fmt.Sprintf("team.%d.*", n) }
func teamPingTopic(n int) string { return fmt.Sprintf("team.%d.ping", n) }
func teamTileTopic(n int) string { return fmt.Sprintf("team.%d.tile", n) }
