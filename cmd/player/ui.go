package main

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/tgoossens/htttp-peno/gamefsm"
)

// lobbyUI renders a player's view of the game, the same panel-board
// idiom the teacher used for the poker table (printState/printPlayerInfo)
// adapted to HTTTP's roster/state-machine/seesaw-team shape instead of
// hands and pots.
type lobbyUI struct {
	peer *gamefsm.Peer

	mu        sync.Mutex
	log       []string
	seesaw    int
	team      int
	partnerID string
}

func newLobbyUI(peer *gamefsm.Peer) *lobbyUI {
	return &lobbyUI{peer: peer, team: -1}
}

func (u *lobbyUI) note(format string, args ...any) {
	u.mu.Lock()
	u.log = append(u.log, pterm.Sprintf(format, args...))
	if len(u.log) > 8 {
		u.log = u.log[len(u.log)-8:]
	}
	u.mu.Unlock()
}

func (u *lobbyUI) render() {
	pbox := pterm.DefaultBox.WithLeftPadding(4).WithRightPadding(4).WithTopPadding(1).WithBottomPadding(1)

	statePanel := pterm.Panel{Data: pbox.WithTitle(pterm.LightCyan("|STATE|")).WithTitleTopLeft().
		Sprintf("player: %s\nstate: %s", u.peer.PlayerID(), u.peer.State())}

	u.mu.Lock()
	seesaw, team, partner := u.seesaw, u.team, u.partnerID
	logLines := make([]string, len(u.log))
	copy(logLines, u.log)
	u.mu.Unlock()

	teamInfo := "none"
	if team >= 0 {
		teamInfo = fmt.Sprintf("team %d, partner %s", team, partner)
	}
	teamPanel := pterm.Panel{Data: pbox.WithTitle(pterm.LightYellow("|TEAM|")).WithTitleTopLeft().
		Sprintf("%s\nseesaw lock: %d", teamInfo, seesaw)}

	eventString := ""
	for _, line := range logLines {
		eventString += line + "\n"
	}
	eventsPanel := pterm.Panel{Data: pbox.WithTitle(pterm.LightGreen("|EVENTS|")).WithTitleTopLeft().Sprintf(eventString)}

	pterm.DefaultPanel.WithPanels([][]pterm.Panel{
		{statePanel, teamPanel},
		{eventsPanel},
	}).Render()
}

func (u *lobbyUI) onPlayerJoined(playerID string) {
	u.note("%s joined the lobby", playerID)
}

func (u *lobbyUI) onPlayerDisconnected(playerID string, reason gamefsm.DisconnectReason) {
	u.note("%s disconnected (%s)", playerID, reason)
}

func (u *lobbyUI) onGameStarted() {
	u.note("game started")
}

func (u *lobbyUI) onGamePaused() {
	u.note("game paused")
}

func (u *lobbyUI) onGameStopped() {
	u.note("game stopped")
}

func (u *lobbyUI) onGameRolled(playerNumber, objectNumber int) {
	u.note("player #%d rolled, assigned object %d", playerNumber, objectNumber)
}

func (u *lobbyUI) onPlayerFoundObject(playerID string) {
	u.note("%s found their object", playerID)
}

func (u *lobbyUI) onSeesawLocked(playerNumber, barcode int) {
	u.mu.Lock()
	u.seesaw = barcode
	u.mu.Unlock()
	u.note("seesaw %d locked by player #%d", barcode, playerNumber)
}

func (u *lobbyUI) onSeesawUnlocked(playerNumber, barcode int) {
	u.mu.Lock()
	if u.seesaw == barcode {
		u.seesaw = 0
	}
	u.mu.Unlock()
	u.note("seesaw %d unlocked by player #%d", barcode, playerNumber)
}

func (u *lobbyUI) onTeamConnected(partnerID string) {
	u.mu.Lock()
	u.partnerID = partnerID
	u.mu.Unlock()
	u.note("team partner connected: %s", partnerID)
}

func (u *lobbyUI) onPartnerUpdate(x, y, angle float64, foundObject bool) {
	u.note("partner at (%.1f, %.1f) heading %.1f, found=%v", x, y, angle, foundObject)
}

func (u *lobbyUI) onTilesReceived(tiles [][3]int) {
	u.note("received %d tiles from partner", len(tiles))
}

func (u *lobbyUI) onTeamWon(teamNumber int) {
	u.note("team %d won the maze", teamNumber)
}
