// Command player is the interactive robot-side HTTTP CLI: it collects
// the other three robots' addresses the same way the teacher's original
// poker client did, joins the game, and renders the lobby/game state
// with pterm panels as operations arrive.
//
// Grounded on the teacher's cmd/main.go startup sequence (big-text
// banner, slog-over-pterm logger, interactive address collection,
// spinner-driven connection step) adapted from a fixed N-player poker
// table to HTTTP's join/roll/start lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"golang.org/x/sync/errgroup"

	"github.com/tgoossens/htttp-peno/config"
	"github.com/tgoossens/htttp-peno/gamefsm"
	"github.com/tgoossens/htttp-peno/htttlog"
	"github.com/tgoossens/htttp-peno/internal/cliutil"
	"github.com/tgoossens/htttp-peno/transport/httptransport"
)

func main() {
	var cfg config.Config
	config.RegisterFlags(flag.CommandLine, &cfg)
	listenAddr := flag.String("listen", ":0", "local address to listen on")
	flag.Parse()

	logger := htttlog.New(firstNonEmpty(cfg.PlayerID, "player"))

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("HTT", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("TP", pterm.FgDarkGray.ToStyle()),
	).Render()

	if cfg.PlayerID == "" {
		cfg.PlayerID, _ = pterm.DefaultInteractiveTextInput.WithDefaultText("Enter your player id").Show()
	}
	if cfg.GameID == "" {
		cfg.GameID, _ = pterm.DefaultInteractiveTextInput.WithDefaultText("Enter the game id").WithDefaultValue("default").Show()
	}
	pterm.Println()
	pterm.Info.Printfln("Player %s joining game %s", cfg.PlayerID, cfg.GameID)

	l, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", *listenAddr, "err", err)
		os.Exit(1)
	}
	selfAddr := l.Addr().String()
	l.Close()
	pterm.Info.Println("Listening on " + selfAddr)

	addresses := []string{selfAddr}
	localHost, _, err := net.SplitHostPort(selfAddr)
	if err != nil {
		panic(err)
	}
	for len(addresses) < cfg.N {
		prompt := fmt.Sprintf("Enter peer %d's address and port (ipaddr:port). When done, type done", len(addresses))
		addr, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(prompt).Show()
		if addr == "done" {
			break
		}
		ipaddr, port, err := cliutil.SplitHostPort(addr, 0)
		if err != nil {
			logger.Error("invalid address", "addr", addr, "err", err)
			continue
		}
		guessed, err := cliutil.GuessIPAddress(net.ParseIP(localHost), ipaddr)
		if err != nil {
			logger.Error("could not resolve address", "addr", addr, "err", err)
			continue
		}
		addresses = append(addresses, net.JoinHostPort(guessed.String(), port))
	}
	sort.Strings(addresses)

	t, err := httptransport.New(selfAddr, selfAddr, func() []string { return addresses })
	if err != nil {
		logger.Error("failed to start transport", "err", err)
		os.Exit(1)
	}
	defer t.Close()

	peer := gamefsm.New(cfg, t, nil, logger)

	ui := newLobbyUI(peer)
	joinDone := make(chan error, 1)
	if err := peer.Join(gamefsm.Handlers{
		Joined:             func(err error) { joinDone <- err },
		PlayerJoined:       ui.onPlayerJoined,
		PlayerDisconnected: ui.onPlayerDisconnected,
		GameStarted:        ui.onGameStarted,
		GamePaused:         ui.onGamePaused,
		GameStopped:        ui.onGameStopped,
		GameRolled:         ui.onGameRolled,
		PlayerFoundObject:  ui.onPlayerFoundObject,
		SeesawLocked:       ui.onSeesawLocked,
		SeesawUnlocked:     ui.onSeesawUnlocked,
		TeamConnected:      ui.onTeamConnected,
		PartnerUpdate:      ui.onPartnerUpdate,
		TilesReceived:      ui.onTilesReceived,
		TeamWon:            ui.onTeamWon,
	}); err != nil {
		logger.Error("join failed", "err", err)
		os.Exit(1)
	}

	spinner, _ := pterm.DefaultSpinner.Start("Waiting to be admitted to the game...")
	if err := <-joinDone; err != nil {
		spinner.Fail()
		logger.Error("join rejected", "err", err)
		os.Exit(1)
	}
	spinner.Success()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		if peer.State() == gamefsm.Disconnected {
			return nil
		}
		return peer.Leave()
	})
	g.Go(func() error {
		err := runLobbyLoop(gctx, peer, ui)
		stop()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("exiting", "err", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// runLobbyLoop drives the interactive menu of actions legal from the
// player's current state, looping until ctx is cancelled (Ctrl-C or
// SIGTERM).
func runLobbyLoop(ctx context.Context, peer *gamefsm.Peer, ui *lobbyUI) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ui.render()
		options := actionsFor(peer.State())
		choice, _ := pterm.DefaultInteractiveSelect.WithDefaultText("Choose an action").WithOptions(options).Show()
		if err := dispatchAction(peer, choice); err != nil {
			pterm.Error.Printfln("action failed: %s", err.Error())
		}
		if choice == "quit" {
			return nil
		}
	}
}

func actionsFor(state gamefsm.State) []string {
	switch state {
	case gamefsm.Waiting, gamefsm.Starting, gamefsm.Paused:
		return []string{"ready", "unready", "start", "quit"}
	case gamefsm.Playing:
		return []string{"found-object", "lock-seesaw", "unlock-seesaw", "pause", "quit"}
	default:
		return []string{"quit"}
	}
}

func dispatchAction(peer *gamefsm.Peer, choice string) error {
	switch choice {
	case "ready":
		return peer.SetReady(true)
	case "unready":
		return peer.SetReady(false)
	case "start":
		return peer.Start()
	case "pause":
		return peer.Pause()
	case "found-object":
		return peer.FoundObject()
	case "lock-seesaw":
		code, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Barcode number").Show()
		n, err := strconv.Atoi(code)
		if err != nil {
			return err
		}
		return peer.LockSeesaw(n)
	case "unlock-seesaw":
		return peer.UnlockSeesaw()
	case "quit":
		return peer.Leave()
	default:
		return nil
	}
}
