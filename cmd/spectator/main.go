// Command spectator runs HTTTP's read-only observer role: it joins no
// vote, drives no state transition, and simply mirrors whatever the
// four playing robots broadcast, rendering it to the terminal and
// fanning it out to any browser clients connected over websocket.
//
// Grounded on the teacher's cmd/main.go startup idiom, adapted to a
// role that never prompts for actions — only for the addresses it
// needs to listen for.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"golang.org/x/sync/errgroup"

	"github.com/tgoossens/htttp-peno/gamefsm"
	"github.com/tgoossens/htttp-peno/htttlog"
	"github.com/tgoossens/htttp-peno/internal/cliutil"
	"github.com/tgoossens/htttp-peno/spectator"
	"github.com/tgoossens/htttp-peno/transport/httptransport"
)

func main() {
	listenAddr := flag.String("listen", ":0", "local address to listen on")
	httpAddr := flag.String("http", ":8080", "address to serve the websocket bridge on")
	peerCount := flag.Int("n", 4, "number of playing robots to expect addresses for")
	flag.Parse()

	logger := htttlog.New("spectator")

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("WATCH", pterm.FgDarkGray.ToStyle()),
	).Render()

	l, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", *listenAddr, "err", err)
		os.Exit(1)
	}
	selfAddr := l.Addr().String()
	l.Close()
	pterm.Info.Println("Listening on " + selfAddr)

	localHost, _, err := net.SplitHostPort(selfAddr)
	if err != nil {
		panic(err)
	}

	addresses := []string{selfAddr}
	for len(addresses) < *peerCount+1 {
		addr, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter a robot's address (ipaddr:port). When done, type done").Show()
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

	hub := spectator.NewHub(logger)

	var sp *spectator.Spectator
	sp = spectator.New(t, 4, spectator.Handlers{
		PlayerJoined:       func(id string) { logger.Info("player joined", "id", id); hub.Broadcast(spectator.SnapshotOf(sp)) },
		PlayerDisconnected: func(id string, reason gamefsm.DisconnectReason) { logger.Info("player disconnected", "id", id, "reason", reason) },
		GameStarted:        func() { logger.Info("game started") },
		GamePaused:         func() { logger.Info("game paused") },
		GameStopped:        func() { logger.Info("game stopped") },
		SeesawLocked:       func(n, barcode int) { logger.Info("seesaw locked", "player", n, "barcode", barcode) },
		SeesawUnlocked:     func(n, barcode int) { logger.Info("seesaw unlocked", "player", n, "barcode", barcode) },
		TeamWon:            func(n int) { logger.Info("team won", "team", n) },
		StateChanged:       func(gamefsm.State) { hub.Broadcast(spectator.SnapshotOf(sp)) },
	}, logger)
	if err := sp.Start(); err != nil {
		logger.Error("failed to start spectator", "err", err)
		os.Exit(1)
	}
	defer sp.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: *httpAddr, Handler: http.HandlerFunc(hub.ServeWS)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pterm.Info.Println("Serving websocket bridge on " + *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return httpServer.Shutdown(context.Background())
	})
	g.Go(func() error {
		return renderLoop(gctx, sp)
	})

	if err := g.Wait(); err != nil {
		logger.Error("exiting", "err", err)
	}
}

func renderLoop(ctx context.Context, sp *spectator.Spectator) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			renderSpectatorView(sp)
		}
	}
}

func renderSpectatorView(sp *spectator.Spectator) {
	pbox := pterm.DefaultBox.WithLeftPadding(4).WithRightPadding(4).WithTopPadding(1).WithBottomPadding(1)
	reg := sp.Registry()
	confirmed := reg.ConfirmedIDs()
	missing := reg.MissingIDs()

	rosterText := "confirmed: "
	for _, id := range confirmed {
		rosterText += id + " "
	}
	rosterText += "\nmissing: "
	for _, id := range missing {
		rosterText += id + " "
	}

	panel := pterm.Panel{Data: pbox.WithTitle(pterm.LightCyan("|OBSERVED STATE|")).WithTitleTopLeft().
		Sprintf("state: %s\n%s", sp.State(), rosterText)}

	pterm.DefaultPanel.WithPanels([][]pterm.Panel{{panel}}).Render()
}
