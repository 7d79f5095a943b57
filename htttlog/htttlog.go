// Package htttlog provides the leveled logger shared by every HTTTP
// package. Library code accepts a *slog.Logger instead of constructing
// its own so the CLI entry points can wire in a pterm-backed handler
// without every package importing pterm.
package htttlog

import (
	"log/slog"
	"os"
)

// New returns a text-handler logger scoped to a single peer, tagged with
// its playerID so concurrent peers in the same process (tests, demos)
// stay distinguishable in interleaved output.
func New(playerID string) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(h).With("player", playerID)
}

// Discard returns a logger that drops everything, for tests that don't
// care about log output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
