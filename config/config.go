// Package config holds the small set of values every peer needs before
// it can join a game: who it is, which game it's joining, how to reach
// the broker, and the protocol's timing constants. Grounded on the
// teacher's cmd/main.go flag-driven startup.
package config

import (
	"flag"
	"time"
)

// Protocol constants, spec.md §6.
const (
	DefaultN                 = 4
	DefaultRequestLifetime   = 2000 * time.Millisecond
	DefaultHeartbeatFreq     = 2000 * time.Millisecond
	DefaultHeartbeatLifetime = 5000 * time.Millisecond
)

// Config is a peer's local configuration.
type Config struct {
	GameID  string
	PlayerID string
	Broker  string // connection string/address for the transport backend

	N                 int
	RequestLifetime   time.Duration
	HeartbeatFreq     time.Duration
	HeartbeatLifetime time.Duration
}

// Default returns a Config with the protocol's default timing constants
// and N=4, leaving GameID/PlayerID/Broker blank for the caller to fill.
func Default() Config {
	return Config{
		N:                 DefaultN,
		RequestLifetime:   DefaultRequestLifetime,
		HeartbeatFreq:     DefaultHeartbeatFreq,
		HeartbeatLifetime: DefaultHeartbeatLifetime,
	}
}

// RegisterFlags wires Config's fields into the given FlagSet, the same
// flag-first style as the teacher's cmd/main.go. Call Parse on fs
// yourself; this only declares the flags.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	*cfg = Default()
	fs.StringVar(&cfg.GameID, "game", "", "game identifier (topic exchange name)")
	fs.StringVar(&cfg.PlayerID, "player", "", "stable player identifier for this robot")
	fs.StringVar(&cfg.Broker, "broker", "", "transport backend address")
	fs.IntVar(&cfg.N, "n", DefaultN, "number of players in the party")
	fs.DurationVar(&cfg.RequestLifetime, "request-lifetime", DefaultRequestLifetime, "request/vote timeout")
	fs.DurationVar(&cfg.HeartbeatFreq, "heartbeat-freq", DefaultHeartbeatFreq, "heartbeat publish interval")
	fs.DurationVar(&cfg.HeartbeatLifetime, "heartbeat-lifetime", DefaultHeartbeatLifetime, "heartbeat expiry before a peer is declared missing")
}
