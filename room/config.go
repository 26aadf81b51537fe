package room

import (
	"time"

	"github.com/arcforge/arcforge/tick"
)

// Config describes one room instance. Game implementations return it
// from Logic.Config.
type Config struct {
	// MinPlayers is how many players must join before the game
	// auto-starts.
	MinPlayers int
	// MaxPlayers caps room membership.
	MaxPlayers int
	// ReconnectGrace is how long a disconnected player is kept before
	// being treated as gone for good.
	ReconnectGrace time.Duration
	// Tick configures the room's tick loop. A zero rate keeps the
	// room event-driven.
	Tick tick.Config
}

// DefaultConfig returns the standard room shape: 2-8 players,
// event-driven, 30-second reconnect grace.
func DefaultConfig() Config {
	return Config{
		MinPlayers:     2,
		MaxPlayers:     8,
		ReconnectGrace: 30 * time.Second,
		Tick:           tick.DefaultConfig(),
	}
}

// State is the lifecycle state of a room. Transitions are strictly
// ordered, no skipping:
//
//	WaitingForPlayers -> Starting -> InProgress -> Finished -> Destroying
type State int

const (
	// StateWaiting accepts joins; not enough players to start yet.
	StateWaiting State = iota
	// StateStarting initializes the game once minimum players joined.
	StateStarting
	// StateInProgress runs the game; players exchange game messages.
	StateInProgress
	// StateFinished shows the final state; messages still reach the
	// game, which decides whether to act on them.
	StateFinished
	// StateDestroying tears the room down.
	StateDestroying
)

// Joinable reports whether the room accepts new players.
func (s State) Joinable() bool { return s == StateWaiting }

// Active reports whether a game is initializing or running.
func (s State) Active() bool { return s == StateStarting || s == StateInProgress }

// Next returns the following state and true, or false from the
// terminal state.
func (s State) Next() (State, bool) {
	if s >= StateDestroying {
		return 0, false
	}
	return s + 1, true
}

// CanTransitionTo reports whether moving to target respects the strict
// ordering.
func (s State) CanTransitionTo(target State) bool {
	next, ok := s.Next()
	return ok && next == target
}

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WaitingForPlayers"
	case StateStarting:
		return "Starting"
	case StateInProgress:
		return "InProgress"
	case StateFinished:
		return "Finished"
	case StateDestroying:
		return "Destroying"
	}
	return "Unknown"
}
