// Package room hosts game instances. Each room is an actor: one
// goroutine owns the game state and processes commands from a bounded
// inbox, so game logic never sees concurrent access. Higher layers talk
// to a room through its handle; outbound traffic flows through
// per-player sinks that a slow consumer cannot use to block the actor.
package room

import (
	"time"

	"github.com/arcforge/arcforge/protocol"
)

// Outgoing pairs a server message produced by game logic with the
// recipients who should receive it.
type Outgoing struct {
	To  protocol.Recipient
	Msg any
}

// Logic is the extension point game developers implement: it describes
// the game type (configuration, message shapes) and creates game
// instances. One Logic value serves every room on the server, so it
// must be stateless or safe for concurrent use.
type Logic interface {
	// Config returns the room shape for this game type.
	Config() Config

	// Init creates the game instance when a room starts. players holds
	// everyone who joined during the waiting phase.
	Init(players []protocol.PlayerID) Game

	// NewClientMessage returns a pointer to a fresh, empty client
	// message for the codec to decode into.
	NewClientMessage() any
}

// Game is one running game instance. It is owned by a single room actor
// and never called concurrently.
type Game interface {
	// Validate checks a client message before it is applied. A non-nil
	// error rejects the message; the game state must not change.
	Validate(sender protocol.PlayerID, msg any) error

	// Handle applies a validated client message and returns the
	// messages to send out.
	Handle(sender protocol.PlayerID, msg any) []Outgoing

	// Tick advances the simulation by the fixed timestep. Only called
	// when the room's tick rate is non-zero.
	Tick(dt time.Duration) []Outgoing

	// Finished reports whether the game is over. Checked after every
	// Handle and Tick.
	Finished() bool

	// PlayerDisconnected lets the game react to a player leaving
	// mid-game: pause, skip their turn, forfeit.
	PlayerDisconnected(player protocol.PlayerID) []Outgoing

	// PlayerReconnected lets the game react to a player coming back.
	PlayerReconnected(player protocol.PlayerID) []Outgoing

	// Snapshot returns the full game state for broadcast to clients,
	// encoded by the server's codec.
	Snapshot() any
}
