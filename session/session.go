// Package session tracks player identity and connection state: one
// session per authenticated player, token-based reconnection within a
// grace window, and two-phase expiry so callers can react to expired
// players before their records are removed.
package session

import (
	"time"

	"github.com/arcforge/arcforge/protocol"
)

// Config controls session behavior.
type Config struct {
	// ReconnectGrace is how long a disconnected player may reconnect
	// before the session expires. Zero disables reconnection.
	ReconnectGrace time.Duration
}

// DefaultConfig returns the standard 30-second grace window.
func DefaultConfig() Config {
	return Config{ReconnectGrace: 30 * time.Second}
}

// State is the lifecycle state of a session.
//
//	Connected --disconnect--> Disconnected --grace elapsed--> Expired
//	    ^                          |
//	    +-------reconnect----------+
type State int

const (
	StateConnected State = iota
	StateDisconnected
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Session is the server's record of one authenticated player.
type Session struct {
	PlayerID protocol.PlayerID

	State State

	// DisconnectedAt is set while State is StateDisconnected; the
	// session expires once Config.ReconnectGrace has elapsed from it.
	DisconnectedAt time.Time

	// ReconnectToken is the secret the client presents to resume this
	// session after a transport drop. 32 lowercase hex characters,
	// 128 bits of entropy.
	ReconnectToken string
}
