// Package protocol defines Arcforge's wire format: the envelope that
// wraps every frame, the system messages the framework itself speaks,
// and the codec seam that converts values to and from bytes.
//
// The payload of an envelope is either a System message, decoded and
// dispatched by the framework, or opaque Game bytes that are only
// decoded once the recipient room is known.
package protocol

import "strconv"

// PlayerID uniquely identifies a player within the process. It is
// assigned by the authenticator and stable across reconnects of the
// same session.
type PlayerID uint64

func (p PlayerID) String() string {
	return "P-" + strconv.FormatUint(uint64(p), 10)
}

// RoomID uniquely identifies a room (one game instance). IDs are
// allocated monotonically and never reused during the process lifetime.
type RoomID uint64

func (r RoomID) String() string {
	return "R-" + strconv.FormatUint(uint64(r), 10)
}

// ConnID uniquely identifies an accepted transport connection.
type ConnID uint64

func (c ConnID) String() string {
	return "C-" + strconv.FormatUint(uint64(c), 10)
}

// Channel is the delivery guarantee requested for a message. The tag is
// carried on the wire for forward compatibility; the current transport
// delivers everything reliable-ordered.
type Channel string

const (
	ChannelReliableOrdered   Channel = "ReliableOrdered"
	ChannelReliableUnordered Channel = "ReliableUnordered"
	ChannelUnreliable        Channel = "Unreliable"
)

func (c Channel) valid() bool {
	switch c {
	case ChannelReliableOrdered, ChannelReliableUnordered, ChannelUnreliable:
		return true
	}
	return false
}

// RecipientKind selects the fan-out class of an outbound game message.
type RecipientKind int

const (
	// RecipientAll delivers to every current member of the room.
	RecipientAll RecipientKind = iota
	// RecipientPlayer delivers to exactly one member; silently dropped
	// if that player is not in the room.
	RecipientPlayer
	// RecipientAllExcept delivers to every member except one.
	RecipientAllExcept
)

// Recipient specifies who should receive a server message produced by
// game logic.
type Recipient struct {
	Kind   RecipientKind
	Player PlayerID // meaningful for RecipientPlayer and RecipientAllExcept
}

// ToAll addresses every player in the room.
func ToAll() Recipient { return Recipient{Kind: RecipientAll} }

// ToPlayer addresses a single player.
func ToPlayer(p PlayerID) Recipient {
	return Recipient{Kind: RecipientPlayer, Player: p}
}

// ToAllExcept addresses everyone but the given player.
func ToAllExcept(p PlayerID) Recipient {
	return Recipient{Kind: RecipientAllExcept, Player: p}
}
