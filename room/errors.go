package room

import "errors"

var (
	// ErrNotFound means the room does not exist.
	ErrNotFound = errors.New("room: not found")
	// ErrFull means no player slots are left.
	ErrFull = errors.New("room: full")
	// ErrAlreadyInRoom means the player is already a member.
	ErrAlreadyInRoom = errors.New("room: player already in room")
	// ErrNotInRoom means the player is not a member.
	ErrNotInRoom = errors.New("room: player not in room")
	// ErrInvalidState means the room's lifecycle state does not allow
	// the operation, e.g. joining a game already in progress.
	ErrInvalidState = errors.New("room: invalid state for operation")
	// ErrUnavailable means the room's command inbox is closed or the
	// actor stopped before replying.
	ErrUnavailable = errors.New("room: unavailable")
)
