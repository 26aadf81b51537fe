package session

import "errors"

var (
	// ErrAuthFailed means the authenticator rejected the token.
	ErrAuthFailed = errors.New("session: authentication failed")
	// ErrNotFound means no session exists for the player.
	ErrNotFound = errors.New("session: not found")
	// ErrInvalidToken means the reconnect token is not recognized.
	ErrInvalidToken = errors.New("session: invalid reconnect token")
	// ErrExpired means the reconnection grace window has elapsed.
	ErrExpired = errors.New("session: expired")
	// ErrAlreadyConnected means the player already has a live session.
	ErrAlreadyConnected = errors.New("session: already connected")
)
