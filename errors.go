package arcforge

import (
	"errors"

	"github.com/arcforge/arcforge/protocol"
	"github.com/arcforge/arcforge/room"
	"github.com/arcforge/arcforge/session"
)

// errorCode maps subsystem errors onto the wire error taxonomy:
// 400 bad request, 401 unauthorized, 404 not found, 409 conflict.
func errorCode(err error) uint16 {
	switch {
	case errors.Is(err, session.ErrAuthFailed):
		return protocol.CodeUnauthorized
	case errors.Is(err, room.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, room.ErrFull),
		errors.Is(err, room.ErrAlreadyInRoom),
		errors.Is(err, room.ErrInvalidState),
		errors.Is(err, session.ErrAlreadyConnected),
		errors.Is(err, session.ErrExpired):
		return protocol.CodeConflict
	default:
		return protocol.CodeBadRequest
	}
}
