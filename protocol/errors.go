package protocol

import "errors"

// ProtocolVersion is the wire protocol version negotiated during the
// handshake. Clients presenting any other version are rejected.
const ProtocolVersion uint32 = 1

var (
	// ErrEncode wraps any failure to serialize a value.
	ErrEncode = errors.New("protocol: encode failed")
	// ErrDecode wraps any failure to deserialize bytes.
	ErrDecode = errors.New("protocol: decode failed")
	// ErrInvalidMessage marks a structurally valid frame that is not
	// acceptable in the current protocol phase.
	ErrInvalidMessage = errors.New("protocol: invalid message")
)

// Error codes carried in ErrorMessage frames.
const (
	CodeBadRequest   uint16 = 400
	CodeUnauthorized uint16 = 401
	CodeNotFound     uint16 = 404
	CodeConflict     uint16 = 409
)
