package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SystemMessage is a framework-level message: connection lifecycle,
// heartbeats, room management, and errors. On the wire it is internally
// tagged by a "type" field, e.g.
//
//	{"type":"Heartbeat","client_time":5000}
//
// Game payloads never appear here; they travel as opaque bytes in
// Payload.Game.
type SystemMessage interface {
	systemType() string
}

// Handshake is the first message a client must send.
type Handshake struct {
	Version uint32 `json:"version"`
	Token   string `json:"token,omitempty"`
}

// HandshakeAck confirms a successful handshake and assigns identity.
type HandshakeAck struct {
	PlayerID   PlayerID `json:"player_id"`
	ServerTime uint64   `json:"server_time"`
}

// Disconnect announces an orderly disconnect in either direction.
type Disconnect struct {
	Reason string `json:"reason"`
}

// Heartbeat is the client keep-alive. ClientTime is echoed back so the
// client can compute RTT.
type Heartbeat struct {
	ClientTime uint64 `json:"client_time"`
}

// HeartbeatAck answers a Heartbeat with both clocks.
type HeartbeatAck struct {
	ClientTime uint64 `json:"client_time"`
	ServerTime uint64 `json:"server_time"`
}

// JoinRoom asks to join a specific room.
type JoinRoom struct {
	RoomID RoomID `json:"room_id"`
}

// JoinOrCreate asks to join any joinable room of the requested type, or
// create one. Name and Options are reserved for multi-game servers and
// ignored in this revision.
type JoinOrCreate struct {
	Name    string    `json:"name"`
	Options ByteSlice `json:"options"`
}

// LeaveRoom asks to leave the current room.
type LeaveRoom struct{}

// ListRooms asks for the list of joinable rooms.
type ListRooms struct{}

// RoomListEntry summarizes one room in a RoomList response.
type RoomListEntry struct {
	RoomID      RoomID `json:"room_id"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
}

// RoomList answers ListRooms.
type RoomList struct {
	Rooms []RoomListEntry `json:"rooms"`
}

// RoomState carries a full game-state snapshot, serialized by the
// game's codec and opaque to the protocol layer.
type RoomState struct {
	Data ByteSlice `json:"data"`
}

// RoomJoined confirms a join. SessionID is the reconnection token for
// the player's session.
type RoomJoined struct {
	RoomID    RoomID `json:"room_id"`
	SessionID string `json:"session_id"`
}

// ErrorMessage reports a failure to the client. Code follows HTTP-style
// conventions (400 bad request, 401 unauthorized, 404 not found,
// 409 conflict). Clients should treat unknown codes as generic failures.
type ErrorMessage struct {
	Code    uint16 `json:"code"`
	Message string `json:"message"`
}

func (Handshake) systemType() string    { return "Handshake" }
func (HandshakeAck) systemType() string { return "HandshakeAck" }
func (Disconnect) systemType() string   { return "Disconnect" }
func (Heartbeat) systemType() string    { return "Heartbeat" }
func (HeartbeatAck) systemType() string { return "HeartbeatAck" }
func (JoinRoom) systemType() string     { return "JoinRoom" }
func (JoinOrCreate) systemType() string { return "JoinOrCreate" }
func (LeaveRoom) systemType() string    { return "LeaveRoom" }
func (ListRooms) systemType() string    { return "ListRooms" }
func (RoomList) systemType() string     { return "RoomList" }
func (RoomState) systemType() string    { return "RoomState" }
func (RoomJoined) systemType() string   { return "RoomJoined" }
func (ErrorMessage) systemType() string { return "ErrorMessage" }

// The wire tag for ErrorMessage is "Error"; the Go type is named
// ErrorMessage to avoid shadowing the builtin error interface.
func marshalSystem(m SystemMessage) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	tag := m.systemType()
	if tag == "ErrorMessage" {
		tag = "Error"
	}
	// Splice the tag into the variant's own object so numeric fields
	// survive without a lossy float round-trip through a map.
	out := make([]byte, 0, len(body)+len(tag)+11)
	out = append(out, `{"type":`...)
	out = strconv.AppendQuote(out, tag)
	if len(body) <= 2 { // variant with no fields marshals as "{}"
		return append(out, '}'), nil
	}
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

func unmarshalSystem(data []byte) (SystemMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	decode := func(v SystemMessage, into any) (SystemMessage, error) {
		if err := json.Unmarshal(data, into); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return v, nil
	}

	switch head.Type {
	case "Handshake":
		var m Handshake
		return decode(&m, &m)
	case "HandshakeAck":
		var m HandshakeAck
		return decode(&m, &m)
	case "Disconnect":
		var m Disconnect
		return decode(&m, &m)
	case "Heartbeat":
		var m Heartbeat
		return decode(&m, &m)
	case "HeartbeatAck":
		var m HeartbeatAck
		return decode(&m, &m)
	case "JoinRoom":
		var m JoinRoom
		return decode(&m, &m)
	case "JoinOrCreate":
		var m JoinOrCreate
		return decode(&m, &m)
	case "LeaveRoom":
		return &LeaveRoom{}, nil
	case "ListRooms":
		return &ListRooms{}, nil
	case "RoomList":
		var m RoomList
		return decode(&m, &m)
	case "RoomState":
		var m RoomState
		return decode(&m, &m)
	case "RoomJoined":
		var m RoomJoined
		return decode(&m, &m)
	case "Error":
		var m ErrorMessage
		return decode(&m, &m)
	default:
		return nil, fmt.Errorf("%w: unknown system message type %q", ErrDecode, head.Type)
	}
}

// ByteSlice is a byte payload that marshals as a JSON array of numbers
// rather than the encoding/json default of base64. The wire contract
// for opaque game bytes is an array of u8.
type ByteSlice []byte

func (b ByteSlice) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, len(b)*4+2)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

func (b *ByteSlice) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	var nums []uint16
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n > 255 {
			return fmt.Errorf("%w: byte value %d out of range", ErrDecode, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
