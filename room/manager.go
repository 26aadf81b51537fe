package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/arcforge/arcforge/protocol"
)

// DefaultInboxSize is the command inbox capacity of a room actor.
const DefaultInboxSize = 64

// Manager creates, tracks, and routes players to rooms. It holds its
// lock only for map access; it never waits on a room actor while
// locked, so a busy room cannot stall operations on other rooms.
type Manager struct {
	mu          sync.Mutex
	rooms       map[protocol.RoomID]*Room
	playerRooms map[protocol.PlayerID]protocol.RoomID

	logic     Logic
	codec     protocol.Codec
	inboxSize int
	nextID    atomic.Uint64
	log       zerolog.Logger
}

// NewManager builds an empty registry for one game type. inboxSize <= 0
// selects DefaultInboxSize.
func NewManager(logic Logic, codec protocol.Codec, inboxSize int, log zerolog.Logger) *Manager {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &Manager{
		rooms:       make(map[protocol.RoomID]*Room),
		playerRooms: make(map[protocol.PlayerID]protocol.RoomID),
		logic:       logic,
		codec:       codec,
		inboxSize:   inboxSize,
		log:         log.With().Str("component", "rooms").Logger(),
	}
}

// CreateRoom spawns a new room and returns its id. Room ids are
// allocated monotonically and never reused within a process.
func (m *Manager) CreateRoom() protocol.RoomID {
	id := protocol.RoomID(m.nextID.Add(1))
	r := spawn(id, m.logic, m.codec, m.inboxSize, m.log)

	m.mu.Lock()
	m.rooms[id] = r
	m.mu.Unlock()

	m.log.Info().Stringer("room_id", id).Msg("room created")
	return id
}

// JoinRoom adds the player to a specific room, enforcing the one-room-
// per-player invariant.
func (m *Manager) JoinRoom(ctx context.Context, player protocol.PlayerID, roomID protocol.RoomID, sink Sink) error {
	m.mu.Lock()
	if current, ok := m.playerRooms[player]; ok {
		m.mu.Unlock()
		if current == roomID {
			return fmt.Errorf("%w: %s in %s", ErrAlreadyInRoom, player, roomID)
		}
		return fmt.Errorf("%w: %s is already in %s", ErrInvalidState, player, current)
	}
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	// Reserve the membership slot before releasing the lock so a
	// concurrent join for the same player cannot slip in while we wait
	// on the actor.
	m.playerRooms[player] = roomID
	m.mu.Unlock()

	if err := r.Join(ctx, player, sink); err != nil {
		m.mu.Lock()
		delete(m.playerRooms, player)
		m.mu.Unlock()
		return err
	}
	return nil
}

// LeaveRoom removes the player from their current room.
func (m *Manager) LeaveRoom(ctx context.Context, player protocol.PlayerID) error {
	m.mu.Lock()
	roomID, ok := m.playerRooms[player]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not in any room", ErrInvalidState, player)
	}
	r := m.rooms[roomID]
	m.mu.Unlock()

	if r != nil {
		if err := r.Leave(ctx, player); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.playerRooms, player)
	m.mu.Unlock()
	return nil
}

// RouteMessage delivers raw game bytes from the player to their room.
func (m *Manager) RouteMessage(ctx context.Context, player protocol.PlayerID, data []byte) error {
	m.mu.Lock()
	roomID, ok := m.playerRooms[player]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not in any room", ErrInvalidState, player)
	}
	r, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	return r.Send(ctx, player, data)
}

// RoomInfo returns the metadata of one room.
func (m *Manager) RoomInfo(ctx context.Context, roomID protocol.RoomID) (Info, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	return r.Info(ctx)
}

// DestroyRoom shuts the room down and drops every membership that
// pointed at it.
func (m *Manager) DestroyRoom(ctx context.Context, roomID protocol.RoomID) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}

	_ = r.Shutdown(ctx)

	m.mu.Lock()
	for p, rid := range m.playerRooms {
		if rid == roomID {
			delete(m.playerRooms, p)
		}
	}
	m.mu.Unlock()

	m.log.Info().Stringer("room_id", roomID).Msg("room destroyed")
	return nil
}

// PlayerRoom returns the room the player is in, if any.
func (m *Manager) PlayerRoom(player protocol.PlayerID) (protocol.RoomID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.playerRooms[player]
	return id, ok
}

// ListRooms returns the metadata of every joinable room. Rooms that do
// not respond, e.g. mid-shutdown, are skipped.
func (m *Manager) ListRooms(ctx context.Context) []Info {
	var infos []Info
	for _, r := range m.handles() {
		info, err := r.Info(ctx)
		if err != nil {
			continue
		}
		if info.State.Joinable() {
			infos = append(infos, info)
		}
	}
	return infos
}

// Infos returns the metadata of every room regardless of state. Rooms
// that do not respond are skipped.
func (m *Manager) Infos(ctx context.Context) []Info {
	var infos []Info
	for _, r := range m.handles() {
		if info, err := r.Info(ctx); err == nil {
			infos = append(infos, info)
		}
	}
	return infos
}

// JoinOrCreate finds a joinable room for the player or creates a fresh
// one, reporting which happened. This is the whole of matchmaking:
// scan, try to join, fall back to create. A room that fills up between
// the info query and the join is simply skipped.
func (m *Manager) JoinOrCreate(ctx context.Context, player protocol.PlayerID, sink Sink) (protocol.RoomID, bool, error) {
	m.mu.Lock()
	if current, ok := m.playerRooms[player]; ok {
		m.mu.Unlock()
		return 0, false, fmt.Errorf("%w: %s is already in %s", ErrInvalidState, player, current)
	}
	// Reserve with the zero id; real ids start at 1.
	m.playerRooms[player] = 0
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.playerRooms, player)
		m.mu.Unlock()
	}

	for _, r := range m.handles() {
		info, err := r.Info(ctx)
		if err != nil || !info.State.Joinable() || info.PlayerCount >= info.MaxPlayers {
			continue
		}
		if err := r.Join(ctx, player, sink); err != nil {
			continue
		}
		m.mu.Lock()
		m.playerRooms[player] = info.RoomID
		m.mu.Unlock()
		return info.RoomID, false, nil
	}

	roomID := m.CreateRoom()
	m.mu.Lock()
	r := m.rooms[roomID]
	m.mu.Unlock()

	if err := r.Join(ctx, player, sink); err != nil {
		release()
		return 0, false, err
	}
	m.mu.Lock()
	m.playerRooms[player] = roomID
	m.mu.Unlock()
	return roomID, true, nil
}

// RoomCount returns the number of active rooms.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Close shuts down every room. Used on server shutdown.
func (m *Manager) Close(ctx context.Context) {
	for _, r := range m.handles() {
		_ = r.Shutdown(ctx)
	}
	m.mu.Lock()
	m.rooms = make(map[protocol.RoomID]*Room)
	m.playerRooms = make(map[protocol.PlayerID]protocol.RoomID)
	m.mu.Unlock()
}

func (m *Manager) handles() []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rs = append(rs, r)
	}
	return rs
}
