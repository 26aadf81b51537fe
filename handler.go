package arcforge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/arcforge/arcforge/internal/events"
	"github.com/arcforge/arcforge/internal/monitoring"
	"github.com/arcforge/arcforge/protocol"
	"github.com/arcforge/arcforge/room"
	"github.com/arcforge/arcforge/session"
	"github.com/arcforge/arcforge/transport"
)

// outBuffer is the per-connection outbound queue between the handler
// and its write pump.
const outBuffer = 64

// connHandler runs one connection from accept to close. Three
// goroutines cooperate: the read loop (this handler), the write pump
// that owns the sequence counter, and the bridge that forwards room
// traffic into the write pump.
type connHandler struct {
	srv   *Server
	conn  *transport.Conn
	log   zerolog.Logger
	start time.Time

	out  chan protocol.Payload
	quit chan struct{}
	sink room.Sink

	player protocol.PlayerID
	sess   session.Session
}

func (s *Server) handleConnection(conn *transport.Conn) {
	h := &connHandler{
		srv:   s,
		conn:  conn,
		log:   s.log.With().Stringer("conn_id", conn.ID()).Logger(),
		start: time.Now(),
		out:   make(chan protocol.Payload, outBuffer),
		quit:  make(chan struct{}),
		sink:  room.NewSink(),
	}
	h.run()
}

func (h *connHandler) run() {
	defer monitoring.RecoverPanic(h.log, "connection_handler")
	defer h.conn.Close()
	defer close(h.quit)

	h.srv.connCount.Add(1)
	defer h.srv.connCount.Add(-1)
	monitoring.ConnectionOpened()
	defer monitoring.ConnectionClosed()

	go h.writePump()

	if err := h.handshake(); err != nil {
		h.log.Debug().Err(err).Msg("handshake failed")
		return
	}
	h.log = h.log.With().Stringer("player_id", h.player).Logger()
	h.log.Info().Msg("player authenticated")

	// The session enters its grace window on every exit path,
	// including panics; the sweeper takes it from there.
	defer func() { _ = h.srv.sessions.Disconnect(h.player) }()

	go h.bridgeSink()

	limiter := rate.NewLimiter(rate.Limit(h.srv.cfg.MessageRate), h.srv.cfg.MessageBurst)

	for {
		data, err := h.conn.Recv(h.srv.cfg.IdleTimeout)
		if err != nil {
			if transport.IsTimeout(err) {
				h.log.Info().Msg("connection idle timeout")
			} else {
				h.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}
		monitoring.MessageReceived()

		if !limiter.Allow() {
			monitoring.RateLimitedMessage()
			h.log.Debug().Msg("inbound rate limit exceeded, dropping frame")
			continue
		}

		// Malformed frames are logged and skipped; one bad message
		// must not kill the connection.
		var env protocol.Envelope
		if err := h.srv.codec.Decode(data, &env); err != nil {
			monitoring.MalformedMessage()
			h.log.Debug().Err(err).Msg("failed to decode envelope, ignoring")
			continue
		}

		if env.Payload.IsGame() {
			h.handleGame(env.Payload.Game)
			continue
		}
		if h.handleSystem(env.Payload.System) {
			return
		}
	}
}

// handshake drives the pre-session phase: the first frame must be a
// valid Handshake within the deadline, the token must authenticate, and
// the player must not already be connected.
func (h *connHandler) handshake() error {
	data, err := h.conn.Recv(h.srv.cfg.HandshakeTimeout)
	if err != nil {
		if transport.IsTimeout(err) {
			monitoring.HandshakeFailed("timeout")
			return errors.New("handshake timed out")
		}
		monitoring.HandshakeFailed("closed")
		return fmt.Errorf("connection closed before handshake: %w", err)
	}

	var env protocol.Envelope
	if err := h.srv.codec.Decode(data, &env); err != nil {
		monitoring.HandshakeFailed("malformed")
		return err
	}

	hs, ok := env.Payload.System.(*protocol.Handshake)
	if !ok {
		monitoring.HandshakeFailed("not_handshake")
		h.sendErrorNow(protocol.CodeBadRequest, "expected Handshake")
		return errors.New("first message must be Handshake")
	}

	if hs.Version != protocol.ProtocolVersion {
		monitoring.HandshakeFailed("version_mismatch")
		h.sendErrorNow(protocol.CodeBadRequest,
			fmt.Sprintf("version mismatch: expected %d, got %d", protocol.ProtocolVersion, hs.Version))
		return fmt.Errorf("protocol version mismatch: %d", hs.Version)
	}

	ctx, cancel := context.WithTimeout(h.srv.ctx, h.srv.cfg.HandshakeTimeout)
	defer cancel()

	playerID, err := h.srv.auth.Authenticate(ctx, hs.Token)
	if err != nil {
		monitoring.HandshakeFailed("unauthorized")
		h.sendErrorNow(protocol.CodeUnauthorized, "unauthorized")
		return err
	}

	sess, err := h.srv.sessions.Create(playerID)
	if err != nil {
		monitoring.HandshakeFailed("session_conflict")
		h.sendErrorNow(errorCode(err), err.Error())
		return err
	}

	h.player = playerID
	h.sess = sess
	h.send(protocol.SystemPayload(protocol.HandshakeAck{
		PlayerID:   playerID,
		ServerTime: h.elapsedMs(),
	}))
	return nil
}

// handleSystem dispatches one system message. Returns true when the
// connection should close.
func (h *connHandler) handleSystem(msg protocol.SystemMessage) bool {
	ctx, cancel := context.WithTimeout(h.srv.ctx, 5*time.Second)
	defer cancel()

	switch m := msg.(type) {
	case *protocol.Heartbeat:
		h.send(protocol.SystemPayload(protocol.HeartbeatAck{
			ClientTime: m.ClientTime,
			ServerTime: h.elapsedMs(),
		}))

	case *protocol.JoinRoom:
		if err := h.srv.rooms.JoinRoom(ctx, h.player, m.RoomID, h.sink); err != nil {
			h.sendError(errorCode(err), err.Error())
			return false
		}
		h.send(protocol.SystemPayload(protocol.RoomJoined{
			RoomID:    m.RoomID,
			SessionID: h.sess.ReconnectToken,
		}))
		h.srv.events.Publish(events.SubjectPlayerJoined, events.Event{RoomID: m.RoomID, PlayerID: h.player})

	case *protocol.JoinOrCreate:
		// Single game type per server; name and options are reserved
		// for multi-game deployments.
		h.log.Debug().Str("name", m.Name).Msg("join-or-create requested")
		roomID, created, err := h.srv.rooms.JoinOrCreate(ctx, h.player, h.sink)
		if err != nil {
			h.sendError(errorCode(err), err.Error())
			return false
		}
		h.send(protocol.SystemPayload(protocol.RoomJoined{
			RoomID:    roomID,
			SessionID: h.sess.ReconnectToken,
		}))
		if created {
			h.srv.events.Publish(events.SubjectRoomCreated, events.Event{RoomID: roomID})
		}
		h.srv.events.Publish(events.SubjectPlayerJoined, events.Event{RoomID: roomID, PlayerID: h.player})

	case *protocol.ListRooms:
		infos := h.srv.rooms.ListRooms(ctx)
		entries := make([]protocol.RoomListEntry, 0, len(infos))
		for _, info := range infos {
			entries = append(entries, protocol.RoomListEntry{
				RoomID:      info.RoomID,
				PlayerCount: info.PlayerCount,
				MaxPlayers:  info.MaxPlayers,
			})
		}
		h.send(protocol.SystemPayload(protocol.RoomList{Rooms: entries}))

	case *protocol.LeaveRoom:
		roomID, _ := h.srv.rooms.PlayerRoom(h.player)
		if err := h.srv.rooms.LeaveRoom(ctx, h.player); err != nil {
			h.log.Debug().Err(err).Msg("leave room failed")
			return false
		}
		h.srv.events.Publish(events.SubjectPlayerLeft, events.Event{RoomID: roomID, PlayerID: h.player})

	case *protocol.Disconnect:
		h.log.Info().Str("reason", m.Reason).Msg("client disconnected")
		return true

	default:
		h.log.Debug().Msg("ignoring unexpected system message")
	}
	return false
}

// handleGame routes opaque game bytes to the player's room; the room
// actor decodes and validates them.
func (h *connHandler) handleGame(data []byte) {
	ctx, cancel := context.WithTimeout(h.srv.ctx, 5*time.Second)
	defer cancel()

	if err := h.srv.rooms.RouteMessage(ctx, h.player, data); err != nil {
		h.sendError(protocol.CodeBadRequest, err.Error())
	}
}

// writePump owns the outbound sequence counter and serializes all
// writes to the socket. On a send failure it keeps draining the queue
// so nothing upstream blocks while the read loop notices the broken
// connection.
func (h *connHandler) writePump() {
	defer monitoring.RecoverPanic(h.log, "write_pump")

	var seq uint64
	broken := false
	for {
		select {
		case <-h.quit:
			return
		case p := <-h.out:
			if broken {
				continue
			}
			seq++
			env := protocol.Envelope{
				Seq:       seq,
				Timestamp: h.elapsedMs(),
				Channel:   protocol.ChannelReliableOrdered,
				Payload:   p,
			}
			data, err := h.srv.codec.Encode(env)
			if err != nil {
				h.log.Error().Err(err).Msg("outbound encode failed, dropping")
				continue
			}
			if err := h.conn.Send(data); err != nil {
				h.log.Debug().Err(err).Msg("send failed")
				broken = true
				continue
			}
			monitoring.MessageSent()
		}
	}
}

// bridgeSink forwards room traffic into the write pump: snapshots as
// RoomState system messages, game messages as opaque Game payloads.
func (h *connHandler) bridgeSink() {
	defer monitoring.RecoverPanic(h.log, "room_bridge")

	for {
		select {
		case <-h.quit:
			return
		case o := <-h.sink:
			switch o.Kind {
			case room.OutboundState:
				h.send(protocol.SystemPayload(protocol.RoomState{Data: protocol.ByteSlice(o.Data)}))
			case room.OutboundMessage:
				h.send(protocol.GamePayload(o.Data))
			}
		}
	}
}

func (h *connHandler) send(p protocol.Payload) {
	select {
	case h.out <- p:
	case <-h.quit:
	}
}

func (h *connHandler) sendError(code uint16, message string) {
	h.send(protocol.SystemPayload(protocol.ErrorMessage{Code: code, Message: message}))
}

// sendErrorNow writes an Error frame synchronously, bypassing the write
// pump. Handshake failures close the connection as soon as handshake()
// returns, so a queued frame would race the close and usually lose; at
// that point no frame has been written yet, making this seq 1.
func (h *connHandler) sendErrorNow(code uint16, message string) {
	env := protocol.Envelope{
		Seq:       1,
		Timestamp: h.elapsedMs(),
		Channel:   protocol.ChannelReliableOrdered,
		Payload:   protocol.SystemPayload(protocol.ErrorMessage{Code: code, Message: message}),
	}
	data, err := h.srv.codec.Encode(env)
	if err != nil {
		h.log.Error().Err(err).Msg("outbound encode failed, dropping")
		return
	}
	if err := h.conn.Send(data); err != nil {
		h.log.Debug().Err(err).Msg("send failed")
		return
	}
	monitoring.MessageSent()
}

func (h *connHandler) elapsedMs() uint64 {
	return uint64(time.Since(h.start).Milliseconds())
}
