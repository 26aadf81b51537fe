package arcforge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcforge/arcforge/protocol"
	"github.com/arcforge/arcforge/room"
	"github.com/arcforge/arcforge/session"
)

// counterMsg doubles as the client message and the server reply of the
// test game.
type counterMsg struct {
	Op string `json:"op"`
	N  int    `json:"n"`
}

type counterLogic struct {
	min, max int
}

func (l counterLogic) Config() room.Config {
	cfg := room.DefaultConfig()
	cfg.MinPlayers = l.min
	cfg.MaxPlayers = l.max
	return cfg
}

func (counterLogic) Init(players []protocol.PlayerID) room.Game {
	return &counterGame{}
}

func (counterLogic) NewClientMessage() any { return &counterMsg{} }

type counterGame struct {
	total int
	done  bool
}

func (g *counterGame) Validate(_ protocol.PlayerID, msg any) error {
	if msg.(*counterMsg).N < 0 {
		return fmt.Errorf("negative count")
	}
	return nil
}

func (g *counterGame) Handle(_ protocol.PlayerID, msg any) []room.Outgoing {
	m := msg.(*counterMsg)
	switch m.Op {
	case "count":
		g.total += m.N
		return []room.Outgoing{{To: protocol.ToAll(), Msg: counterMsg{Op: "counted", N: g.total}}}
	case "finish":
		g.done = true
	}
	return nil
}

func (g *counterGame) Tick(time.Duration) []room.Outgoing { return nil }

func (g *counterGame) Finished() bool { return g.done }

func (g *counterGame) PlayerDisconnected(protocol.PlayerID) []room.Outgoing { return nil }

func (g *counterGame) PlayerReconnected(protocol.PlayerID) []room.Outgoing { return nil }

func (g *counterGame) Snapshot() any { return counterMsg{Op: "state", N: g.total} }

func startServer(t *testing.T, logic room.Logic, mut func(*Config)) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.CPURejectThreshold = 0
	if mut != nil {
		mut(cfg)
	}

	srv, err := NewServer(cfg, logic, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

// testClient drives one WebSocket connection through the wire protocol.
type testClient struct {
	t    *testing.T
	conn net.Conn
	seq  uint64
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, _, _, err := ws.Dial(context.Background(), "ws://"+srv.Addr()+"/ws")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(p protocol.Payload) {
	c.t.Helper()
	c.seq++
	data, err := json.Marshal(protocol.NewEnvelope(c.seq, uint64(time.Now().UnixMilli()), p))
	require.NoError(c.t, err)
	require.NoError(c.t, wsutil.WriteClientBinary(c.conn, data))
}

func (c *testClient) sendGame(msg counterMsg) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	c.send(protocol.GamePayload(data))
}

func (c *testClient) recv() protocol.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, _, err := wsutil.ReadServerData(c.conn)
	require.NoError(c.t, err)
	var env protocol.Envelope
	require.NoError(c.t, json.Unmarshal(data, &env))
	return env
}

func (c *testClient) recvSystem() protocol.SystemMessage {
	c.t.Helper()
	env := c.recv()
	require.NotNil(c.t, env.Payload.System, "expected system message, got game payload")
	return env.Payload.System
}

func (c *testClient) recvGame() counterMsg {
	c.t.Helper()
	env := c.recv()
	require.True(c.t, env.Payload.IsGame(), "expected game payload, got %T", env.Payload.System)
	var msg counterMsg
	require.NoError(c.t, json.Unmarshal(env.Payload.Game, &msg))
	return msg
}

func (c *testClient) handshake(token string) protocol.HandshakeAck {
	c.t.Helper()
	c.send(protocol.SystemPayload(protocol.Handshake{Version: protocol.ProtocolVersion, Token: token}))
	ack, ok := c.recvSystem().(*protocol.HandshakeAck)
	require.True(c.t, ok, "expected HandshakeAck")
	return *ack
}

func TestHandshakeHappyPath(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)
	c := dial(t, srv)

	c.send(protocol.SystemPayload(protocol.Handshake{Version: 1, Token: "42"}))
	env := c.recv()

	assert.Equal(t, uint64(1), env.Seq)
	ack, ok := env.Payload.System.(*protocol.HandshakeAck)
	require.True(t, ok)
	assert.Equal(t, protocol.PlayerID(42), ack.PlayerID)
	assert.Equal(t, 1, srv.sessions.Len())
}

func TestHandshakeVersionMismatch(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)
	c := dial(t, srv)

	c.send(protocol.SystemPayload(protocol.Handshake{Version: 999, Token: "1"}))
	errMsg, ok := c.recvSystem().(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeBadRequest, errMsg.Code)
	assert.Contains(t, errMsg.Message, "version mismatch")

	// The error frame is delivered first, then the server closes.
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := wsutil.ReadServerData(c.conn)
	assert.Error(t, err)
}

func TestHandshakeAuthFailure(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)
	c := dial(t, srv)

	c.send(protocol.SystemPayload(protocol.Handshake{Version: 1, Token: "not-a-number"}))
	errMsg, ok := c.recvSystem().(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeUnauthorized, errMsg.Code)
}

func TestHandshakeFirstMessageMustBeHandshake(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)
	c := dial(t, srv)

	c.send(protocol.SystemPayload(protocol.Heartbeat{ClientTime: 1}))
	errMsg, ok := c.recvSystem().(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeBadRequest, errMsg.Code)
}

func TestDuplicateConnectRejected(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)

	c1 := dial(t, srv)
	c1.handshake("7")

	c2 := dial(t, srv)
	c2.send(protocol.SystemPayload(protocol.Handshake{Version: 1, Token: "7"}))
	errMsg, ok := c2.recvSystem().(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeConflict, errMsg.Code)
}

func TestHeartbeat(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)
	c := dial(t, srv)
	c.handshake("1")

	c.send(protocol.SystemPayload(protocol.Heartbeat{ClientTime: 12345}))
	ack, ok := c.recvSystem().(*protocol.HeartbeatAck)
	require.True(t, ok)
	assert.Equal(t, uint64(12345), ack.ClientTime)
}

func TestJoinOrCreateAutoStart(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)

	c1 := dial(t, srv)
	c1.handshake("1")
	c1.send(protocol.SystemPayload(protocol.JoinOrCreate{Name: "counter"}))
	joined1, ok := c1.recvSystem().(*protocol.RoomJoined)
	require.True(t, ok)
	assert.Len(t, joined1.SessionID, 32)

	c2 := dial(t, srv)
	c2.handshake("2")
	c2.send(protocol.SystemPayload(protocol.JoinOrCreate{Name: "counter"}))
	joined2, ok := c2.recvSystem().(*protocol.RoomJoined)
	require.True(t, ok)
	assert.Equal(t, joined1.RoomID, joined2.RoomID)

	// Reaching min_players starts the game and snapshots it to everyone.
	for _, c := range []*testClient{c1, c2} {
		state, ok := c.recvSystem().(*protocol.RoomState)
		require.True(t, ok, "expected RoomState snapshot")
		var snap counterMsg
		require.NoError(t, json.Unmarshal(state.Data, &snap))
		assert.Equal(t, "state", snap.Op)
	}

	info, err := srv.rooms.RoomInfo(context.Background(), joined1.RoomID)
	require.NoError(t, err)
	assert.Equal(t, room.StateInProgress, info.State)
}

func TestGameBroadcast(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)

	c1 := dial(t, srv)
	c1.handshake("1")
	c1.send(protocol.SystemPayload(protocol.JoinOrCreate{}))
	c1.recvSystem() // RoomJoined

	c2 := dial(t, srv)
	c2.handshake("2")
	c2.send(protocol.SystemPayload(protocol.JoinOrCreate{}))
	c2.recvSystem() // RoomJoined
	c1.recvSystem() // RoomState
	c2.recvSystem() // RoomState

	c1.sendGame(counterMsg{Op: "count", N: 5})

	for _, c := range []*testClient{c1, c2} {
		msg := c.recvGame()
		assert.Equal(t, "counted", msg.Op)
		assert.Equal(t, 5, msg.N)
	}
}

func TestGameMessageOutsideRoomRejected(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)

	c := dial(t, srv)
	c.handshake("1")

	c.sendGame(counterMsg{Op: "count", N: 1})
	errMsg, ok := c.recvSystem().(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeBadRequest, errMsg.Code)
}

func TestJoinConflicts(t *testing.T) {
	srv := startServer(t, counterLogic{min: 3, max: 4}, nil)

	c := dial(t, srv)
	c.handshake("1")
	c.send(protocol.SystemPayload(protocol.JoinOrCreate{}))
	joined, ok := c.recvSystem().(*protocol.RoomJoined)
	require.True(t, ok)

	// Joining the room you are already in, and joining a different
	// room while in one, both conflict.
	c.send(protocol.SystemPayload(protocol.JoinRoom{RoomID: joined.RoomID}))
	errMsg, ok := c.recvSystem().(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeConflict, errMsg.Code)

	c.send(protocol.SystemPayload(protocol.JoinRoom{RoomID: joined.RoomID + 1}))
	errMsg, ok = c.recvSystem().(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeConflict, errMsg.Code)
}

func TestJoinRoomNotFound(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)
	c := dial(t, srv)
	c.handshake("1")

	c.send(protocol.SystemPayload(protocol.JoinRoom{RoomID: 99}))
	errMsg, ok := c.recvSystem().(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeNotFound, errMsg.Code)
}

func TestListRooms(t *testing.T) {
	srv := startServer(t, counterLogic{min: 3, max: 4}, nil)

	c1 := dial(t, srv)
	c1.handshake("1")
	c1.send(protocol.SystemPayload(protocol.JoinOrCreate{}))
	c1.recvSystem() // RoomJoined

	c2 := dial(t, srv)
	c2.handshake("2")
	c2.send(protocol.SystemPayload(protocol.ListRooms{}))
	list, ok := c2.recvSystem().(*protocol.RoomList)
	require.True(t, ok)
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, 1, list.Rooms[0].PlayerCount)
	assert.Equal(t, 4, list.Rooms[0].MaxPlayers)
}

func TestDisconnectStartsGrace(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)

	c := dial(t, srv)
	c.handshake("9")
	c.send(protocol.SystemPayload(protocol.Disconnect{Reason: "bye"}))

	require.Eventually(t, func() bool {
		s, ok := srv.sessions.Get(9)
		return ok && s.State == session.StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMaxConnectionsRejected(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, func(cfg *Config) {
		cfg.MaxConnections = 1
	})

	c := dial(t, srv)
	c.handshake("1")

	_, _, _, err := ws.Dial(context.Background(), "ws://"+srv.Addr()+"/ws")
	assert.Error(t, err)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv := startServer(t, counterLogic{min: 2, max: 4}, nil)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp2, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	metrics, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(metrics), "arcforge_"))
}
