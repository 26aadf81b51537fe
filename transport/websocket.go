// Package transport accepts WebSocket connections and exposes them as
// framed byte streams. It knows nothing about envelopes or sessions;
// the connection handler layers the protocol on top.
package transport

import (
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/arcforge/arcforge/protocol"
)

// Conn is one accepted WebSocket connection. Recv and Send are safe to
// call from different goroutines (one reader, one writer), matching the
// read-pump/write-pump split the handler uses.
type Conn struct {
	id  protocol.ConnID
	raw net.Conn
}

// NewConn wraps an upgraded connection. Exposed for tests that drive a
// Conn over an in-memory pipe.
func NewConn(id protocol.ConnID, raw net.Conn) *Conn {
	return &Conn{id: id, raw: raw}
}

// ID returns the connection's unique id.
func (c *Conn) ID() protocol.ConnID { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Recv reads the next data frame, answering control frames (ping,
// close) along the way. Text frames are treated the same as binary. A
// positive timeout bounds the wait; exceeding it returns a net.Error
// with Timeout() true.
func (c *Conn) Recv(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	data, _, err := wsutil.ReadClientData(c.raw)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Send writes one binary frame.
func (c *Conn) Send(data []byte) error {
	if err := c.raw.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return wsutil.WriteServerBinary(c.raw, data)
}

// Close sends a normal-closure frame on a best-effort basis and tears
// the connection down.
func (c *Conn) Close() error {
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	_ = c.raw.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteFrame(c.raw, frame)
	return c.raw.Close()
}

// IsTimeout reports whether the error is a read deadline expiry rather
// than a broken connection.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// Upgrader turns HTTP requests on the WebSocket endpoint into Conns and
// hands each one to the accept callback on its own goroutine.
type Upgrader struct {
	nextID atomic.Uint64
	accept func(*Conn)
	log    zerolog.Logger

	// Admit, when set, runs before the upgrade; returning false
	// rejects the request with 503. Used for load shedding.
	Admit func() bool
}

// NewUpgrader builds an upgrader calling accept for every connection.
func NewUpgrader(accept func(*Conn), log zerolog.Logger) *Upgrader {
	return &Upgrader{accept: accept, log: log}
}

func (u *Upgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if u.Admit != nil && !u.Admit() {
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
		return
	}

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		u.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := NewConn(protocol.ConnID(u.nextID.Add(1)), raw)
	u.log.Debug().Stringer("conn_id", conn.ID()).Str("remote", r.RemoteAddr).Msg("connection accepted")
	go u.accept(conn)
}
