// Package events publishes room and session lifecycle events to NATS
// so lobby services, matchmakers, and analytics can observe the server
// without being in the hot path. The publisher is optional: a nil
// *Publisher is valid and drops everything.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/arcforge/arcforge/protocol"
)

// Subjects for published events.
const (
	SubjectRoomCreated    = "arcforge.room.created"
	SubjectRoomDestroyed  = "arcforge.room.destroyed"
	SubjectPlayerJoined   = "arcforge.player.joined"
	SubjectPlayerLeft     = "arcforge.player.left"
	SubjectSessionExpired = "arcforge.session.expired"
)

// Event is the envelope published on every subject.
type Event struct {
	RoomID    protocol.RoomID   `json:"room_id,omitempty"`
	PlayerID  protocol.PlayerID `json:"player_id,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Publisher wraps a NATS connection. All publishes are fire-and-forget.
type Publisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Connect dials NATS with reconnect handling. An empty URL returns a
// nil publisher, which every method accepts.
func Connect(url string, log zerolog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	log = log.With().Str("component", "events").Logger()

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect: %w", err)
	}
	log.Info().Str("url", conn.ConnectedUrl()).Msg("nats connected")
	return &Publisher{conn: conn, log: log}, nil
}

// Publish emits one event. Failures are logged, never propagated; the
// game server must not stall on the event bus.
func (p *Publisher) Publish(subject string, ev Event) {
	if p == nil {
		return
	}
	ev.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("subject", subject).Msg("event encode failed")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
