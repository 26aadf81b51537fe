package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcforge/arcforge/protocol"
)

// Manager is the session registry: every connected or recently
// disconnected player, keyed by id, with a token index for reconnects.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[protocol.PlayerID]*Session
	tokens   map[string]protocol.PlayerID
	cfg      Config
	log      zerolog.Logger
}

// NewManager creates an empty registry.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[protocol.PlayerID]*Session),
		tokens:   make(map[string]protocol.PlayerID),
		cfg:      cfg,
		log:      log.With().Str("component", "sessions").Logger(),
	}
}

// Create registers a session for a freshly authenticated player and
// returns a copy of it. A Disconnected or Expired session for the same
// player is replaced and its old token invalidated; a Connected one is
// an ErrAlreadyConnected conflict.
func (m *Manager) Create(playerID protocol.PlayerID) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[playerID]; ok {
		if existing.State == StateConnected {
			return Session{}, fmt.Errorf("%w: %s", ErrAlreadyConnected, playerID)
		}
		delete(m.tokens, existing.ReconnectToken)
	}

	token, err := generateToken()
	if err != nil {
		return Session{}, err
	}

	s := &Session{
		PlayerID:       playerID,
		State:          StateConnected,
		ReconnectToken: token,
	}
	m.sessions[playerID] = s
	m.tokens[token] = playerID

	m.log.Info().Stringer("player_id", playerID).Msg("session created")
	return *s, nil
}

// Disconnect marks the player's session as disconnected and starts the
// grace window. The session and its token survive until expiry.
func (m *Manager) Disconnect(playerID protocol.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[playerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, playerID)
	}
	s.State = StateDisconnected
	s.DisconnectedAt = time.Now()

	m.log.Info().Stringer("player_id", playerID).Msg("player disconnected, grace period started")
	return nil
}

// Reconnect resumes a disconnected session identified by its token.
// A token whose grace window has elapsed expires the session and fails;
// a token for a still-connected session is a conflict.
func (m *Manager) Reconnect(token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	playerID, ok := m.tokens[token]
	if !ok {
		return Session{}, ErrInvalidToken
	}
	s, ok := m.sessions[playerID]
	if !ok {
		return Session{}, ErrInvalidToken
	}

	switch s.State {
	case StateDisconnected:
		if m.graceElapsed(s.DisconnectedAt) {
			s.State = StateExpired
			return Session{}, fmt.Errorf("%w: %s", ErrExpired, playerID)
		}
		s.State = StateConnected
		s.DisconnectedAt = time.Time{}
		m.log.Info().Stringer("player_id", playerID).Msg("player reconnected")
		return *s, nil
	case StateConnected:
		return Session{}, fmt.Errorf("%w: %s", ErrAlreadyConnected, playerID)
	default:
		return Session{}, fmt.Errorf("%w: %s", ErrExpired, playerID)
	}
}

// ExpireStale transitions every disconnected session past its grace
// window to Expired and returns the affected player ids. Call
// periodically; follow with CleanupExpired once callers have reacted
// (evicted the players from rooms, published events).
func (m *Manager) ExpireStale() []protocol.PlayerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []protocol.PlayerID
	for id, s := range m.sessions {
		if s.State == StateDisconnected && m.graceElapsed(s.DisconnectedAt) {
			s.State = StateExpired
			expired = append(expired, id)
			m.log.Info().Stringer("player_id", id).Msg("session expired, grace period elapsed")
		}
	}
	return expired
}

// CleanupExpired removes every Expired session and invalidates its
// reconnect token.
func (m *Manager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if s.State == StateExpired {
			delete(m.tokens, s.ReconnectToken)
			delete(m.sessions, id)
		}
	}
}

// Get returns a copy of the player's session, if any.
func (m *Manager) Get(playerID protocol.PlayerID) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[playerID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Len returns the number of sessions in any state.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) graceElapsed(since time.Time) bool {
	if m.cfg.ReconnectGrace <= 0 {
		return true
	}
	return time.Since(since) > m.cfg.ReconnectGrace
}

func generateToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("session: token generation: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
