// Package arcforge is a server-authoritative realtime multiplayer
// backend. It accepts WebSocket connections, authenticates players into
// sessions, places them into rooms running isolated game instances, and
// relays game traffic between clients and their room. Game rules plug
// in through room.Logic; everything else is framework.
package arcforge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcforge/arcforge/internal/events"
	"github.com/arcforge/arcforge/internal/monitoring"
	"github.com/arcforge/arcforge/protocol"
	"github.com/arcforge/arcforge/room"
	"github.com/arcforge/arcforge/session"
	"github.com/arcforge/arcforge/transport"
)

// Server wires the subsystems together and runs the accept loop.
type Server struct {
	cfg   *Config
	log   zerolog.Logger
	codec protocol.Codec

	auth     session.Authenticator
	sessions *session.Manager
	rooms    *room.Manager
	events   *events.Publisher
	guard    *monitoring.CPUGuard

	httpServer *http.Server
	listener   net.Listener
	connCount  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Server beyond its Config.
type Option func(*Server)

// WithCodec replaces the default JSON codec.
func WithCodec(c protocol.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithAuthenticator replaces the authenticator chosen from Config.
func WithAuthenticator(a session.Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// NewServer builds a server hosting one game type.
func NewServer(cfg *Config, logic room.Logic, log zerolog.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		log:    log,
		codec:  protocol.JSONCodec{},
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.JWTSecret != "" {
		s.auth = session.NewJWTAuthenticator([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	} else {
		s.auth = session.DevAuthenticator{}
		log.Warn().Msg("no JWT secret configured, using dev authenticator")
	}

	for _, opt := range opts {
		opt(s)
	}

	s.sessions = session.NewManager(session.Config{ReconnectGrace: cfg.ReconnectGrace}, log)
	s.rooms = room.NewManager(logic, s.codec, cfg.RoomInboxSize, log)
	s.guard = monitoring.NewCPUGuard(ctx, cfg.CPURejectThreshold, log)

	pub, err := events.Connect(cfg.NATSURL, log)
	if err != nil {
		cancel()
		return nil, err
	}
	s.events = pub

	upgrader := transport.NewUpgrader(s.handleConnection, log)
	upgrader.Admit = s.admit

	mux := http.NewServeMux()
	mux.Handle("/ws", upgrader)
	mux.Handle("/metrics", monitoring.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// Start binds the listen address and begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer monitoring.RecoverPanic(s.log, "http_serve")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server stopped")
		}
	}()

	s.wg.Add(1)
	go s.sweep()

	return nil
}

// Addr returns the bound listen address. Only valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections, shuts every room down, and
// drains the event publisher.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down")
	s.cancel()

	err := s.httpServer.Shutdown(ctx)
	s.rooms.Close(ctx)
	s.events.Close()
	s.wg.Wait()

	s.log.Info().Msg("shutdown complete")
	return err
}

// admit decides whether a new upgrade is accepted, before any protocol
// work happens.
func (s *Server) admit() bool {
	if s.connCount.Load() >= int64(s.cfg.MaxConnections) {
		monitoring.AdmissionRejected("max_connections")
		return false
	}
	if !s.guard.Allow() {
		monitoring.AdmissionRejected("cpu")
		return false
	}
	return true
}

// sweep periodically expires stale sessions, evicts the expired players
// from their rooms, and destroys finished rooms nobody is in. The
// two-phase session expiry exists exactly for this: react to the
// expirations, then free the records.
func (s *Server) sweep() {
	defer s.wg.Done()
	defer monitoring.RecoverPanic(s.log, "session_sweeper")

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Server) sweepOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SweepInterval)
	defer cancel()

	expired := s.sessions.ExpireStale()
	for _, p := range expired {
		if err := s.rooms.LeaveRoom(ctx, p); err != nil && !errors.Is(err, room.ErrInvalidState) {
			s.log.Debug().Stringer("player_id", p).Err(err).Msg("evicting expired player failed")
		}
		s.events.Publish(events.SubjectSessionExpired, events.Event{PlayerID: p})
	}
	if len(expired) > 0 {
		monitoring.SessionsExpired(len(expired))
	}
	s.sessions.CleanupExpired()

	for _, info := range s.rooms.Infos(ctx) {
		if info.State == room.StateFinished && info.PlayerCount == 0 {
			if err := s.rooms.DestroyRoom(ctx, info.RoomID); err == nil {
				s.events.Publish(events.SubjectRoomDestroyed, events.Event{RoomID: info.RoomID})
			}
		}
	}

	monitoring.SetSessionsActive(s.sessions.Len())
	monitoring.SetRoomsActive(s.rooms.RoomCount())
}
