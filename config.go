package arcforge

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all server configuration. Values come from environment
// variables, with a .env file as a development convenience; env vars
// win over the file.
type Config struct {
	// Addr is the listen address for the WebSocket and HTTP endpoints.
	Addr string `env:"ARCFORGE_ADDR" envDefault:":4000"`

	// ReconnectGrace is how long a disconnected player may come back
	// with their session token.
	ReconnectGrace time.Duration `env:"ARCFORGE_RECONNECT_GRACE" envDefault:"30s"`

	// HandshakeTimeout bounds the wait for the client's first message.
	HandshakeTimeout time.Duration `env:"ARCFORGE_HANDSHAKE_TIMEOUT" envDefault:"5s"`

	// IdleTimeout closes connections with no inbound traffic. Clients
	// are expected to heartbeat well inside it.
	IdleTimeout time.Duration `env:"ARCFORGE_IDLE_TIMEOUT" envDefault:"15s"`

	// RoomInboxSize is the command channel capacity of each room actor.
	RoomInboxSize int `env:"ARCFORGE_ROOM_INBOX_SIZE" envDefault:"64"`

	// MaxConnections caps concurrent connections; beyond it new
	// upgrades are rejected with 503.
	MaxConnections int `env:"ARCFORGE_MAX_CONNECTIONS" envDefault:"1000"`

	// MessageRate and MessageBurst bound inbound frames per connection
	// per second. Frames over the limit are dropped, not fatal.
	MessageRate  float64 `env:"ARCFORGE_MESSAGE_RATE" envDefault:"60"`
	MessageBurst int     `env:"ARCFORGE_MESSAGE_BURST" envDefault:"120"`

	// CPURejectThreshold sheds new connections above this CPU
	// percentage. 0 disables the guard.
	CPURejectThreshold float64 `env:"ARCFORGE_CPU_REJECT_THRESHOLD" envDefault:"85"`

	// SweepInterval is how often stale sessions are expired and empty
	// finished rooms destroyed.
	SweepInterval time.Duration `env:"ARCFORGE_SWEEP_INTERVAL" envDefault:"5s"`

	// NATSURL enables lifecycle event publishing when non-empty.
	NATSURL string `env:"ARCFORGE_NATS_URL"`

	// JWTSecret switches authentication from the dev authenticator to
	// JWT when non-empty. JWTIssuer is checked when set.
	JWTSecret string `env:"ARCFORGE_JWT_SECRET"`
	JWTIssuer string `env:"ARCFORGE_JWT_ISSUER" envDefault:"arcforge"`

	// Logging.
	LogLevel  string `env:"ARCFORGE_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"ARCFORGE_LOG_PRETTY" envDefault:"false"`
}

// LoadConfig reads the .env file if present, then the environment, then
// validates. Priority: env vars > .env > defaults.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the defaults without touching the environment.
// Embedders can tweak the result and hand it to NewServer directly.
func DefaultConfig() *Config {
	return &Config{
		Addr:               ":4000",
		ReconnectGrace:     30 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		IdleTimeout:        15 * time.Second,
		RoomInboxSize:      64,
		MaxConnections:     1000,
		MessageRate:        60,
		MessageBurst:       120,
		CPURejectThreshold: 85,
		SweepInterval:      5 * time.Second,
		JWTIssuer:          "arcforge",
		LogLevel:           "info",
	}
}

// Validate checks the ranges the env parser cannot express.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ARCFORGE_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("ARCFORGE_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("ARCFORGE_HANDSHAKE_TIMEOUT must be positive, got %s", c.HandshakeTimeout)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("ARCFORGE_IDLE_TIMEOUT must be positive, got %s", c.IdleTimeout)
	}
	if c.MessageRate <= 0 {
		return fmt.Errorf("ARCFORGE_MESSAGE_RATE must be positive, got %.1f", c.MessageRate)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("ARCFORGE_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.ReconnectGrace < 0 {
		return fmt.Errorf("ARCFORGE_RECONNECT_GRACE must not be negative, got %s", c.ReconnectGrace)
	}
	return nil
}
