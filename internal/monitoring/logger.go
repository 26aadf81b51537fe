// Package monitoring holds the ambient observability pieces: the
// zerolog constructor, prometheus metrics, panic recovery, and the CPU
// admission guard.
package monitoring

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig selects the log level and output format.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error. Unknown values fall
	// back to info.
	Level string
	// Pretty switches from JSON lines to a human console writer.
	// JSON is the default, which log aggregators ingest directly.
	Pretty bool
}

// NewLogger builds the service-wide structured logger.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "arcforge").
		Logger()
}

// RecoverPanic logs a recovered panic with its stack and lets the
// process keep running. Use in the defer block of every goroutine that
// must not take the server down with it.
func RecoverPanic(log zerolog.Logger, goroutine string) {
	if r := recover(); r != nil {
		log.Error().
			Str("goroutine", goroutine).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Msg("goroutine panic recovered")
	}
}
