// Package obs provides the ambient logging and metrics stack shared by
// every other package: a zerolog-based structured logger (grounded on
// _examples/danmuck-edgectl/internal/observability/logger.go) and
// Prometheus counters/gauges for session lifecycle and forwarding
// activity (grounded on
// _examples/matst80-showoff/internal/obs/metrics.go).
package obs

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger for app and returns it
// for callers that want a scoped instance instead of the package-level
// log.Logger.
func InitLogger(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// SessionLogger returns a logger scoped to a single proxy session, so
// every line it emits carries the session ID without callers having to
// repeat it.
func SessionLogger(sessionID string) zerolog.Logger {
	return log.Logger.With().Str("session_id", sessionID).Logger()
}

// Logger returns the current global logger. Packages outside session/
// (which prefers the scoped SessionLogger) use this for one-off log
// lines that aren't tied to a particular session.
func Logger() *zerolog.Logger {
	return &log.Logger
}
