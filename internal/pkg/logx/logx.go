/*
Package logx configures the process-wide zerolog logger.

The server runs in a terminal during development and under a service manager
in production: Init picks pretty console output when stderr is a terminal and
plain JSON otherwise, so piped output stays machine-readable without a
configuration switch. Subsystems log through Component children.
*/
package logx

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. Debug mode lowers the level threshold
// so idle-sweep and connection-close details show up during development runs.
func Init(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger
	if isatty.IsTerminal(os.Stderr.Fd()) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	log.Logger = logger.Level(level).With().Timestamp().Logger()
}

// Logger returns the global logger.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child logger tagged with a subsystem name. Every
// long-lived part of the server (engine, idle detector, sessions, http)
// logs through one of these.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
