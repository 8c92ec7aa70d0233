// Package logging bootstraps the zerolog logger the engine and CLI share.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a structured logger writing to w. PRETTY=1 switches to the
// console writer, DEBUG=1 lowers the level.
func New(w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if w == nil {
		w = os.Stderr
	}
	if os.Getenv("PRETTY") == "1" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	level := zerolog.InfoLevel
	if os.Getenv("DEBUG") == "1" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Nop returns a disabled logger for tests and embedded use.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
