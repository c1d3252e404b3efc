package corebank

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger returns a console-writer zerolog.Logger for local/demo use.
// NewEngine and NewEngineForTest build their event bus with it and take
// no logger parameter; a different logger can only be passed to
// NewDomainEventBus or NewScheduler directly.
func NewLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}
