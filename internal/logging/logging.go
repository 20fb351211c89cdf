// Package logging builds the process-wide zerolog logger. Components receive
// a child logger rather than importing a global.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger on stderr at the given level. An unknown level
// falls back to info instead of failing startup.
func New(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	return zerolog.New(os.Stderr).
		Level(parsed).
		With().
		Timestamp().
		Str("service", "nodegate").
		Logger()
}
