// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"os"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/config"
	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger configured for the given environment: pretty
// console output with debug verbosity in development, leveled JSON otherwise.
func New(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stderr
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(out).With().Timestamp().Logger()
}
