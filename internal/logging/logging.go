// Package logging configures zerolog for the console. The TUI owns stdout
// and stderr, so logs go to a file; an unwritable file degrades to a
// disabled logger rather than corrupting the display.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a logger writing to the given file at the given level.
func New(file, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = io.Discard
	if file != "" {
		if mkErr := os.MkdirAll(filepath.Dir(file), 0o700); mkErr == nil {
			if f, openErr := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); openErr == nil {
				w = f
			}
		}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Nop returns a disabled logger for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
