// Package observability provides logger construction for the CLI.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the pipeline logger. Verbose mode lowers the level to
// debug; output goes to stderr as human-readable console lines so stdout stays
// free for command output.
func NewLogger(verbose bool) zerolog.Logger {
	return NewLoggerTo(os.Stderr, verbose)
}

// NewLoggerTo builds a logger writing to the given writer.
func NewLoggerTo(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}
