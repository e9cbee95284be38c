// Package log initializes structured logging for the adapter.
//
// In stdio mode the DAP stream owns stdout, so everything here writes to
// stderr or to a log file.
package log

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var root = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures the process-wide logger to write to w at the given level.
// Unknown level strings fall back to info.
func Init(w io.Writer, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	root = zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// New returns a logger tagged with the given component name.
func New(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}

// OpenFile opens (creating if needed) the adapter log file under the user's
// home directory, e.g. ~/.dapbridge/dapbridge.log.
func OpenFile() (*os.File, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	configDir := filepath.Join(homeDir, ".dapbridge")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(configDir, "dapbridge.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
