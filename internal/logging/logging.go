// ABOUTME: Zerolog logger construction for the capture CLI
// ABOUTME: Console output with optional file mirroring and level selection
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console logger at the given level, mirroring to logFile when
// one is named. Unknown levels fall back to info.
func New(level string, logFile string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	var w zerolog.LevelWriter
	if logFile != "" {
		f, ferr := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if ferr == nil {
			w = zerolog.MultiLevelWriter(console, f)
		}
	}
	if w == nil {
		w = zerolog.MultiLevelWriter(console)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
