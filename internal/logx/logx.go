// Package logx builds the zerolog loggers used across the module.
package logx

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New returns a logger writing to w. format is "console" (human readable) or
// "json"; anything else falls back to console.
func New(level, format string, w io.Writer) zerolog.Logger {
	if strings.EqualFold(format, "json") {
		return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	return zerolog.New(cw).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel converts a level name to a zerolog level. Unknown or empty
// names mean info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
