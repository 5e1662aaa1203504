// Package logging wraps zerolog behind the small printf-style interface the
// rest of the codebase logs through.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config controls the logger constructed by NewLogger.
type Config struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn or error; defaults to info
	Format string `json:"format,omitempty"` // json (default) or console
}

type Logger struct {
	log zerolog.Logger
}

func NewLogger(c Config) *Logger {
	return NewLoggerWithOutput(c, os.Stderr)
}

func NewLoggerWithOutput(c Config, w io.Writer) *Logger {
	if strings.EqualFold(c.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return &Logger{log: zerolog.New(w).Level(ParseLevel(c.Level)).With().Timestamp().Logger()}
}

// NopLogger returns a logger that discards everything. Used as the default
// in components constructed without WithLogger.
func NopLogger() *Logger {
	return &Logger{log: zerolog.Nop()}
}

// ParseLevel maps a config level string to a zerolog level, defaulting to
// info on unknown input.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// WithComponent returns a child logger tagged with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{log: l.log.With().Str("component", name).Logger()}
}

// Zerolog exposes the underlying logger for adapters that speak zerolog
// directly (e.g. the SQL statement logger).
func (l *Logger) Zerolog() zerolog.Logger {
	return l.log
}

func (l *Logger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
