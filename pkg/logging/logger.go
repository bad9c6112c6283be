// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmengine.
//
// go-tpmengine is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package logging provides the slog-backed logger shared by every
// go-tpmengine component.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger and gates debug output behind a verbosity level
type Logger struct {
	logger *slog.Logger
	debug  bool
}

// NewLogger creates a new logger writing text records to stderr
func NewLogger(debug bool) *Logger {
	return NewLoggerWithWriter(os.Stderr, debug)
}

// NewLoggerWithWriter creates a new logger writing text records to w
func NewLoggerWithWriter(w io.Writer, debug bool) *Logger {
	return NewLoggerWithFormat(w, FormatText, debug)
}

// Record formats accepted by NewLoggerWithFormat
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLoggerWithFormat creates a new logger writing records to w in the
// given format. Unknown formats fall back to text.
func NewLoggerWithFormat(w io.Writer, format string, debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}
	var handler slog.Handler
	if strings.EqualFold(format, FormatJSON) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{
		logger: slog.New(handler),
		debug:  debug,
	}
}

// NewLoggerForLevel creates a stderr logger from a configured level name.
// Unknown names fall back to info.
func NewLoggerForLevel(level string) *Logger {
	return NewLogger(ParseLevel(level) <= slog.LevelDebug)
}

// ParseLevel maps a level name (debug, info, warn, error) to an slog level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that includes the given attributes on every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
		debug:  l.debug,
	}
}

// IsDebug reports whether debug records are emitted
func (l *Logger) IsDebug() bool {
	return l.debug
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Infof logs a formatted informational message
func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	if l.debug {
		l.logger.Debug(msg, args...)
	}
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...any) {
	if l.debug {
		l.logger.Debug(fmt.Sprintf(format, args...))
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error
func (l *Logger) Error(err error) {
	l.logger.Error(err.Error())
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// FatalError logs a fatal error and exits
func (l *Logger) FatalError(err error) {
	log.Fatal(err)
}

// MaybeError logs an error if it's not nil
func (l *Logger) MaybeError(err error) {
	if err != nil {
		l.logger.Error(err.Error())
	}
}

// DefaultLogger returns a default logger instance with debug=false
func DefaultLogger() *Logger {
	return NewLogger(false)
}

// NopLogger returns a logger that discards everything
func NopLogger() *Logger {
	return NewLoggerWithWriter(io.Discard, false)
}
