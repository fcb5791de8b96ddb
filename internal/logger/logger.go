// Package logger writes level-gated, fixed-column log lines for the gateway.
//
// Each entry is a single line:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION                 | LEVEL | [request] message
//
// The request column is present only on loggers derived with WithRequest.
// Callers must never pass raw patient text as a message; log counts, token
// names and identifiers instead.
//
// Usage:
//
//	log := logger.New("gateway", cfg.LogLevel)
//	reqLog := log.WithRequest(requestID)
//	reqLog.Infof("scrub_done", "messages=%d redactions=%d", n, total)
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level represents a log severity.
type Level int32

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelLabels = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO ",
	LevelWarn:  "WARN ",
	LevelError: "ERROR",
}

// Logger writes structured lines for one module. Loggers derived with
// WithRequest share the parent's level and output.
type Logger struct {
	module  string
	request string
	level   *atomic.Int32
	out     *log.Logger
}

// New creates a Logger writing to stderr for the given module.
// Unrecognized level strings default to "info".
func New(module, level string) *Logger {
	return NewWithWriter(module, level, os.Stderr)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(module, level string, w io.Writer) *Logger {
	l := &Logger{
		module: strings.ToUpper(module),
		level:  new(atomic.Int32),
		out:    log.New(w, "", 0),
	}
	l.level.Store(int32(ParseLevel(level)))
	return l
}

// Discard returns a Logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewWithWriter("discard", "error", io.Discard)
}

// WithRequest returns a child logger that tags every line with the request ID.
func (l *Logger) WithRequest(requestID string) *Logger {
	child := *l
	child.request = requestID
	return &child
}

// Module returns a logger for a different module sharing level and output.
func (l *Logger) Module(module string) *Logger {
	child := *l
	child.module = strings.ToUpper(module)
	return &child
}

// SetLevel changes the minimum level at runtime for this logger and every
// logger derived from it.
func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(ParseLevel(level)))
}

// Enabled reports whether lines at lvl would be written.
func (l *Logger) Enabled(lvl Level) bool {
	return lvl >= Level(l.level.Load())
}

func (l *Logger) Debug(action, msg string) { l.emit(LevelDebug, action, msg) }
func (l *Logger) Info(action, msg string)  { l.emit(LevelInfo, action, msg) }
func (l *Logger) Warn(action, msg string)  { l.emit(LevelWarn, action, msg) }
func (l *Logger) Error(action, msg string) { l.emit(LevelError, action, msg) }

func (l *Logger) Debugf(action, format string, args ...any) {
	if l.Enabled(LevelDebug) {
		l.emit(LevelDebug, action, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Infof(action, format string, args ...any) {
	l.emit(LevelInfo, action, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(action, format string, args ...any) {
	l.emit(LevelWarn, action, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(action, format string, args ...any) {
	l.emit(LevelError, action, fmt.Sprintf(format, args...))
}

// Fatalf logs at ERROR level and exits the process.
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.emit(LevelError, action, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (l *Logger) emit(lvl Level, action, msg string) {
	if !l.Enabled(lvl) {
		return
	}
	if l.request != "" {
		msg = "[" + l.request + "] " + msg
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("%s | %-12s | %-22s | %s | %s", ts, l.module, action, levelLabels[lvl], msg)
}

// ParseLevel converts a level name to a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
