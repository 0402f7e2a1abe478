package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
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

// Logger is a leveled wrapper around log.Logger. Trailing arguments are
// rendered as key=value pairs.
type Logger struct {
	*log.Logger
	level Level
	file  *os.File
}

// NewLogger creates a Logger writing to stderr.
func NewLogger(level string) *Logger {
	return New(os.Stderr, ParseLevel(level))
}

// New creates a Logger writing to w.
func New(w io.Writer, level Level) *Logger {
	return &Logger{Logger: log.New(w, "", log.LstdFlags), level: level}
}

// Open creates a Logger that appends to path as well as stderr.
func Open(path, level string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l := New(io.MultiWriter(os.Stderr, f), ParseLevel(level))
	l.file = f
	return l, nil
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LevelError+1)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) Debug(msg string, kv ...any) { l.emit(LevelDebug, "DEBUG", msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.emit(LevelInfo, "INFO", msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.emit(LevelWarn, "WARN", msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.emit(LevelError, "ERROR", msg, kv) }

func (l *Logger) emit(level Level, tag, msg string, kv []any) {
	if l == nil || level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(": ")
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, "%v", kv[i])
		}
	}
	l.Print(b.String())
}
