package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"strings"
	"sync"
)

// Logger defines a minimal, printf-style logging contract.
//
// Components depend on this interface instead of a concrete logger so tests
// can swap in a nop or capturing implementation.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level controls the minimum severity emitted by the standard logger.
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

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type stdLogger struct {
	mu        sync.Mutex
	out       *log.Logger
	level     Level
	component string
}

// New returns a logger writing to w at the given level.
func New(w io.Writer, level Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &stdLogger{
		out:   log.New(w, "", log.LstdFlags),
		level: level,
	}
}

// NewComponentLogger returns a stderr logger scoped to a component name.
func NewComponentLogger(component string, level Level) Logger {
	return &stdLogger{
		out:       log.New(os.Stderr, "", log.LstdFlags),
		level:     level,
		component: component,
	}
}

func (l *stdLogger) emit(level Level, tag string, format string, args ...any) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.component != "" {
		l.out.Printf("%s [%s] %s", tag, l.component, msg)
		return
	}
	l.out.Printf("%s %s", tag, msg)
}

func (l *stdLogger) Debug(format string, args ...any) { l.emit(LevelDebug, "DEBUG", format, args...) }
func (l *stdLogger) Info(format string, args ...any)  { l.emit(LevelInfo, "INFO", format, args...) }
func (l *stdLogger) Warn(format string, args ...any)  { l.emit(LevelWarn, "WARN", format, args...) }
func (l *stdLogger) Error(format string, args ...any) { l.emit(LevelError, "ERROR", format, args...) }
