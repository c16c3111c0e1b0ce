// Package logging provides a minimal, printf-style logging contract shared
// across the engine. Components obtain a scoped logger with
// NewComponentLogger; hosts that embed the engine silently can inject Nop().
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger defines the minimal printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
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

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

var (
	rootInstance *fileLogger
	rootOnce     sync.Once
)

// fileLogger writes level-gated, timestamped lines to marginalia-debug.log in
// the user's home directory and echoes them to stdout.
type fileLogger struct {
	mu        sync.Mutex
	out       *log.Logger
	level     Level
	component string
}

func root() *fileLogger {
	rootOnce.Do(func() {
		rootInstance = &fileLogger{level: LevelDebug}

		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		path := filepath.Join(home, "marginalia-debug.log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		rootInstance.out = log.New(file, "", 0)
	})
	return rootInstance
}

// NewComponentLogger returns the default application logger scoped to a
// component name that appears in every line it emits.
func NewComponentLogger(component string) Logger {
	r := root()
	return &fileLogger{out: r.out, level: r.level, component: component}
}

// SetLevel adjusts the minimum level used by loggers created after the call.
func SetLevel(level Level) {
	r := root()
	r.mu.Lock()
	r.level = level
	r.mu.Unlock()
}

func (l *fileLogger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}

	component := l.component
	if component == "" {
		component = "marginalia"
	}

	line := fmt.Sprintf("%s [%s] [%s] %s",
		time.Now().Format("2006-01-02 15:04:05"),
		level, component, fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil {
		l.out.Println(line)
	}
	fmt.Println(line)
}

func (l *fileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *fileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *fileLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *fileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
