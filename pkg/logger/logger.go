// Package logger is the supervision substrate's zerolog front door: one
// process-wide logger every component shares, plus child-logger helpers
// tagged with the substrate's own vocabulary (agents, components). It is
// usable before Init — the default logger writes JSON to stderr at info —
// so early spawn/locator paths never race configuration loading.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the process-wide logger.
type Options struct {
	Level  string // debug, info, warn, error; unknown values fall back to info
	Format string // "console" for human-readable stderr output, anything else for JSON
	File   string // optional path appended to in addition to stderr
}

var (
	mu      sync.RWMutex
	root    = zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	logFile *os.File
)

// Init replaces the process-wide logger according to opts. Safe to call
// again (e.g. after a config reload); the previous file sink, if any, is
// closed.
func Init(opts Options) error {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	var f *os.File
	if opts.File != "" {
		f, err = os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("logger: open log file %s: %w", opts.File, err)
		}
		out = io.MultiWriter(out, f)
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	root = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return nil
}

// Close closes the file sink if one was configured. The stderr logger
// keeps working.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// Get returns the current process-wide logger.
func Get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := root
	return &l
}

// ForAgent returns a child logger tagged with the agent's id, for the
// per-agent goroutines (PTY pumps, structured-session consumers, lifecycle
// timers) so one agent's lines can be filtered out of the interleaved
// stream.
func ForAgent(agentID string) zerolog.Logger {
	return Get().With().Str("agent_id", agentID).Logger()
}

// WithComponent returns a child logger tagged with a subsystem name
// ("hookserver", "adapter:claude", ...).
func WithComponent(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}

// Debug returns a debug level event on the process-wide logger.
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info returns an info level event.
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn returns a warn level event.
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error returns an error level event.
func Error() *zerolog.Event {
	return Get().Error()
}
