// Package logx provides structured logging with env-controlled debug domains.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger writes leveled, component-tagged log lines to stderr.
type Logger struct {
	component string
	logger    *log.Logger
}

// Level is a log severity.
type Level string

// Log levels.
const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is one captured log line, kept in the in-memory buffer for
// post-run inspection.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

type ringBuffer struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
}

//nolint:gochecknoglobals // Package-level debug switches, set once from env.
var (
	debugMu      sync.RWMutex
	debugEnabled bool
	debugDomains map[string]bool // nil = all domains

	buffer = &ringBuffer{maxSize: 1000}
)

//nolint:gochecknoinits // Env var initialization.
func init() {
	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugEnabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugDomains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugDomains[strings.TrimSpace(d)] = true
		}
	}
}

// SetDebug enables or disables debug logging for the given domains
// (empty = all domains).
func SetDebug(enabled bool, domains ...string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugEnabled = enabled
	if len(domains) == 0 {
		debugDomains = nil
		return
	}
	debugDomains = make(map[string]bool)
	for _, d := range domains {
		debugDomains[strings.TrimSpace(d)] = true
	}
}

// DebugEnabledFor reports whether debug logging is on for a component.
func DebugEnabledFor(component string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	if !debugEnabled {
		return false
	}
	if debugDomains == nil {
		return true
	}
	return debugDomains[component]
}

// NewLogger creates a logger tagged with a component name, e.g. "router"
// or "coder".
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // stderr keeps stdout clean for results
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)

	buffer.add(Entry{
		Timestamp: timestamp,
		Component: l.component,
		Level:     string(level),
		Message:   message,
	})
}

// Debug logs at debug level, subject to the DEBUG/DEBUG_DOMAINS switches.
func (l *Logger) Debug(format string, args ...any) {
	if !DebugEnabledFor(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Error logs at error level.
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func (b *ringBuffer) add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// RecentEntries returns captured log entries, optionally filtered by component.
func RecentEntries(component string) []Entry {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	out := make([]Entry, 0, len(buffer.entries))
	for _, e := range buffer.entries {
		if component != "" && !strings.EqualFold(e.Component, component) {
			continue
		}
		out = append(out, e)
	}
	return out
}

//nolint:gochecknoglobals // Default logger for package-level helpers.
var defaultLogger = NewLogger("system")

// Infof logs at info level on the default logger.
func Infof(format string, args ...any) { defaultLogger.Info(format, args...) }

// Warnf logs at warn level on the default logger.
func Warnf(format string, args ...any) { defaultLogger.Warn(format, args...) }

// Errorf logs and returns the formatted error. Use when a failure must be
// both reported and propagated:
//
//	return logx.Errorf("load config: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err and returns the wrapped error.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
