package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer appends pipeline events to daily rotated JSONL files. It doubles as
// a Sink so it can be chained behind the caller's own sink.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// NewWriter creates an event log writer rooted at logDir.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	w := &Writer{logDir: logDir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log file: %w", err)
	}
	return w, nil
}

// Emit implements Sink. Write failures are swallowed: the event log is
// observability, not a pipeline dependency.
func (w *Writer) Emit(ev Event) {
	_ = w.Write(ev)
}

// Write appends one event as a JSON line.
func (w *Writer) Write(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate event log: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the current log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

// rotateIfNeeded opens a new log file when the date changes. Caller holds the lock.
func (w *Writer) rotateIfNeeded() error {
	date := time.Now().UTC().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}
	if w.currentFile != nil {
		_ = w.currentFile.Close()
	}
	path := filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", date))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}
