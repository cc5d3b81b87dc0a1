package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Actions recorded in the trail.
const (
	ActionOperatorMessage    = "operatorMessage"
	ActionDeviceRegistered   = "deviceRegistered"
	ActionDeviceRekeyed      = "deviceRekeyed"
	ActionDeviceReplaced     = "deviceReplaced"
	ActionDeviceDisconnected = "deviceDisconnected"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Actor     string         `json:"actor"`
	SystemID  string         `json:"systemId,omitempty"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
}

// Logger appends entries as JSON lines.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	w        io.Writer
	logger   *slog.Logger
	now      func() time.Time
	closed   bool
}

// NewLogger opens path for append-only writing. An empty path writes to stdout.
func NewLogger(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return NewWriterLogger(os.Stdout, logger), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		filePath: path,
		file:     file,
		w:        file,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// NewWriterLogger writes entries to w. Close does not close w.
func NewWriterLogger(w io.Writer, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{w: w, logger: logger, now: time.Now}
}

// OperatorMessage records a relayed operator message.
func (l *Logger) OperatorMessage(from, id, scope, systemID, text string, recipients int) {
	l.Log(Entry{
		Actor:    from,
		SystemID: systemID,
		Action:   ActionOperatorMessage,
		Params: map[string]any{
			"id":         id,
			"scope":      scope,
			"text":       text,
			"recipients": recipients,
		},
	})
}

// Device records a device lifecycle action. previous is the identifier the
// connection held before, if any.
func (l *Logger) Device(action, label, systemID, previous string) {
	var params map[string]any
	if previous != "" {
		params = map[string]any{"previous": previous}
	}
	l.Log(Entry{Actor: label, SystemID: systemID, Action: action, Params: params})
}

// Log writes e, stamping it when Timestamp is zero.
func (l *Logger) Log(e Entry) {
	if l == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.Actor == "" {
		e.Actor = "unknown"
	}
	l.writeEntry(e)
}

func (l *Logger) writeEntry(entry Entry) {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("failed to marshal audit entry", "action", entry.Action, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}
	if _, err := l.w.Write(append(jsonData, '\n')); err != nil {
		l.logger.Error("failed to write audit entry", "action", entry.Action, "error", err)
		return
	}
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			l.logger.Warn("failed to sync audit log", "error", err)
		}
	}
}

// Close closes the audit file, if one was opened.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.w = nil
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// GetFilePath returns the path to the audit log file, or "" for a writer.
func (l *Logger) GetFilePath() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// Rotate renames the current file with a timestamp suffix and reopens the
// original path. If the file has already been moved away the path is simply
// reopened. Until the new file is open, entries keep going to the old one.
// It is a no-op for writer-backed or closed loggers.
func (l *Logger) Rotate() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.filePath == "" || l.closed {
		return nil
	}

	newFilePath := fmt.Sprintf("%s.%s", l.filePath, l.now().Format("20060102-150405"))
	if err := os.Rename(l.filePath, newFilePath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to rename log file: %w", err)
		}
		l.logger.Warn("audit log file missing, reopening", "path", l.filePath)
	}

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			l.logger.Warn("failed to close rotated audit log", "error", err)
		}
	}
	l.file = file
	l.w = file
	return nil
}
