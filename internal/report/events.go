package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventPhase     EventType = "phase"
	EventCopy      EventType = "copy"
	EventSkip      EventType = "skip"
	EventDefer     EventType = "defer"
	EventCollision EventType = "collision"
	EventResolve   EventType = "resolve"
	EventSample    EventType = "sample"
	EventDedupe    EventType = "dedupe"
	EventManifest  EventType = "manifest"
	EventError     EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in the pipeline
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	Phase     string            `json:"phase,omitempty"`
	Origin    string            `json:"origin,omitempty"`
	SrcPath   string            `json:"src_path,omitempty"`
	DestPath  string            `json:"dest_path,omitempty"`
	Action    string            `json:"action,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Bytes     int64             `json:"bytes,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file in the run directory
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger opens (appending) the event log inside runDir.
// minLevel determines which events are written.
func NewEventLogger(runDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := filepath.Join(runDir, "events.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// NullLogger returns a logger that discards everything
func NullLogger() *EventLogger {
	return &EventLogger{}
}

// Path returns the event log path, or "" for a null logger
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close closes the underlying file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogPhase logs a pipeline phase boundary; label names it (start, complete)
func (l *EventLogger) LogPhase(phase, label string) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventPhase,
		Phase:  phase,
		Reason: label,
	})
}

// LogCopy logs a completed file copy
func (l *EventLogger) LogCopy(origin, srcPath, destPath string, bytes int64, d time.Duration) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventCopy,
		Origin:   origin,
		SrcPath:  srcPath,
		DestPath: destPath,
		Bytes:    bytes,
		Duration: d.Milliseconds(),
	})
}

// LogSkip logs a skipped source entry
func (l *EventLogger) LogSkip(origin, srcPath, reason string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventSkip,
		Origin:  origin,
		SrcPath: srcPath,
		Reason:  reason,
	})
}

// LogDefer logs an overlay copy deferred to collision resolution
func (l *EventLogger) LogDefer(origin, srcPath, destPath string) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventDefer,
		Origin:   origin,
		SrcPath:  srcPath,
		DestPath: destPath,
	})
}

// LogCollision logs a collision classification
func (l *EventLogger) LogCollision(destPath, classification string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventCollision,
		DestPath: destPath,
		Reason:   classification,
	})
}

// LogResolve logs a collision resolution outcome
func (l *EventLogger) LogResolve(destPath, action, resultingPaths string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventResolve,
		DestPath: destPath,
		Action:   action,
		Extra:    map[string]string{"resulting_paths": resultingPaths},
	})
}

// LogError logs a non-fatal error tied to a path
func (l *EventLogger) LogError(phase, path string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   EventError,
		Phase:   phase,
		SrcPath: path,
		Error:   err.Error(),
	})
}
