// Package logging provides a structured JSONL event logger for the console.
// Events carry a level and a subsystem category so log streams can be
// filtered per concern (transport, search, inventory, action).
package logging

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log.
type Category string

const (
	CategoryTransport Category = "transport"
	CategorySearch    Category = "search"
	CategoryInventory Category = "inventory"
	CategoryAction    Category = "action"
	CategoryConsole   Category = "console"
	CategoryServer    Category = "server"
)

// Event represents a structured log event.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger writes structured events as JSON lines.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
}

// NewLogger creates a logger writing to out. A nil out means stderr.
func NewLogger(out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{out: out, minLevel: LevelInfo}
}

// SetMinLevel sets the minimum log level.
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Log writes an event if it meets the minimum level.
func (l *Logger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !l.shouldLog(event.Level) {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = l.out.Write(data)
}

func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.minLevel]
}

// Debug logs a debug event.
func (l *Logger) Debug(category Category, eventType, message string, details map[string]any) {
	l.Log(Event{Level: LevelDebug, Category: category, EventType: eventType, Message: message, Details: details})
}

// Info logs an info event.
func (l *Logger) Info(category Category, eventType, message string, details map[string]any) {
	l.Log(Event{Level: LevelInfo, Category: category, EventType: eventType, Message: message, Details: details})
}

// Warn logs a warning event.
func (l *Logger) Warn(category Category, eventType, message string, details map[string]any) {
	l.Log(Event{Level: LevelWarn, Category: category, EventType: eventType, Message: message, Details: details})
}

// Error logs an error event.
func (l *Logger) Error(category Category, eventType, message string, details map[string]any) {
	l.Log(Event{Level: LevelError, Category: category, EventType: eventType, Message: message, Details: details})
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{out: io.Discard, minLevel: LevelError}
}
