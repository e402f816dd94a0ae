// Package telemetry records what the bridge does: handled panel messages,
// service calls, process lifecycle and panel attachment.
package telemetry

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventMessage      EventType = "message"
	EventAPIRequest   EventType = "api_request"
	EventServer       EventType = "server"
	EventPanelAttach  EventType = "panel_attach"
	EventPanelDetach  EventType = "panel_detach"
	EventThemeChanged EventType = "theme_changed"
)

// Outcomes recorded on events.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType      `json:"type"`
	Session   string         `json:"session,omitempty"`
	Command   string         `json:"command,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Telemetry receives events.
type Telemetry interface {
	Emit(event Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Telemetry.
func (Nop) Emit(Event) {}

// Multiplex broadcasts events to multiple sinks.
type Multiplex struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m Multiplex) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// LoggerTelemetry emits events via the standard logger.
type LoggerTelemetry struct {
	Logger *log.Logger
}

// Emit logs the event.
func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	if event.Duration > 0 {
		logger.Printf("[%s] session=%s command=%s outcome=%s took=%s msg=%s", event.Type, event.Session, event.Command, event.Outcome, event.Duration, event.Message)
		return
	}
	logger.Printf("[%s] session=%s command=%s outcome=%s msg=%s", event.Type, event.Session, event.Command, event.Outcome, event.Message)
}

// JSONFile writes events as newline-delimited JSON so external tools can
// tail the stream.
type JSONFile struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFile opens (or creates) the event file for appending.
func NewJSONFile(path string) (*JSONFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFile{file: f, enc: json.NewEncoder(f)}, nil
}

// Emit writes the JSON record.
func (j *JSONFile) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFile) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	j.enc = nil
	return err
}
