package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventScanStart     AuditEventType = "scan.start"
	AuditEventScanComplete  AuditEventType = "scan.complete"
	AuditEventScanFault     AuditEventType = "scan.fault"
	AuditEventScanStop      AuditEventType = "scan.stop"
	AuditEventSessionReset  AuditEventType = "session.reset"
	AuditEventEventRejected AuditEventType = "event.rejected"
	AuditEventExport        AuditEventType = "graph.export"
	AuditEventLayoutClear   AuditEventType = "layout.clear"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	Target      string                 `json:"target,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu      sync.Mutex
	writer  io.Writer
	enabled bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}
	if !config.Enabled {
		return DisabledAuditLogger(), nil
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	return &AuditLogger{writer: writer, enabled: true}, nil
}

// NewAuditWriter returns an enabled audit logger writing to w.
func NewAuditWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{writer: w, enabled: true}
}

// DisabledAuditLogger returns a logger that drops every event.
func DisabledAuditLogger() *AuditLogger {
	return &AuditLogger{enabled: false}
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogScanStart logs the start of a target's stream.
func (l *AuditLogger) LogScanStart(sessionID, target string) {
	l.Log(&AuditEvent{
		EventType: AuditEventScanStart,
		SessionID: sessionID,
		Target:    target,
		Success:   true,
		Message:   fmt.Sprintf("Scan of %s started", target),
	})
}

// LogScanComplete logs a finished stream.
func (l *AuditLogger) LogScanComplete(sessionID, target string, duration time.Duration, applied, rejected int) {
	l.Log(&AuditEvent{
		EventType: AuditEventScanComplete,
		SessionID: sessionID,
		Target:    target,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Scan of %s completed", target),
		Details: map[string]interface{}{
			"applied":  applied,
			"rejected": rejected,
		},
	})
}

// LogScanFault logs a stream that ended with an upstream error.
func (l *AuditLogger) LogScanFault(sessionID, target string, duration time.Duration, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventScanFault,
		SessionID:   sessionID,
		Target:      target,
		Success:     false,
		Duration:    duration,
		Message:     fmt.Sprintf("Scan of %s failed", target),
		ErrorDetail: err.Error(),
	})
}

// LogScanStop logs an operator stop.
func (l *AuditLogger) LogScanStop(sessionID, cancelled string, dropped []string) {
	l.Log(&AuditEvent{
		EventType: AuditEventScanStop,
		SessionID: sessionID,
		Target:    cancelled,
		Success:   true,
		Message:   "Scan stopped",
		Details: map[string]interface{}{
			"dropped": dropped,
		},
	})
}

// LogSessionReset logs the replacement of a session's graph.
func (l *AuditLogger) LogSessionReset(oldID, newID string, clearedLayout bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventSessionReset,
		SessionID: oldID,
		Success:   true,
		Message:   "Session reset",
		Details: map[string]interface{}{
			"new_session":    newID,
			"cleared_layout": clearedLayout,
		},
	})
}

// LogEventRejected logs an event that could not be applied.
func (l *AuditLogger) LogEventRejected(sessionID, target, kind string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventEventRejected,
		SessionID:   sessionID,
		Target:      target,
		Success:     false,
		Message:     fmt.Sprintf("Rejected %s event", kind),
		ErrorDetail: err.Error(),
	})
}

// LogExport logs a graph export.
func (l *AuditLogger) LogExport(sessionID, format string, nodes, edges int, duration time.Duration, err error) {
	event := &AuditEvent{
		EventType: AuditEventExport,
		SessionID: sessionID,
		Success:   err == nil,
		Duration:  duration,
		Message:   fmt.Sprintf("Exported graph as %s", format),
		Details: map[string]interface{}{
			"format": format,
			"nodes":  nodes,
			"edges":  edges,
		},
	}
	if err != nil {
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// LogLayoutClear logs a layout memory wipe.
func (l *AuditLogger) LogLayoutClear(sessionID string) {
	l.Log(&AuditEvent{
		EventType: AuditEventLayoutClear,
		SessionID: sessionID,
		Success:   true,
		Message:   "Layout memory cleared",
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}
