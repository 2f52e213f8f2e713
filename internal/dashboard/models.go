package dashboard

import (
	"time"

	"github.com/efebarandurmaz/giftmap/internal/export"
	"github.com/efebarandurmaz/giftmap/internal/graph"
	"github.com/efebarandurmaz/giftmap/internal/scanqueue"
)

// RunStatus represents the state of one target's scan.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusStopped   RunStatus = "stopped"
)

// Finished reports whether the run reached a terminal status.
func (s RunStatus) Finished() bool { return s != StatusRunning }

// ScanRun is the history entry of one target scanned within a session.
type ScanRun struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Target      string        `json:"target"`
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DurationMS  int64         `json:"duration_ms"`
	Applied     int           `json:"applied"`
	Rejected    int           `json:"rejected"`
	Error       string        `json:"error,omitempty"`
}

// RunStats holds aggregate run counts.
type RunStats struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Stopped   int `json:"stopped"`
	Applied   int `json:"applied"`
	Rejected  int `json:"rejected"`
}

// ScanOverview is the response of GET /api/scan.
type ScanOverview struct {
	SessionID string           `json:"session_id"`
	Version   uint64           `json:"version"`
	Status    scanqueue.Status `json:"status"`
	Runs      []ScanRun        `json:"runs"`
}

// StatsResponse is the response of GET /api/stats.
type StatsResponse struct {
	SessionID string       `json:"session_id"`
	Graph     export.Stats `json:"graph"`
	Runs      RunStats     `json:"runs"`
}

// ViewUpdate is the payload of a view.updated event.
type ViewUpdate struct {
	Version uint64      `json:"version"`
	Stats   graph.Stats `json:"stats"`
}

// StopNotice is the payload of a scan.stopped event.
type StopNotice struct {
	Cancelled string   `json:"cancelled,omitempty"`
	Dropped   []string `json:"dropped"`
}

// Event represents a real-time dashboard event.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Target    string    `json:"target,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// LogEntry represents a log line for a session.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
}
