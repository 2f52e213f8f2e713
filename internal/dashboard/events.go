package dashboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/giftmap/internal/event"
	"github.com/efebarandurmaz/giftmap/internal/graph"
)

// Emitter turns session notifications into run history and dashboard events.
// It is safe to use from multiple goroutines and never calls back into the
// session.
type Emitter struct {
	mu     sync.Mutex
	store  *Store
	hub    *Hub
	active map[string]string // session+target -> run id
}

// NewEmitter creates a new event emitter.
func NewEmitter(store *Store, hub *Hub) *Emitter {
	return &Emitter{store: store, hub: hub, active: make(map[string]string)}
}

func runKey(sessionID, target string) string { return sessionID + "\x00" + target }

func (e *Emitter) broadcast(typ, sessionID, target string, data any) {
	e.hub.Broadcast(&Event{
		Type:      typ,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Target:    target,
		Data:      data,
	})
}

// ScanStarted records a running ScanRun and broadcasts "scan.started".
func (e *Emitter) ScanStarted(sessionID, target string) {
	run := &ScanRun{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Target:    target,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	e.mu.Lock()
	e.active[runKey(sessionID, target)] = run.ID
	e.mu.Unlock()

	e.store.CreateRun(run)
	e.broadcast("scan.started", sessionID, target, *run)
}

// ScanCompleted finishes the run and broadcasts "scan.completed".
func (e *Emitter) ScanCompleted(sessionID, target string) {
	run, ok := e.finish(sessionID, target, StatusCompleted, "")
	if !ok {
		return
	}
	e.broadcast("scan.completed", sessionID, target, run)
}

// ScanFailed marks the run failed and broadcasts "scan.failed".
func (e *Emitter) ScanFailed(sessionID, target string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	run, ok := e.finish(sessionID, target, StatusFailed, msg)
	if !ok {
		return
	}
	e.broadcast("scan.failed", sessionID, target, run)
	e.Log(sessionID, target, "error", fmt.Sprintf("scan of %s failed: %s", target, msg))
}

// ScanStopped marks the cancelled run stopped and broadcasts "scan.stopped".
func (e *Emitter) ScanStopped(sessionID, cancelled string, dropped []string) {
	if cancelled != "" {
		e.finish(sessionID, cancelled, StatusStopped, "")
	}
	if dropped == nil {
		dropped = []string{}
	}
	e.broadcast("scan.stopped", sessionID, cancelled, StopNotice{Cancelled: cancelled, Dropped: dropped})
}

// QueueDrained broadcasts "scan.idle".
func (e *Emitter) QueueDrained(sessionID string) {
	e.broadcast("scan.idle", sessionID, "", nil)
}

// EventApplied counts the event against the running scan. Rejections are
// logged.
func (e *Emitter) EventApplied(sessionID, target string, kind event.Kind, err error) {
	e.mu.Lock()
	id, ok := e.active[runKey(sessionID, target)]
	e.mu.Unlock()
	if ok {
		e.store.UpdateRun(id, func(run *ScanRun) {
			if err != nil {
				run.Rejected++
			} else {
				run.Applied++
			}
		})
	}
	if err != nil {
		e.Log(sessionID, target, "warn", fmt.Sprintf("rejected %s event: %v", kind, err))
	}
}

// ViewUpdated broadcasts "view.updated" with the new graph totals.
func (e *Emitter) ViewUpdated(sessionID string, version uint64, stats graph.Stats) {
	e.broadcast("view.updated", sessionID, "", ViewUpdate{Version: version, Stats: stats})
}

// SessionReset broadcasts "session.reset". Runs of the old session stay in
// the history.
func (e *Emitter) SessionReset(oldID, newID string) {
	e.broadcast("session.reset", newID, "", map[string]string{"previous": oldID})
	e.Log(newID, "", "info", "new session started")
}

// Log adds a LogEntry to the store and broadcasts a "log" event.
func (e *Emitter) Log(sessionID, target, level, message string) {
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		SessionID: sessionID,
		Target:    target,
	}

	e.store.AddLog(entry)
	e.broadcast("log", sessionID, target, entry)
}

func (e *Emitter) finish(sessionID, target string, status RunStatus, errMsg string) (ScanRun, bool) {
	key := runKey(sessionID, target)
	e.mu.Lock()
	id, ok := e.active[key]
	delete(e.active, key)
	e.mu.Unlock()
	if !ok {
		return ScanRun{}, false
	}

	return e.store.UpdateRun(id, func(run *ScanRun) {
		now := time.Now()
		run.Status = status
		run.CompletedAt = &now
		run.DurationMS = now.Sub(run.StartedAt).Milliseconds()
		run.Error = errMsg
	})
}
