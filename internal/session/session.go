// Package session owns one scan session's graph: it is the single writer to
// the store and serves consistent reads of the graph and its projection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/efebarandurmaz/giftmap/internal/event"
	"github.com/efebarandurmaz/giftmap/internal/graph"
	"github.com/efebarandurmaz/giftmap/internal/layout"
	"github.com/efebarandurmaz/giftmap/internal/observability"
	"github.com/efebarandurmaz/giftmap/internal/scanqueue"
	"github.com/efebarandurmaz/giftmap/internal/view"
)

// Observer is told about scan and graph changes. Calls happen outside the
// session lock. EventApplied and ViewUpdated run on the apply path and must
// not call back into the scan queue.
type Observer interface {
	ScanStarted(sessionID, target string)
	ScanCompleted(sessionID, target string)
	ScanFailed(sessionID, target string, err error)
	ScanStopped(sessionID, cancelled string, dropped []string)
	QueueDrained(sessionID string)
	EventApplied(sessionID, target string, kind event.Kind, err error)
	ViewUpdated(sessionID string, version uint64, stats graph.Stats)
	SessionReset(oldID, newID string)
}

// Config holds the session's behaviour switches.
type Config struct {
	SettleDelay time.Duration
	Autostart   bool
	// DeriveBioLinks applies channel links extracted from account bios.
	DeriveBioLinks bool
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		SettleDelay: 2 * time.Second,
		Autostart:   true,
	}
}

// Options wires a session's collaborators. Only Source is required.
type Options struct {
	Source   scanqueue.Source
	Config   Config
	Layout   layout.Memory
	Observer Observer
	Metrics  *observability.EngineMetrics
	Audit    *observability.AuditLogger
	Logger   *slog.Logger
}

type targetRun struct {
	started  time.Time
	applied  int
	rejected int
	span     trace.Span
}

// Session drives scans into one graph and caches its projection.
type Session struct {
	cfg      Config
	layout   layout.Memory
	observer Observer
	metrics  *observability.EngineMetrics
	audit    *observability.AuditLogger
	logger   *slog.Logger
	ctrl     *scanqueue.Controller

	mu      sync.RWMutex
	id      string
	store   *graph.Store
	version uint64
	records []view.EntityRecord
	dirty   bool

	runMu sync.Mutex
	runs  map[string]*targetRun
}

// New creates an idle session with an empty graph.
func New(opts Options) (*Session, error) {
	if opts.Source == nil {
		return nil, errors.New("session requires an event source")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mem := opts.Layout
	if mem == nil {
		mem = layout.NewMapMemory()
	}
	s := &Session{
		cfg:      opts.Config,
		layout:   mem,
		observer: opts.Observer,
		metrics:  opts.Metrics,
		audit:    opts.Audit,
		logger:   logger.With("component", "session"),
		id:       uuid.NewString(),
		store:    graph.NewStore(),
		records:  []view.EntityRecord{},
		runs:     make(map[string]*targetRun),
	}
	s.ctrl = scanqueue.New(opts.Source, s, &scanqueue.Config{
		SettleDelay: opts.Config.SettleDelay,
		Autostart:   opts.Config.Autostart,
		Logger:      logger,
		Hooks: scanqueue.Hooks{
			OnStart:    s.onStart,
			OnComplete: s.onComplete,
			OnFault:    s.onFault,
			OnEvent:    s.onEvent,
			OnStop:     s.onStop,
			OnIdle:     s.onIdle,
		},
	})
	return s, nil
}

// ID returns the current session id. It changes on Reset.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Apply merges one event into the graph. Calls are serialised; the event is
// fully applied or, when malformed, rejected without any change.
func (s *Session) Apply(ctx context.Context, ev event.Event) error {
	if ev != nil && event.IsControl(ev) {
		return nil
	}
	kind := ""
	if ev != nil {
		kind = string(ev.Kind())
	}

	s.mu.Lock()
	id := s.id
	_, span := observability.StartApplySpan(ctx, id, kind)
	defer span.End()

	start := time.Now()
	err := s.store.Apply(ev)
	if err == nil && s.cfg.DeriveBioLinks {
		if acc, ok := ev.(*event.AccountObserved); ok && acc.Bio != "" {
			if links := event.ExtractLinks(acc.Bio, acc.Username); len(links) > 0 {
				err = s.store.Apply(&event.ChannelLinksObserved{ID: acc.ID, ChannelHandles: links})
			}
		}
	}
	if err != nil {
		s.mu.Unlock()
		s.metrics.RecordApply(kind, 0, err)
		observability.RecordError(span, err)
		s.logger.Warn("event rejected", "session", id, "kind", kind, "error", err)
		return err
	}
	s.version++
	s.dirty = true
	version := s.version
	snapStats := s.store.Stats()
	nodes, edges := s.store.Len()
	s.mu.Unlock()

	s.metrics.RecordApply(kind, time.Since(start), nil)
	s.metrics.SetGraphSize(snapStats.Accounts, snapStats.Channels, snapStats.Memberships, snapStats.GiftEdges, snapStats.GiftVolume)
	observability.RecordApplyResult(span, nodes, edges)
	if s.observer != nil {
		s.observer.ViewUpdated(id, version, snapStats)
	}
	return nil
}

// Snapshot returns an immutable copy of the graph.
func (s *Session) Snapshot() graph.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Snapshot()
}

// Records returns the projected records, recomputing them if the graph
// changed since the last call. The returned slice must not be modified.
func (s *Session) Records() []view.EntityRecord {
	s.mu.RLock()
	if !s.dirty {
		records := s.records
		s.mu.RUnlock()
		return records
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.records = view.Project(s.store.Snapshot())
		s.dirty = false
	}
	return s.records
}

// Record returns the projected record for one account id.
func (s *Session) Record(id string) (view.EntityRecord, bool) {
	return view.Find(s.Records(), id)
}

// Version increments on every successful apply.
func (s *Session) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Layout returns the session's layout memory.
func (s *Session) Layout() layout.Memory { return s.layout }

// Status returns the scan queue status.
func (s *Session) Status() scanqueue.Status { return s.ctrl.Status() }

// Enqueue adds targets to the current session's queue.
func (s *Session) Enqueue(targets ...string) {
	s.ctrl.Enqueue(targets...)
	s.metrics.SetQueueDepth(len(s.ctrl.Status().Queue))
}

// Start begins a new session for targets: the graph is reset (layout is kept)
// and the targets are queued.
func (s *Session) Start(targets ...string) error {
	if err := s.Reset(false); err != nil {
		return err
	}
	s.Enqueue(targets...)
	if !s.cfg.Autostart {
		s.ctrl.Start()
	}
	return nil
}

// Resume starts the next queued target when autostart is off.
func (s *Session) Resume() bool { return s.ctrl.Start() }

// Remove drops a pending target.
func (s *Session) Remove(target string) bool {
	ok := s.ctrl.Remove(target)
	s.metrics.SetQueueDepth(len(s.ctrl.Status().Queue))
	return ok
}

// Stop cancels the in-flight scan and clears the queue. The graph is kept.
func (s *Session) Stop() { s.ctrl.Stop() }

// Wait blocks until the scan queue is idle or stopped.
func (s *Session) Wait(ctx context.Context) error { return s.ctrl.Wait(ctx) }

// Reset stops scanning and replaces the graph with an empty one under a new
// session id. With clearLayout the layout memory is wiped too.
func (s *Session) Reset(clearLayout bool) error {
	s.ctrl.Stop()

	s.mu.Lock()
	oldID := s.id
	s.id = uuid.NewString()
	s.store = graph.NewStore()
	s.records = []view.EntityRecord{}
	s.dirty = false
	s.version++
	newID := s.id
	s.mu.Unlock()

	s.runMu.Lock()
	s.runs = make(map[string]*targetRun)
	s.runMu.Unlock()

	s.metrics.SetGraphSize(0, 0, 0, 0, 0)
	s.audit.LogSessionReset(oldID, newID, clearLayout)
	s.logger.Info("session reset", "old", oldID, "new", newID, "clear_layout", clearLayout)

	if clearLayout {
		if err := s.layout.Clear(); err != nil {
			return fmt.Errorf("clear layout: %w", err)
		}
		s.audit.LogLayoutClear(newID)
	}
	if s.observer != nil {
		s.observer.SessionReset(oldID, newID)
	}
	return nil
}

func (s *Session) onStart(target string) {
	id := s.ID()
	_, span := observability.StartScanSpan(context.Background(), id, target)
	s.runMu.Lock()
	s.runs[target] = &targetRun{started: time.Now(), span: span}
	s.runMu.Unlock()

	s.metrics.RecordScan(observability.ScanStarted)
	s.metrics.SetQueueDepth(len(s.ctrl.Status().Queue))
	s.audit.LogScanStart(id, target)
	if s.observer != nil {
		s.observer.ScanStarted(id, target)
	}
}

// finishRun removes the target's run and ends its span.
func (s *Session) finishRun(target string, err error) targetRun {
	s.runMu.Lock()
	run, ok := s.runs[target]
	if ok {
		delete(s.runs, target)
	}
	s.runMu.Unlock()
	if !ok {
		return targetRun{started: time.Now()}
	}
	if run.span != nil {
		observability.RecordScanResult(run.span, run.applied, run.rejected, err)
		run.span.End()
	}
	return *run
}

func (s *Session) onComplete(target string) {
	id := s.ID()
	run := s.finishRun(target, nil)
	s.metrics.RecordScan(observability.ScanCompleted)
	s.audit.LogScanComplete(id, target, time.Since(run.started), run.applied, run.rejected)
	if s.observer != nil {
		s.observer.ScanCompleted(id, target)
	}
}

func (s *Session) onFault(target string, err *scanqueue.StreamError) {
	id := s.ID()
	run := s.finishRun(target, err)
	s.metrics.RecordScan(observability.ScanFaulted)
	s.audit.LogScanFault(id, target, time.Since(run.started), err)
	if s.observer != nil {
		s.observer.ScanFailed(id, target, err)
	}
}

func (s *Session) onEvent(target string, ev event.Event, err error) {
	id := s.ID()
	kind := event.Kind("")
	if ev != nil {
		kind = ev.Kind()
	}

	s.runMu.Lock()
	if run, ok := s.runs[target]; ok {
		if err != nil {
			run.rejected++
		} else {
			run.applied++
		}
	}
	s.runMu.Unlock()

	if err != nil {
		if ev == nil {
			// Undecodable frames never reach Apply.
			s.metrics.RecordApply(string(kind), 0, err)
		}
		s.audit.LogEventRejected(id, target, string(kind), err)
	}
	if s.observer != nil {
		s.observer.EventApplied(id, target, kind, err)
	}
}

func (s *Session) onStop(cancelled string, dropped []string) {
	id := s.ID()
	if cancelled != "" {
		s.finishRun(cancelled, context.Canceled)
	}
	s.metrics.RecordScan(observability.ScanStopped)
	s.metrics.SetQueueDepth(0)
	s.audit.LogScanStop(id, cancelled, dropped)
	if s.observer != nil {
		s.observer.ScanStopped(id, cancelled, dropped)
	}
}

func (s *Session) onIdle() {
	s.metrics.SetQueueDepth(0)
	if s.observer != nil {
		s.observer.QueueDrained(s.ID())
	}
}
