// Package report summarises a batch of scans for the replay command.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/efebarandurmaz/giftmap/internal/event"
	"github.com/efebarandurmaz/giftmap/internal/export"
	"github.com/efebarandurmaz/giftmap/internal/graph"
)

// ScanReport collects statistics for a batch of scans into one session.
type ScanReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	SessionID  string         `json:"session_id"`
	Source     string         `json:"source"`
	Targets    []TargetReport `json:"targets"`
	Graph      export.Stats   `json:"graph"`
	Errors     []string       `json:"errors,omitempty"`
}

type TargetReport struct {
	Target     string `json:"target"`
	Status     string `json:"status"`
	Applied    int    `json:"applied"`
	Rejected   int    `json:"rejected"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`

	started time.Time
}

// Recorder fills a ScanReport from session notifications.
type Recorder struct {
	mu     sync.Mutex
	report ScanReport
	index  map[string]int
}

// New starts tracking a batch.
func New(source string) *Recorder {
	return &Recorder{
		report: ScanReport{StartedAt: time.Now(), Source: source, Targets: []TargetReport{}},
		index:  make(map[string]int),
	}
}

func (r *Recorder) target(name string) *TargetReport {
	i, ok := r.index[name]
	if !ok {
		i = len(r.report.Targets)
		r.index[name] = i
		r.report.Targets = append(r.report.Targets, TargetReport{Target: name, Status: "pending"})
	}
	return &r.report.Targets[i]
}

func (r *Recorder) end(name, status, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.target(name)
	t.Status = status
	t.Error = errMsg
	if !t.started.IsZero() {
		t.DurationMS = time.Since(t.started).Milliseconds()
	}
	if errMsg != "" {
		r.report.Errors = append(r.report.Errors, fmt.Sprintf("%s: %s", name, errMsg))
	}
}

func (r *Recorder) ScanStarted(sessionID, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.SessionID = sessionID
	t := r.target(target)
	t.Status = "running"
	t.started = time.Now()
}

func (r *Recorder) ScanCompleted(_, target string) { r.end(target, "completed", "") }

func (r *Recorder) ScanFailed(_, target string, err error) {
	msg := "failed"
	if err != nil {
		msg = err.Error()
	}
	r.end(target, "failed", msg)
}

func (r *Recorder) ScanStopped(_, cancelled string, dropped []string) {
	if cancelled != "" {
		r.end(cancelled, "stopped", "")
	}
	for _, d := range dropped {
		r.end(d, "dropped", "")
	}
}

func (r *Recorder) QueueDrained(string) {}

func (r *Recorder) EventApplied(_, target string, _ event.Kind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.target(target)
	if err != nil {
		t.Rejected++
	} else {
		t.Applied++
	}
}

func (r *Recorder) ViewUpdated(string, uint64, graph.Stats) {}

func (r *Recorder) SessionReset(_, newID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.SessionID = newID
}

// Finish marks the batch complete with the final graph and returns the report.
func (r *Recorder) Finish(snap graph.Snapshot) ScanReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.FinishedAt = time.Now()
	r.report.DurationMS = r.report.FinishedAt.Sub(r.report.StartedAt).Milliseconds()
	r.report.Graph = export.Build(snap).Stats
	out := r.report
	out.Targets = append([]TargetReport{}, r.report.Targets...)
	out.Errors = append([]string(nil), r.report.Errors...)
	return out
}

// PrintSummary writes a human-readable summary.
func (m ScanReport) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║          GIFTMAP SCAN REPORT         ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", (time.Duration(m.DurationMS) * time.Millisecond).String())
	fmt.Fprintf(w, "║ Source:      %-23s║\n", m.Source)
	fmt.Fprintf(w, "║ Session:     %-23s║\n", shorten(m.SessionID, 23))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ TARGETS\n")
	for _, t := range m.Targets {
		fmt.Fprintf(w, "║   %-16s %-9s %5d applied %3d rejected\n", t.Target, t.Status, t.Applied, t.Rejected)
	}
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ GRAPH\n")
	fmt.Fprintf(w, "║   Accounts:    %d\n", m.Graph.Accounts)
	fmt.Fprintf(w, "║   Channels:    %d\n", m.Graph.Channels)
	fmt.Fprintf(w, "║   Gift Volume: %d\n", m.Graph.GiftVolume)
	for _, g := range m.Graph.TopGifters {
		fmt.Fprintf(w, "║   • %s sent %d\n", g.Label, g.Sent)
	}
	if len(m.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range m.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (m ScanReport) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
