// Package server runs the giftmap process lifecycle: health probes for the
// scan engine's collaborators and ordered cleanup on shutdown.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/giftmap/internal/layout"
	"github.com/efebarandurmaz/giftmap/internal/scanqueue"
)

// Status is the state of one component or of the whole process.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

var statusRank = map[Status]int{StatusUp: 0, StatusDegraded: 1, StatusDown: 2}

func worse(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Name    string            `json:"name"`
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Report aggregates every registered probe. Its status is the worst of them.
type Report struct {
	Status    Status        `json:"status"`
	Version   string        `json:"version,omitempty"`
	Uptime    string        `json:"uptime"`
	CheckedAt time.Time     `json:"checked_at"`
	Checks    []CheckResult `json:"checks"`
}

// Checker probes one component.
type Checker func(ctx context.Context) CheckResult

// DefaultCheckTimeout bounds each probe.
const DefaultCheckTimeout = 5 * time.Second

// Health tracks readiness and liveness and runs component probes.
type Health struct {
	version      string
	started      time.Time
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]Checker

	ready atomic.Bool
	live  atomic.Bool
}

// NewHealth returns a live, not yet ready, probe set.
func NewHealth(version string) *Health {
	h := &Health{
		version:      version,
		started:      time.Now(),
		checkTimeout: DefaultCheckTimeout,
		checks:       make(map[string]Checker),
	}
	h.live.Store(true)
	return h
}

// Register adds or replaces the probe called name.
func (h *Health) Register(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }
func (h *Health) Ready() bool         { return h.ready.Load() }
func (h *Health) SetLive(live bool)   { h.live.Store(live) }
func (h *Health) Live() bool          { return h.live.Load() }

// Check runs every probe concurrently. Results are ordered by name.
func (h *Health) Check(ctx context.Context) Report {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make([]Checker, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
			defer cancel()
			res := check(cctx)
			res.Name = names[i]
			if res.Status == "" {
				res.Status = StatusUp
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:    StatusUp,
		Version:   h.version,
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		CheckedAt: time.Now().UTC(),
		Checks:    results,
	}
	for _, res := range results {
		report.Status = worse(report.Status, res.Status)
	}
	return report
}

// Handler serves /health, /ready and /live plus their k8s-style z aliases.
func (h *Health) Handler() http.Handler {
	mux := http.NewServeMux()
	full := func(w http.ResponseWriter, r *http.Request) {
		report := h.Check(r.Context())
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
	ready := func(w http.ResponseWriter, r *http.Request) { probe(w, h.Ready()) }
	live := func(w http.ResponseWriter, r *http.Request) { probe(w, h.Live()) }

	routes := map[string]http.HandlerFunc{"/health": full, "/ready": ready, "/live": live}
	for path, fn := range routes {
		mux.HandleFunc(path, fn)
		mux.HandleFunc(path+"z", fn)
	}
	return mux
}

func probe(w http.ResponseWriter, ok bool) {
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]Status{"status": StatusDown})
		return
	}
	writeJSON(w, http.StatusOK, map[string]Status{"status": StatusUp})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// GraphDatabaseCheck pings the optional Neo4j export target. Scanning works
// without it, so a failure only degrades the process.
func GraphDatabaseCheck(ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusDegraded, Message: "neo4j unreachable: " + err.Error()}
		}
		return CheckResult{Status: StatusUp}
	}
}

// LayoutCheck reads a sentinel key from the layout store.
func LayoutCheck(mem layout.Memory) Checker {
	return func(ctx context.Context) CheckResult {
		if _, _, err := mem.Get("__health__"); err != nil {
			return CheckResult{Status: StatusDown, Message: "layout store: " + err.Error()}
		}
		return CheckResult{Status: StatusUp}
	}
}

// ScanQueueCheck reports the controller state. A draining controller is
// settling after a stream fault.
func ScanQueueCheck(status func() scanqueue.Status) Checker {
	return func(ctx context.Context) CheckResult {
		st := status()
		res := CheckResult{
			Status:  StatusUp,
			Message: string(st.State),
			Details: map[string]string{"queued": strconv.Itoa(len(st.Queue))},
		}
		if st.Current != "" {
			res.Details["current"] = st.Current
		}
		if st.State == scanqueue.StateDraining {
			res.Status = StatusDegraded
		}
		return res
	}
}
