package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/efebarandurmaz/giftmap/internal/layout"
	"github.com/efebarandurmaz/giftmap/internal/scanqueue"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth_InitialState(t *testing.T) {
	h := NewHealth("1.0.0")
	if h.Ready() {
		t.Error("expected not ready before Start")
	}
	if !h.Live() {
		t.Error("expected live initially")
	}
}

func TestHealth_CheckAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
		code     int
	}{
		{"no checks", nil, StatusUp, http.StatusOK},
		{"all up", []Status{StatusUp, StatusUp}, StatusUp, http.StatusOK},
		{"one degraded", []Status{StatusUp, StatusDegraded}, StatusDegraded, http.StatusOK},
		{"one down", []Status{StatusDegraded, StatusDown, StatusUp}, StatusDown, http.StatusServiceUnavailable},
		{"empty status counts as up", []Status{""}, StatusUp, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealth("1.0.0")
			for i, st := range tt.statuses {
				h.Register(string(rune('a'+i)), func(ctx context.Context) CheckResult {
					return CheckResult{Status: st}
				})
			}

			w := get(t, h.Handler(), "/health")
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, w.Code)
			}
			var report Report
			if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
				t.Fatalf("decode report: %v", err)
			}
			if report.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, report.Status)
			}
			if report.Version != "1.0.0" {
				t.Errorf("expected version 1.0.0, got %s", report.Version)
			}
			if len(report.Checks) != len(tt.statuses) {
				t.Errorf("expected %d checks, got %d", len(tt.statuses), len(report.Checks))
			}
		})
	}
}

func TestHealth_CheckResultsSortedAndNamed(t *testing.T) {
	h := NewHealth("")
	for _, name := range []string{"scan_queue", "layout", "graph_database"} {
		h.Register(name, func(ctx context.Context) CheckResult { return CheckResult{Name: "ignored"} })
	}

	report := h.Check(context.Background())
	want := []string{"graph_database", "layout", "scan_queue"}
	for i, res := range report.Checks {
		if res.Name != want[i] {
			t.Errorf("expected check %d to be %s, got %s", i, want[i], res.Name)
		}
	}
}

func TestHealth_CheckTimeout(t *testing.T) {
	h := NewHealth("")
	h.checkTimeout = 20 * time.Millisecond
	h.Register("slow", func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusDown, Message: ctx.Err().Error()}
	})

	start := time.Now()
	report := h.Check(context.Background())
	if time.Since(start) > 2*time.Second {
		t.Fatal("expected the probe to be cut off by its timeout")
	}
	if report.Status != StatusDown {
		t.Errorf("expected down, got %s", report.Status)
	}
}

func TestHealth_ReadyAndLiveProbes(t *testing.T) {
	h := NewHealth("")
	handler := h.Handler()

	for _, path := range []string{"/ready", "/readyz"} {
		if w := get(t, handler, path); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503 before ready, got %d", path, w.Code)
		}
	}
	h.SetReady(true)
	if w := get(t, handler, "/ready"); w.Code != http.StatusOK {
		t.Errorf("expected 200 once ready, got %d", w.Code)
	}

	if w := get(t, handler, "/livez"); w.Code != http.StatusOK {
		t.Errorf("expected 200 while live, got %d", w.Code)
	}
	h.SetLive(false)
	if w := get(t, handler, "/live"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when not live, got %d", w.Code)
	}
}

func TestGraphDatabaseCheck(t *testing.T) {
	ok := GraphDatabaseCheck(func(ctx context.Context) error { return nil })(context.Background())
	if ok.Status != StatusUp {
		t.Errorf("expected up, got %s", ok.Status)
	}

	bad := GraphDatabaseCheck(func(ctx context.Context) error { return errors.New("connection refused") })(context.Background())
	if bad.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", bad.Status)
	}
}

func TestLayoutCheck(t *testing.T) {
	mem := layout.NewMapMemory()
	if res := LayoutCheck(mem)(context.Background()); res.Status != StatusUp {
		t.Errorf("expected up, got %s: %s", res.Status, res.Message)
	}

	mem.Close()
	if res := LayoutCheck(mem)(context.Background()); res.Status != StatusDown {
		t.Errorf("expected down after close, got %s", res.Status)
	}
}

func TestScanQueueCheck(t *testing.T) {
	st := scanqueue.Status{State: scanqueue.StateActive, Current: "chat", Queue: []string{"next"}}
	res := ScanQueueCheck(func() scanqueue.Status { return st })(context.Background())
	if res.Status != StatusUp {
		t.Errorf("expected up while active, got %s", res.Status)
	}
	if res.Details["current"] != "chat" || res.Details["queued"] != "1" {
		t.Errorf("unexpected details %v", res.Details)
	}

	st = scanqueue.Status{State: scanqueue.StateDraining}
	res = ScanQueueCheck(func() scanqueue.Status { return st })(context.Background())
	if res.Status != StatusDegraded {
		t.Errorf("expected degraded while draining, got %s", res.Status)
	}
}
