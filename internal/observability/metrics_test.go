package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEngineMetrics_RecordApply(t *testing.T) {
	m := NewEngineMetrics(prometheus.NewRegistry())

	m.RecordApply("gift-observed", time.Millisecond, nil)
	m.RecordApply("gift-observed", time.Millisecond, nil)
	m.RecordApply("account-observed", 0, errors.New("malformed"))

	if got := testutil.ToFloat64(m.EventsApplied.WithLabelValues("gift-observed")); got != 2 {
		t.Errorf("expected 2 applied, got %v", got)
	}
	if got := testutil.ToFloat64(m.EventsRejected.WithLabelValues("account-observed")); got != 1 {
		t.Errorf("expected 1 rejected, got %v", got)
	}
}

func TestEngineMetrics_GraphSizeAndScan(t *testing.T) {
	m := NewEngineMetrics(prometheus.NewRegistry())
	m.SetGraphSize(3, 1, 2, 4, 9)
	m.RecordScan(ScanStarted)
	m.RecordScan(ScanFaulted)
	m.SetQueueDepth(5)
	m.RecordExport("dot", nil)

	if got := testutil.ToFloat64(m.Nodes.WithLabelValues("account")); got != 3 {
		t.Errorf("expected 3 accounts, got %v", got)
	}
	if got := testutil.ToFloat64(m.GiftVolume); got != 9 {
		t.Errorf("expected gift volume 9, got %v", got)
	}
	if got := testutil.ToFloat64(m.ScanTransitions.WithLabelValues(ScanFaulted)); got != 1 {
		t.Errorf("expected 1 fault, got %v", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 5 {
		t.Errorf("expected queue depth 5, got %v", got)
	}
	if got := testutil.ToFloat64(m.Exports.WithLabelValues("dot", "ok")); got != 1 {
		t.Errorf("expected 1 export, got %v", got)
	}
}

func TestEngineMetrics_NilSafe(t *testing.T) {
	var m *EngineMetrics
	m.RecordApply("x", 0, nil)
	m.SetGraphSize(1, 1, 1, 1, 1)
	m.RecordScan(ScanStopped)
	m.SetQueueDepth(1)
	m.RecordExport("json", nil)
	if m.Registry() != nil {
		t.Error("expected nil registry")
	}
}

func TestEngineMetrics_Handler(t *testing.T) {
	m := NewEngineMetrics(nil)
	m.RecordScan(ScanCompleted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `giftmap_scan_transitions_total{transition="completed"} 1`) {
		t.Errorf("expected scan transition in exposition, got:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected Go runtime collectors on the default registry")
	}
}
