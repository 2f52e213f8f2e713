package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/efebarandurmaz/giftmap/internal/event"
	"github.com/efebarandurmaz/giftmap/internal/graph"
)

func TestRecorder_Lifecycle(t *testing.T) {
	r := New("jsonl")
	r.SessionReset("", "s1")
	r.ScanStarted("s1", "alpha")
	r.EventApplied("s1", "alpha", event.KindAccountObserved, nil)
	r.EventApplied("s1", "alpha", event.KindGiftObserved, nil)
	r.ScanCompleted("s1", "alpha")
	r.ScanStarted("s1", "beta")
	r.EventApplied("s1", "beta", event.KindAccountObserved, errors.New("missing id"))
	r.ScanFailed("s1", "beta", errors.New("flood wait"))
	r.ScanStarted("s1", "gamma")
	r.ScanStopped("s1", "gamma", []string{"delta"})

	store := graph.NewStore()
	store.Apply(&event.AccountObserved{ID: "1"})
	store.Apply(&event.GiftObserved{RecipientID: "1", Gifts: []event.Gift{{SenderID: "2"}}})
	rep := r.Finish(store.Snapshot())

	if rep.SessionID != "s1" || rep.Source != "jsonl" {
		t.Errorf("unexpected header %+v", rep)
	}
	want := map[string]string{"alpha": "completed", "beta": "failed", "gamma": "stopped", "delta": "dropped"}
	if len(rep.Targets) != len(want) {
		t.Fatalf("expected %d targets, got %d", len(want), len(rep.Targets))
	}
	for _, tr := range rep.Targets {
		if tr.Status != want[tr.Target] {
			t.Errorf("expected %s to be %s, got %s", tr.Target, want[tr.Target], tr.Status)
		}
	}
	if rep.Targets[0].Applied != 2 || rep.Targets[1].Rejected != 1 {
		t.Errorf("unexpected counts %+v", rep.Targets)
	}
	if len(rep.Errors) != 1 || !strings.Contains(rep.Errors[0], "flood wait") {
		t.Errorf("expected the fault in errors, got %v", rep.Errors)
	}
	if rep.Graph.Accounts != 2 || rep.Graph.GiftVolume != 1 {
		t.Errorf("unexpected graph stats %+v", rep.Graph)
	}
}

func TestScanReport_Output(t *testing.T) {
	r := New("ws")
	r.ScanStarted("s1", "alpha")
	r.ScanCompleted("s1", "alpha")
	rep := r.Finish(graph.Snapshot{})

	var buf bytes.Buffer
	rep.PrintSummary(&buf)
	for _, want := range []string{"GIFTMAP SCAN REPORT", "alpha", "completed"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected summary to contain %q:\n%s", want, buf.String())
		}
	}

	data, err := rep.JSON()
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded ScanReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Targets) != 1 || decoded.Targets[0].Status != "completed" {
		t.Errorf("unexpected decoded targets %+v", decoded.Targets)
	}
}
