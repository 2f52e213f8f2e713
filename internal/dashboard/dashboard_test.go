package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/efebarandurmaz/giftmap/internal/event"
	"github.com/efebarandurmaz/giftmap/internal/graph"
)

func TestStore_CreateAndGetRun(t *testing.T) {
	store := NewStore()

	store.CreateRun(&ScanRun{
		ID:        "run-1",
		SessionID: "s1",
		Target:    "giftdrops",
		Status:    StatusRunning,
		StartedAt: time.Now(),
	})

	retrieved, ok := store.GetRun("run-1")
	if !ok {
		t.Fatal("Expected to retrieve run, got not found")
	}
	if retrieved.Target != "giftdrops" {
		t.Errorf("Expected target giftdrops, got %s", retrieved.Target)
	}

	retrieved.Status = StatusFailed
	again, _ := store.GetRun("run-1")
	if again.Status != StatusRunning {
		t.Error("Expected GetRun to return a copy")
	}
}

func TestStore_ListRunsBySession(t *testing.T) {
	store := NewStore()
	now := time.Now()

	store.CreateRun(&ScanRun{ID: "a", SessionID: "s1", StartedAt: now.Add(-2 * time.Hour)})
	store.CreateRun(&ScanRun{ID: "b", SessionID: "s1", StartedAt: now})
	store.CreateRun(&ScanRun{ID: "c", SessionID: "s2", StartedAt: now.Add(-1 * time.Hour)})

	runs := store.ListRuns("s1")
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "b" || runs[1].ID != "a" {
		t.Errorf("Expected most recent first, got %s, %s", runs[0].ID, runs[1].ID)
	}
	if all := store.ListRuns(""); len(all) != 3 {
		t.Errorf("Expected 3 runs overall, got %d", len(all))
	}
}

func TestStore_UpdateRun(t *testing.T) {
	store := NewStore()
	store.CreateRun(&ScanRun{ID: "run-1", Status: StatusRunning})

	updated, ok := store.UpdateRun("run-1", func(r *ScanRun) {
		r.Status = StatusCompleted
		r.Applied = 42
	})
	if !ok || updated.Status != StatusCompleted || updated.Applied != 42 {
		t.Errorf("Expected completed run with 42 applied, got %+v", updated)
	}

	if _, ok := store.UpdateRun("non-existent", func(r *ScanRun) {}); ok {
		t.Error("Expected update of unknown run to report false")
	}
}

func TestStore_RunStats(t *testing.T) {
	store := NewStore()
	store.CreateRun(&ScanRun{ID: "1", SessionID: "s", Status: StatusCompleted, Applied: 10, Rejected: 1})
	store.CreateRun(&ScanRun{ID: "2", SessionID: "s", Status: StatusFailed, Applied: 3})
	store.CreateRun(&ScanRun{ID: "3", SessionID: "s", Status: StatusRunning})
	store.CreateRun(&ScanRun{ID: "4", SessionID: "other", Status: StatusStopped})

	stats := store.RunStats("s")
	want := RunStats{Total: 3, Running: 1, Completed: 1, Failed: 1, Applied: 13, Rejected: 1}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}
}

func TestStore_AddAndGetLogs(t *testing.T) {
	store := NewStore()
	for i := 0; i < 5; i++ {
		store.AddLog(LogEntry{SessionID: "s1", Message: fmt.Sprintf("msg %d", i)})
	}
	store.AddLog(LogEntry{SessionID: "s2", Message: "other"})

	logs := store.GetLogs("s1", 3)
	if len(logs) != 3 {
		t.Fatalf("Expected 3 logs, got %d", len(logs))
	}
	if logs[0].Message != "msg 4" {
		t.Errorf("Expected most recent first, got %s", logs[0].Message)
	}
	if none := store.GetLogs("missing", 10); none == nil || len(none) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", none)
	}
}

func TestStore_Eviction(t *testing.T) {
	store := NewStore()
	now := time.Now()

	for i := 0; i < maxRuns+5; i++ {
		done := now.Add(time.Duration(-i) * time.Minute)
		store.CreateRun(&ScanRun{
			ID:          fmt.Sprintf("run-%d", i),
			Status:      StatusCompleted,
			StartedAt:   done.Add(-time.Minute),
			CompletedAt: &done,
		})
	}
	store.CreateRun(&ScanRun{ID: "live", Status: StatusRunning, StartedAt: now})

	if n := len(store.ListRuns("")); n != maxRuns {
		t.Errorf("Expected %d runs after eviction, got %d", maxRuns, n)
	}
	if _, ok := store.GetRun("live"); !ok {
		t.Error("Expected running run to survive eviction")
	}
	if _, ok := store.GetRun("run-0"); !ok {
		t.Error("Expected most recent finished run to survive eviction")
	}
}

type testClient struct {
	*Client
}

func registerClient(hub *Hub) testClient {
	c := &Client{events: make(chan []byte, clientBuffer), done: make(chan struct{})}
	hub.Register(c)
	return testClient{c}
}

func (c testClient) next(t *testing.T) Event {
	t.Helper()
	select {
	case data := <-c.events:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("Expected an event")
	}
	return Event{}
}

func TestEmitter_ScanLifecycle(t *testing.T) {
	store := NewStore()
	hub := NewHub()
	client := registerClient(hub)
	emitter := NewEmitter(store, hub)

	emitter.ScanStarted("s1", "alpha")
	emitter.EventApplied("s1", "alpha", event.KindAccountObserved, nil)
	emitter.EventApplied("s1", "alpha", event.KindGiftObserved, nil)
	emitter.EventApplied("s1", "alpha", event.KindAccountObserved, errors.New("missing id"))
	emitter.ViewUpdated("s1", 2, graph.Stats{Accounts: 2})
	emitter.ScanCompleted("s1", "alpha")
	emitter.QueueDrained("s1")

	runs := store.ListRuns("s1")
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != StatusCompleted || run.Applied != 2 || run.Rejected != 1 || run.CompletedAt == nil {
		t.Errorf("Unexpected run %+v", run)
	}

	var types []string
	for i := 0; i < 5; i++ {
		types = append(types, client.next(t).Type)
	}
	want := []string{"scan.started", "log", "view.updated", "scan.completed", "scan.idle"}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Expected event %d to be %s, got %s", i, want[i], types[i])
		}
	}
	if logs := store.GetLogs("s1", 0); len(logs) != 1 || logs[0].Level != "warn" {
		t.Errorf("Expected one warn log, got %+v", logs)
	}
}

func TestEmitter_FailureAndStop(t *testing.T) {
	store := NewStore()
	emitter := NewEmitter(store, NewHub())

	emitter.ScanStarted("s1", "bad")
	emitter.ScanFailed("s1", "bad", errors.New("flood wait"))
	emitter.ScanStarted("s1", "slow")
	emitter.ScanStopped("s1", "slow", []string{"next"})
	// Unknown runs are ignored.
	emitter.ScanCompleted("s1", "never-started")

	byTarget := map[string]ScanRun{}
	for _, r := range store.ListRuns("s1") {
		byTarget[r.Target] = r
	}
	if r := byTarget["bad"]; r.Status != StatusFailed || r.Error != "flood wait" {
		t.Errorf("Expected failed run with error, got %+v", r)
	}
	if r := byTarget["slow"]; r.Status != StatusStopped {
		t.Errorf("Expected stopped run, got %+v", r)
	}
	if len(byTarget) != 2 {
		t.Errorf("Expected 2 runs, got %d", len(byTarget))
	}
}

func TestHub_FullClientDoesNotBlock(t *testing.T) {
	hub := NewHub()
	client := registerClient(hub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer*2; i++ {
			hub.Broadcast(&Event{Type: "log"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected broadcast to skip a full client")
	}
	if len(client.events) != clientBuffer {
		t.Errorf("Expected full buffer, got %d", len(client.events))
	}

	hub.Unregister(client.Client)
	if hub.Len() != 0 {
		t.Error("Expected client to be removed")
	}
	hub.Unregister(client.Client)
}
