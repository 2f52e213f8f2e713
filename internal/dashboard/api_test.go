package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/efebarandurmaz/giftmap/internal/event"
	"github.com/efebarandurmaz/giftmap/internal/graph"
	"github.com/efebarandurmaz/giftmap/internal/observability"
	"github.com/efebarandurmaz/giftmap/internal/scanqueue"
	"github.com/efebarandurmaz/giftmap/internal/session"
	"github.com/efebarandurmaz/giftmap/internal/view"
)

type sliceStream struct{ events []event.Event }

func (s *sliceStream) Next(ctx context.Context) (event.Event, error) {
	if len(s.events) == 0 {
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }

type mapSource map[string][]event.Event

func (m mapSource) Open(ctx context.Context, target string) (scanqueue.Stream, error) {
	evs, ok := m[target]
	if !ok {
		return nil, fmt.Errorf("unknown target %s", target)
	}
	return &sliceStream{events: append([]event.Event{}, evs...)}, nil
}

type fakeRepo struct {
	stored map[string]graph.Snapshot
	err    error
}

func (r *fakeRepo) StoreSnapshot(ctx context.Context, sessionID string, snap graph.Snapshot) error {
	if r.err != nil {
		return r.err
	}
	r.stored[sessionID] = snap
	return nil
}

func (r *fakeRepo) CountSession(ctx context.Context, sessionID string) (int, int, error) {
	snap := r.stored[sessionID]
	return len(snap.Nodes), len(snap.Edges), nil
}

func (r *fakeRepo) Ping(ctx context.Context) error  { return nil }
func (r *fakeRepo) Close(ctx context.Context) error { return nil }

type fixture struct {
	sess   *session.Session
	store  *Store
	hub    *Hub
	server *Server
	ts     *httptest.Server
}

func newFixture(t *testing.T, repo graph.Repository) *fixture {
	t.Helper()
	store := NewStore()
	hub := NewHub()
	emitter := NewEmitter(store, hub)
	metrics := observability.NewEngineMetrics(prometheus.NewRegistry())

	src := mapSource{
		"giftdrops": {
			&event.AccountObserved{ID: "1", Username: "alice"},
			&event.ChannelLinksObserved{ID: "1", ChannelHandles: []string{"news"}},
			&event.GiftObserved{
				RecipientID:     "1",
				Gifts:           []event.Gift{{SenderID: "2"}, {SenderID: "2"}},
				ResolvedSenders: map[string]event.Identity{"2": {Username: "bob"}},
			},
		},
	}
	sess, err := session.New(session.Options{
		Source:   src,
		Config:   session.Config{SettleDelay: 10 * time.Millisecond, Autostart: true},
		Observer: emitter,
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	deps := Deps{Engine: sess, Store: store, Hub: hub, Metrics: metrics}
	if repo != nil {
		deps.Repository = repo
	}
	srv := NewServer(&Config{KeepAlive: time.Second}, deps)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop(context.Background())
		ts.Close()
	})
	return &fixture{sess: sess, store: store, hub: hub, server: srv, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (f *fixture) scan(t *testing.T) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/scan", `{"targets":["giftdrops"],"fresh":true}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.sess.Wait(ctx); err != nil {
		t.Fatalf("scan did not settle: %v", err)
	}
}

func TestAPI_ScanAndRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.scan(t)

	records := decode[[]view.EntityRecord](t, f.do(t, http.MethodGet, "/api/records", ""))
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	gifters := decode[[]view.EntityRecord](t, f.do(t, http.MethodGet, "/api/records?role=gifter", ""))
	if len(gifters) != 1 || gifters[0].Label != "@bob" {
		t.Errorf("Expected @bob as only gifter, got %+v", gifters)
	}

	bob := decode[view.EntityRecord](t, f.do(t, http.MethodGet, "/api/records/2", ""))
	if bob.ID != "u_2" || bob.TotalSent != 2 || bob.DiscoveredVia != "@alice" {
		t.Errorf("Unexpected record %+v", bob)
	}

	if resp := f.do(t, http.MethodGet, "/api/records/u_404", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	overview := decode[ScanOverview](t, f.do(t, http.MethodGet, "/api/scan", ""))
	if overview.SessionID != f.sess.ID() || len(overview.Runs) != 1 {
		t.Fatalf("Unexpected overview %+v", overview)
	}
	if run := overview.Runs[0]; run.Status != StatusCompleted || run.Applied != 3 {
		t.Errorf("Expected completed run with 3 applied, got %+v", run)
	}
}

func TestAPI_ScanValidation(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{`{"targets":[]}`, `{"targets":["  "]}`, `not json`} {
		if resp := f.do(t, http.MethodPost, "/api/scan", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for %s, got %d", body, resp.StatusCode)
		}
	}
	if resp := f.do(t, http.MethodDelete, "/api/scan/queue/nobody", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown pending target, got %d", resp.StatusCode)
	}
}

func TestAPI_GraphFormats(t *testing.T) {
	f := newFixture(t, nil)
	f.scan(t)

	resp := f.do(t, http.MethodGet, "/api/graph?format=dot", "")
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/vnd.graphviz") {
		t.Errorf("Unexpected content type %s", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), `"u_2" -> "u_1"`) {
		t.Errorf("Expected gift edge in DOT output:\n%s", body)
	}

	resp = f.do(t, http.MethodGet, "/api/graph", "")
	var doc struct {
		Nodes []json.RawMessage `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil || len(doc.Nodes) != 3 {
		t.Errorf("Expected 3 JSON nodes, got %d (%v)", len(doc.Nodes), err)
	}

	if resp := f.do(t, http.MethodGet, "/api/graph?format=png", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown format, got %d", resp.StatusCode)
	}
}

func TestAPI_Stats(t *testing.T) {
	f := newFixture(t, nil)
	f.scan(t)

	stats := decode[StatsResponse](t, f.do(t, http.MethodGet, "/api/stats", ""))
	if stats.Graph.GiftVolume != 2 || stats.Graph.Roles[view.RoleGifter] != 1 {
		t.Errorf("Unexpected graph stats %+v", stats.Graph)
	}
	if stats.Runs.Completed != 1 {
		t.Errorf("Expected 1 completed run, got %+v", stats.Runs)
	}
}

func TestAPI_Layout(t *testing.T) {
	f := newFixture(t, nil)

	if resp := f.do(t, http.MethodGet, "/api/layout/u_1", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 before put, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPut, "/api/layout/u_1", `{"x":1.5,"y":-2}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}
	pos := decode[map[string]float64](t, f.do(t, http.MethodGet, "/api/layout/u_1", ""))
	if pos["x"] != 1.5 || pos["y"] != -2 {
		t.Errorf("Unexpected position %v", pos)
	}

	f.do(t, http.MethodDelete, "/api/layout", "")
	if resp := f.do(t, http.MethodGet, "/api/layout/u_1", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after clear, got %d", resp.StatusCode)
	}
}

func TestAPI_ResetStartsNewSession(t *testing.T) {
	f := newFixture(t, nil)
	f.scan(t)
	old := f.sess.ID()

	overview := decode[ScanOverview](t, f.do(t, http.MethodPost, "/api/scan/reset", ""))
	if overview.SessionID == old {
		t.Error("Expected a new session id")
	}
	if len(overview.Runs) != 0 {
		t.Errorf("Expected no runs in the new session, got %d", len(overview.Runs))
	}
	if records := f.sess.Records(); len(records) != 0 {
		t.Errorf("Expected empty records, got %d", len(records))
	}
}

func TestAPI_Neo4jExport(t *testing.T) {
	f := newFixture(t, nil)
	if resp := f.do(t, http.MethodPost, "/api/export/neo4j", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without repository, got %d", resp.StatusCode)
	}

	repo := &fakeRepo{stored: map[string]graph.Snapshot{}}
	f = newFixture(t, repo)
	f.scan(t)
	out := decode[map[string]any](t, f.do(t, http.MethodPost, "/api/export/neo4j", ""))
	if out["nodes"] != float64(3) || out["relationships"] != float64(2) {
		t.Errorf("Unexpected export result %v", out)
	}
	if _, ok := repo.stored[f.sess.ID()]; !ok {
		t.Error("Expected snapshot stored under the session id")
	}

	repo.err = errors.New("connection refused")
	if resp := f.do(t, http.MethodPost, "/api/export/neo4j", ""); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502 on repository failure, got %d", resp.StatusCode)
	}
}

func TestAPI_Metrics(t *testing.T) {
	f := newFixture(t, nil)
	f.scan(t)

	body, _ := io.ReadAll(f.do(t, http.MethodGet, "/metrics", "").Body)
	if !strings.Contains(string(body), "giftmap_events_applied_total") {
		t.Errorf("Expected engine metrics in output")
	}
}

func TestAPI_EventStream(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/events", "")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event stream, got %s", ct)
	}
	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				lines <- data
			}
		}
		close(lines)
	}()

	nextType := func() string {
		select {
		case data, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("decode: %v", err)
			}
			return ev.Type
		case <-time.After(5 * time.Second):
			t.Fatal("no event received")
		}
		return ""
	}

	if typ := nextType(); typ != "connected" {
		t.Fatalf("Expected connected event, got %s", typ)
	}
	f.sess.Apply(context.Background(), &event.AccountObserved{ID: "9"})
	if typ := nextType(); typ != "view.updated" {
		t.Errorf("Expected view.updated, got %s", typ)
	}
}
