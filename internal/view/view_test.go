package view

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/efebarandurmaz/giftmap/internal/event"
	"github.com/efebarandurmaz/giftmap/internal/graph"
)

func build(t *testing.T, evs ...event.Event) graph.Snapshot {
	t.Helper()
	s := graph.NewStore()
	for _, ev := range evs {
		if err := s.Apply(ev); err != nil {
			t.Fatalf("apply %s: %v", ev.Kind(), err)
		}
	}
	return s.Snapshot()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		node graph.Node
		sent bool
		want Role
	}{
		{"target", graph.Node{Kind: graph.KindAccount}, false, RoleTarget},
		{"target with gifts", graph.Node{Kind: graph.KindAccount}, true, RoleTarget},
		{"discovered", graph.Node{Kind: graph.KindAccount, Provenance: "u_1"}, false, RoleDiscovered},
		{"gifter", graph.Node{Kind: graph.KindAccount, Provenance: "u_1"}, true, RoleGifter},
		{"channel", graph.Node{Kind: graph.KindChannel}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.node, tt.sent); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestProject_ColdStart(t *testing.T) {
	records := Project(build(t, &event.AccountObserved{ID: "1", Username: "alice"}))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.ID != "u_1" || r.Label != "@alice" || r.Role != RoleTarget {
		t.Errorf("unexpected record %+v", r)
	}
	if r.Channels == nil || len(r.Channels) != 0 {
		t.Errorf("expected empty channel list, got %#v", r.Channels)
	}
	if r.TotalSent != 0 || r.TotalReceived != 0 {
		t.Errorf("expected zero totals, got %d/%d", r.TotalSent, r.TotalReceived)
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"u_1","label":"@alice","role":"target","channels":[],"gifts_sent":[],"gifts_received":[],"total_sent":0,"total_received":0}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestProject_DiscoveryChain(t *testing.T) {
	records := Project(build(t,
		&event.AccountObserved{ID: "1"},
		&event.GiftObserved{
			RecipientID:     "1",
			Gifts:           []event.Gift{{SenderID: "2"}},
			ResolvedSenders: map[string]event.Identity{"2": {Username: "bob"}},
		},
	))

	target, ok := Find(records, "u_1")
	if !ok {
		t.Fatal("expected record u_1")
	}
	bob, ok := Find(records, "u_2")
	if !ok {
		t.Fatal("expected record u_2")
	}
	if bob.Label != "@bob" {
		t.Errorf("expected label @bob, got %q", bob.Label)
	}
	if bob.Role != RoleGifter {
		t.Errorf("expected gifter, got %s", bob.Role)
	}
	if bob.DiscoveredVia != "User 1" || bob.DiscoveredViaID != "u_1" {
		t.Errorf("expected discovered via User 1, got %q (%q)", bob.DiscoveredVia, bob.DiscoveredViaID)
	}
	if bob.TotalSent != 1 || target.TotalReceived != 1 {
		t.Errorf("expected totals 1/1, got %d/%d", bob.TotalSent, target.TotalReceived)
	}
	want := []GiftTally{{Counterpart: "@bob", CounterpartID: "u_2", Count: 1}}
	if !reflect.DeepEqual(target.GiftsReceived, want) {
		t.Errorf("expected %+v, got %+v", want, target.GiftsReceived)
	}
}

func TestProject_GiftAccumulationTotals(t *testing.T) {
	gift := &event.GiftObserved{RecipientID: "R", Gifts: []event.Gift{{SenderID: "S"}}}
	records := Project(build(t, gift, gift, gift))

	s, _ := Find(records, "u_S")
	r, _ := Find(records, "u_R")
	if s.TotalSent != 3 || r.TotalReceived != 3 {
		t.Errorf("expected totals 3/3, got %d/%d", s.TotalSent, r.TotalReceived)
	}
	if len(s.GiftsSent) != 1 || s.GiftsSent[0].Count != 3 {
		t.Errorf("expected one tally of 3, got %+v", s.GiftsSent)
	}
}

func TestProject_RolePrecedenceIndependentOfOrder(t *testing.T) {
	discovered := &event.AccountObserved{ID: "2", FoundViaID: "1"}
	sends := &event.GiftObserved{RecipientID: "3", Gifts: []event.Gift{{SenderID: "2"}}}

	orders := [][]event.Event{
		{discovered, sends},
		{sends, discovered},
	}
	for i, evs := range orders {
		rec, ok := Find(Project(build(t, evs...)), "u_2")
		if !ok {
			t.Fatalf("order %d: expected record u_2", i)
		}
		if rec.Role != RoleGifter {
			t.Errorf("order %d: expected gifter, got %s", i, rec.Role)
		}
	}
}

func TestProject_ChannelsInEdgeOrder(t *testing.T) {
	records := Project(build(t,
		&event.ChannelLinksObserved{ID: "1", ChannelHandles: []string{"zeta", "alpha"}},
		&event.ChannelLinksObserved{ID: "1", ChannelHandles: []string{"mid", "zeta"}},
	))
	if len(records) != 1 {
		t.Fatalf("expected channels not to be emitted as records, got %d records", len(records))
	}
	want := []string{"zeta", "alpha", "mid"}
	if !reflect.DeepEqual(records[0].Channels, want) {
		t.Errorf("expected %v, got %v", want, records[0].Channels)
	}
}

func TestProject_Deterministic(t *testing.T) {
	snap := build(t,
		&event.AccountObserved{ID: "1", Username: "alice"},
		&event.ChannelLinksObserved{ID: "1", ChannelHandles: []string{"news"}},
		&event.GiftObserved{RecipientID: "1", Gifts: []event.Gift{{SenderID: "2"}, {SenderID: "3"}, {SenderID: "2"}}},
		&event.GiftObserved{RecipientID: "2", Gifts: []event.Gift{{SenderID: "3"}}},
	)

	first, err := json.Marshal(Project(snap))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(Project(snap))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("expected identical output on run %d", i)
		}
	}
}

func TestRoles(t *testing.T) {
	roles := Roles(build(t,
		&event.AccountObserved{ID: "1"},
		&event.ChannelLinksObserved{ID: "1", ChannelHandles: []string{"news"}},
		&event.GiftObserved{RecipientID: "1", Gifts: []event.Gift{{SenderID: "2"}}},
		&event.AccountObserved{ID: "3", FoundViaID: "2"},
	))
	want := map[string]Role{"u_1": RoleTarget, "u_2": RoleGifter, "u_3": RoleDiscovered}
	if !reflect.DeepEqual(roles, want) {
		t.Errorf("expected %v, got %v", want, roles)
	}
}
