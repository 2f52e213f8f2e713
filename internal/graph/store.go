package graph

import (
	"fmt"

	"github.com/efebarandurmaz/giftmap/internal/event"
)

type edgeKey struct {
	kind     EdgeKind
	from, to string
}

// Store is the incremental merge of discovery events into one graph. Nodes
// and edges are only ever added or upgraded, never removed.
//
// Store is not safe for concurrent use; a single owner serialises Apply and
// hands out snapshots to readers.
type Store struct {
	nodes     map[string]*Node
	nodeOrder []string
	edges     map[edgeKey]*Edge
	edgeOrder []edgeKey
	stats     Stats
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		nodes: make(map[string]*Node),
		edges: make(map[edgeKey]*Edge),
	}
}

// Apply merges one event. Malformed events return an error wrapping
// event.ErrMalformed and leave the store untouched. Control events are
// accepted and ignored.
func (s *Store) Apply(ev event.Event) error {
	if err := event.Validate(ev); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	switch e := ev.(type) {
	case *event.AccountObserved:
		s.applyAccount(e)
	case *event.ChannelLinksObserved:
		s.applyLinks(e)
	case *event.GiftObserved:
		s.applyGifts(e)
	}
	return nil
}

func (s *Store) applyAccount(e *event.AccountObserved) {
	n := s.account(e.ID)

	label, q := AccountLabel(e.Username, e.FirstName, e.LastName)
	upgradeLabel(n, label, q)
	if n.Username == "" && e.Username != "" {
		n.Username = e.Username
	}
	if e.Bio != "" {
		n.Bio = e.Bio
	}
	if e.IsBot {
		n.Bot = true
	}

	if e.FoundViaID == "" || e.FoundViaID == e.ID {
		// Observed without a discoverer: part of the scan scope.
		if n.Provenance == "" {
			n.Pinned = true
		}
		return
	}
	via := s.account(e.FoundViaID)
	s.setProvenance(n, via.ID)
}

func (s *Store) applyLinks(e *event.ChannelLinksObserved) {
	acc := s.account(e.ID)
	for _, h := range e.ChannelHandles {
		h = event.CleanText(NormalizeHandle(h))
		if h == "" {
			continue
		}
		ch := s.channel(h)
		key := edgeKey{kind: EdgeMembership, from: acc.ID, to: ch.ID}
		if _, ok := s.edges[key]; !ok {
			s.addEdge(key, 1)
		}
	}
}

func (s *Store) applyGifts(e *event.GiftObserved) {
	recipient := s.account(e.RecipientID)
	for _, g := range e.Gifts {
		if g.SenderID == "" {
			continue
		}
		sender := s.account(g.SenderID)
		if sender.ID != recipient.ID {
			s.setProvenance(sender, recipient.ID)
		}
		// A resolved sender only replaces a placeholder label.
		if ident, ok := e.Sender(g.SenderID); ok && sender.LabelQuality == LabelPlaceholder {
			label, q := AccountLabel(ident.Username, ident.FirstName, ident.LastName)
			upgradeLabel(sender, label, q)
			if sender.Username == "" && ident.Username != "" {
				sender.Username = ident.Username
			}
		}

		key := edgeKey{kind: EdgeGift, from: sender.ID, to: recipient.ID}
		if edge, ok := s.edges[key]; ok {
			edge.Weight++
		} else {
			s.addEdge(key, 1)
		}
		s.stats.GiftVolume++
	}
}

// setProvenance records the first discoverer of an account that is not part
// of the scan scope.
func (s *Store) setProvenance(n *Node, via string) {
	if n.Pinned || n.Provenance != "" || via == n.ID {
		return
	}
	n.Provenance = via
}

func upgradeLabel(n *Node, label string, q LabelQuality) {
	if label != "" && q > n.LabelQuality {
		n.Label = label
		n.LabelQuality = q
	}
}

func (s *Store) account(raw event.ID) *Node {
	id := AccountID(raw)
	if n, ok := s.nodes[id]; ok {
		return n
	}
	n := &Node{
		ID:           id,
		Kind:         KindAccount,
		RawID:        string(raw),
		Label:        PlaceholderLabel(raw),
		LabelQuality: LabelPlaceholder,
	}
	s.addNode(n)
	return n
}

func (s *Store) channel(handle string) *Node {
	id := ChannelID(handle)
	if n, ok := s.nodes[id]; ok {
		return n
	}
	n := &Node{ID: id, Kind: KindChannel, RawID: handle, Label: handle}
	s.addNode(n)
	return n
}

func (s *Store) addNode(n *Node) {
	s.nodes[n.ID] = n
	s.nodeOrder = append(s.nodeOrder, n.ID)
	if n.Kind == KindAccount {
		s.stats.Accounts++
	} else {
		s.stats.Channels++
	}
}

func (s *Store) addEdge(key edgeKey, weight int) {
	s.edges[key] = &Edge{From: key.from, To: key.to, Kind: key.kind, Weight: weight}
	s.edgeOrder = append(s.edgeOrder, key)
	if key.kind == EdgeGift {
		s.stats.GiftEdges++
	} else {
		s.stats.Memberships++
	}
}

// Node returns a copy of the node with the given namespaced id.
func (s *Store) Node(id string) (Node, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Len returns the number of nodes and edges.
func (s *Store) Len() (nodes, edges int) {
	return len(s.nodeOrder), len(s.edgeOrder)
}

// Stats returns running totals without copying the graph.
func (s *Store) Stats() Stats {
	return s.stats
}

// Snapshot copies the current graph. The result shares nothing with the store.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Nodes: make([]Node, 0, len(s.nodeOrder)),
		Edges: make([]Edge, 0, len(s.edgeOrder)),
	}
	for _, id := range s.nodeOrder {
		snap.Nodes = append(snap.Nodes, *s.nodes[id])
	}
	for _, key := range s.edgeOrder {
		snap.Edges = append(snap.Edges, *s.edges[key])
	}
	return snap
}
