// Package graph holds the relationship graph built from discovery events.
package graph

import (
	"strings"

	"github.com/efebarandurmaz/giftmap/internal/event"
)

// NodeKind distinguishes accounts from channels.
type NodeKind string

const (
	KindAccount NodeKind = "account"
	KindChannel NodeKind = "channel"
)

// EdgeKind distinguishes membership links from gift transfers.
type EdgeKind string

const (
	EdgeMembership EdgeKind = "membership"
	EdgeGift       EdgeKind = "gift"
)

// LabelQuality orders how informative a display label is.
type LabelQuality int

const (
	LabelPlaceholder LabelQuality = iota
	LabelName
	LabelUsername
)

// Node is an account or a channel. Channels only use ID, Kind, RawID and Label.
type Node struct {
	ID           string       `json:"id"`
	Kind         NodeKind     `json:"kind"`
	RawID        string       `json:"raw_id"`
	Label        string       `json:"label"`
	LabelQuality LabelQuality `json:"label_quality"`
	Username     string       `json:"username,omitempty"`
	Bio          string       `json:"bio,omitempty"`
	Bot          bool         `json:"bot,omitempty"`
	// Provenance is the node id of the account that led to this one.
	Provenance string `json:"provenance,omitempty"`
	// Pinned marks an account observed as part of the scan scope; it never
	// acquires provenance afterwards.
	Pinned bool `json:"pinned,omitempty"`
}

// Edge is a directed relationship. Weight is 1 for membership edges and the
// cumulative transfer count for gift edges.
type Edge struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Kind   EdgeKind `json:"kind"`
	Weight int      `json:"weight"`
}

// Snapshot is an immutable copy of the graph with nodes and edges in
// creation order.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Stats summarises a graph.
type Stats struct {
	Accounts    int `json:"accounts"`
	Channels    int `json:"channels"`
	Memberships int `json:"memberships"`
	GiftEdges   int `json:"gift_edges"`
	GiftVolume  int `json:"gift_volume"`
}

// Stats counts the snapshot's nodes and edges.
func (s Snapshot) Stats() Stats {
	var st Stats
	for _, n := range s.Nodes {
		if n.Kind == KindAccount {
			st.Accounts++
		} else {
			st.Channels++
		}
	}
	for _, e := range s.Edges {
		if e.Kind == EdgeGift {
			st.GiftEdges++
			st.GiftVolume += e.Weight
		} else {
			st.Memberships++
		}
	}
	return st
}

// AccountID namespaces a platform account id.
func AccountID(raw event.ID) string { return "u_" + string(raw) }

// ChannelID namespaces a channel handle.
func ChannelID(handle string) string { return "c_" + handle }

// PlaceholderLabel is the label of an account nothing is known about yet.
func PlaceholderLabel(raw event.ID) string { return "User " + string(raw) }

// AccountLabel picks the best label the given identity supports.
func AccountLabel(username, firstName, lastName string) (string, LabelQuality) {
	if username != "" {
		return "@" + strings.TrimPrefix(username, "@"), LabelUsername
	}
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name != "" {
		return name, LabelName
	}
	return "", LabelPlaceholder
}

// NormalizeHandle trims a channel handle to its bare form.
func NormalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}
