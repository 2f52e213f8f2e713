// Package view derives per-account records from a graph snapshot.
package view

import "github.com/efebarandurmaz/giftmap/internal/graph"

// Role is the derived classification of an account.
type Role string

const (
	RoleTarget     Role = "target"
	RoleDiscovered Role = "discovered"
	RoleGifter     Role = "gifter"
)

// Classify derives an account's role from its provenance and whether it has
// sent at least one observed gift. Accounts without provenance are targets
// regardless of their edges. Channels have no role.
func Classify(n graph.Node, sentGifts bool) Role {
	if n.Kind != graph.KindAccount {
		return ""
	}
	switch {
	case n.Provenance == "":
		return RoleTarget
	case sentGifts:
		return RoleGifter
	default:
		return RoleDiscovered
	}
}

// Roles classifies every account in snap.
func Roles(snap graph.Snapshot) map[string]Role {
	senders := make(map[string]bool)
	for _, e := range snap.Edges {
		if e.Kind == graph.EdgeGift {
			senders[e.From] = true
		}
	}
	roles := make(map[string]Role)
	for _, n := range snap.Nodes {
		if n.Kind == graph.KindAccount {
			roles[n.ID] = Classify(n, senders[n.ID])
		}
	}
	return roles
}
