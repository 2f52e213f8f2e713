package export

import (
	"sort"

	"github.com/efebarandurmaz/giftmap/internal/graph"
	"github.com/efebarandurmaz/giftmap/internal/view"
)

// Build annotates snap with roles and computes its statistics.
func Build(snap graph.Snapshot) Graph {
	roles := view.Roles(snap)
	g := Graph{
		Nodes: make([]Node, 0, len(snap.Nodes)),
		Edges: append([]graph.Edge{}, snap.Edges...),
	}
	for _, n := range snap.Nodes {
		g.Nodes = append(g.Nodes, Node{Node: n, Role: roles[n.ID]})
	}
	g.Stats = computeStats(snap, roles)
	return g
}

func computeStats(snap graph.Snapshot, roles map[string]view.Role) Stats {
	st := Stats{
		Stats:      snap.Stats(),
		Roles:      map[view.Role]int{view.RoleTarget: 0, view.RoleGifter: 0, view.RoleDiscovered: 0},
		TopGifters: []Gifter{},
	}
	for _, r := range roles {
		st.Roles[r]++
	}

	sent := make(map[string]int)
	for _, e := range snap.Edges {
		if e.Kind == graph.EdgeGift {
			sent[e.From] += e.Weight
		}
	}
	for _, n := range snap.Nodes {
		if total := sent[n.ID]; total > 0 {
			st.TopGifters = append(st.TopGifters, Gifter{ID: n.ID, Label: n.Label, Sent: total})
		}
	}
	// Stable keeps creation order among equal totals.
	sort.SliceStable(st.TopGifters, func(i, j int) bool {
		return st.TopGifters[i].Sent > st.TopGifters[j].Sent
	})
	if len(st.TopGifters) > TopGifterLimit {
		st.TopGifters = st.TopGifters[:TopGifterLimit]
	}
	return st
}

// groupByRole buckets nodes by role, in roleOrder, preserving creation order.
func groupByRole(nodes []Node) [][]Node {
	groups := make([][]Node, len(roleOrder))
	for _, n := range nodes {
		for i, r := range roleOrder {
			if n.Role == r {
				groups[i] = append(groups[i], n)
				break
			}
		}
	}
	return groups
}

func clusterName(r view.Role) string {
	switch r {
	case view.RoleTarget:
		return "targets"
	case view.RoleGifter:
		return "gifters"
	case view.RoleDiscovered:
		return "discovered"
	}
	return "channels"
}
