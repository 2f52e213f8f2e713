package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/efebarandurmaz/giftmap/internal/graph"
	"github.com/efebarandurmaz/giftmap/internal/view"
)

// Render builds snap and renders it in format f.
func Render(snap graph.Snapshot, f Format) ([]byte, error) {
	g := Build(snap)
	switch f {
	case FormatDOT:
		return []byte(ExportDOT(g)), nil
	case FormatMermaid:
		return []byte(ExportMermaid(g)), nil
	case FormatJSON, "":
		return ExportJSON(g)
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// ExportDOT generates a Graphviz DOT representation of the graph.
func ExportDOT(g Graph) string {
	var b strings.Builder
	b.WriteString("digraph giftmap {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	// One cluster per role
	for i, nodes := range groupByRole(g.Nodes) {
		if len(nodes) == 0 {
			continue
		}
		role := roleOrder[i]
		fmt.Fprintf(&b, "  subgraph cluster_%s {\n", clusterName(role))
		fmt.Fprintf(&b, "    label=\"%s\";\n", clusterName(role))
		b.WriteString("    style=dashed;\n")
		b.WriteString("    color=\"#58a6ff\";\n")
		for _, n := range nodes {
			fmt.Fprintf(&b, "    \"%s\" [label=\"%s\" shape=%s style=filled fillcolor=\"%s\"];\n",
				dotEscape(n.ID), dotEscape(n.Label), nodeShape(n), nodeColor(n))
		}
		b.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		label := ""
		if e.Kind == graph.EdgeGift {
			label = fmt.Sprintf(" label=\"x%d\"", e.Weight)
		}
		fmt.Fprintf(&b, "  \"%s\" -> \"%s\" [style=%s color=\"%s\"%s];\n",
			dotEscape(e.From), dotEscape(e.To), edgeStyle(e.Kind), edgeColor(e.Kind), label)
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid generates a Mermaid flowchart of the graph.
func ExportMermaid(g Graph) string {
	var b strings.Builder
	b.WriteString("graph LR\n")
	ids := mermaidIDs(g.Nodes)

	for i, nodes := range groupByRole(g.Nodes) {
		if len(nodes) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  subgraph %s\n", clusterName(roleOrder[i]))
		for _, n := range nodes {
			fmt.Fprintf(&b, "    %s%s\n", ids.get(n.ID), mermaidNodeShape(n))
		}
		b.WriteString("  end\n")
	}

	for _, e := range g.Edges {
		label := ""
		if e.Kind == graph.EdgeGift {
			label = fmt.Sprintf("|x%d|", e.Weight)
		}
		fmt.Fprintf(&b, "  %s %s%s %s\n",
			ids.get(e.From), mermaidArrow(e.Kind), label, ids.get(e.To))
	}

	return b.String()
}

// ExportJSON serializes the graph to JSON.
func ExportJSON(g Graph) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// FormatStats returns a human-readable summary of graph statistics.
func FormatStats(st Stats) string {
	var b strings.Builder
	b.WriteString("Gift Graph Statistics\n")
	b.WriteString("=====================\n\n")
	fmt.Fprintf(&b, "Accounts:     %d\n", st.Accounts)
	fmt.Fprintf(&b, "  Targets:    %d\n", st.Roles[view.RoleTarget])
	fmt.Fprintf(&b, "  Gifters:    %d\n", st.Roles[view.RoleGifter])
	fmt.Fprintf(&b, "  Discovered: %d\n", st.Roles[view.RoleDiscovered])
	fmt.Fprintf(&b, "Channels:     %d\n", st.Channels)
	fmt.Fprintf(&b, "Memberships:  %d\n", st.Memberships)
	fmt.Fprintf(&b, "Gift edges:   %d\n", st.GiftEdges)
	fmt.Fprintf(&b, "Gift volume:  %d\n", st.GiftVolume)

	if len(st.TopGifters) > 0 {
		b.WriteString("\nTop Gifters:\n")
		for i, g := range st.TopGifters {
			fmt.Fprintf(&b, "  %d. %s (%s): %d sent\n", i+1, g.Label, g.ID, g.Sent)
		}
	}

	return b.String()
}

type idMap map[string]string

func (m idMap) get(id string) string {
	if v, ok := m[id]; ok {
		return v
	}
	return sanitizeID(id)
}

// mermaidIDs assigns each node a unique Mermaid identifier. Ids that are
// already valid keep their form; rewritten ids such as "c_foo.io" get a
// numeric suffix when they would clash with another node.
func mermaidIDs(nodes []Node) idMap {
	m := make(idMap, len(nodes))
	used := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if sanitizeID(n.ID) == n.ID {
			m[n.ID] = n.ID
			used[n.ID] = true
		}
	}
	for _, n := range nodes {
		if _, ok := m[n.ID]; ok {
			continue
		}
		id := sanitizeID(n.ID)
		for i := 1; used[id]; i++ {
			id = fmt.Sprintf("%s_%d", sanitizeID(n.ID), i)
		}
		m[n.ID] = id
		used[id] = true
	}
	return m
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

var dotReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func dotEscape(s string) string { return dotReplacer.Replace(s) }

var mermaidReplacer = strings.NewReplacer(`"`, "#quot;", "\n", " ")

func nodeShape(n Node) string {
	switch n.Role {
	case view.RoleTarget:
		return "doubleoctagon"
	case view.RoleGifter:
		return "box"
	case view.RoleDiscovered:
		return "ellipse"
	default:
		return "folder"
	}
}

func nodeColor(n Node) string {
	if n.Kind == graph.KindAccount && n.Bot {
		return "#30363d"
	}
	switch n.Role {
	case view.RoleTarget:
		return "#1f6feb"
	case view.RoleGifter:
		return "#d29922"
	case view.RoleDiscovered:
		return "#238636"
	default:
		return "#8957e5"
	}
}

func edgeStyle(kind graph.EdgeKind) string {
	if kind == graph.EdgeMembership {
		return "dashed"
	}
	return "bold"
}

func edgeColor(kind graph.EdgeKind) string {
	if kind == graph.EdgeMembership {
		return "#8b949e"
	}
	return "#f85149"
}

func mermaidNodeShape(n Node) string {
	label := mermaidReplacer.Replace(n.Label)
	switch n.Role {
	case view.RoleTarget:
		return fmt.Sprintf("[[\"%s\"]]", label)
	case view.RoleGifter:
		return fmt.Sprintf("{\"%s\"}", label)
	case view.RoleDiscovered:
		return fmt.Sprintf("([\"%s\"])", label)
	default:
		return fmt.Sprintf("[/\"%s\"/]", label)
	}
}

func mermaidArrow(kind graph.EdgeKind) string {
	if kind == graph.EdgeMembership {
		return "-.->"
	}
	return "==>"
}
