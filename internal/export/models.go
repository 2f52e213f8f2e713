// Package export renders a relationship graph as JSON, Graphviz DOT or
// Mermaid, and summarises it.
package export

import (
	"fmt"
	"strings"

	"github.com/efebarandurmaz/giftmap/internal/graph"
	"github.com/efebarandurmaz/giftmap/internal/view"
)

// Format is a graph rendering format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatDOT     Format = "dot"
	FormatMermaid Format = "mermaid"
)

// ParseFormat accepts a format name case-insensitively. An empty name is JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatDOT, FormatMermaid:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType is the HTTP media type of a rendered graph.
func (f Format) ContentType() string {
	switch f {
	case FormatDOT:
		return "text/vnd.graphviz; charset=utf-8"
	case FormatMermaid:
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

// Node is a graph node annotated with its derived role.
type Node struct {
	graph.Node
	Role view.Role `json:"role,omitempty"`
}

// Gifter is an account ranked by the gifts it sent.
type Gifter struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Sent  int    `json:"sent"`
}

// Stats extends the graph totals with role counts and the top gifters.
type Stats struct {
	graph.Stats
	Roles      map[view.Role]int `json:"roles"`
	TopGifters []Gifter          `json:"top_gifters"`
}

// Graph is the exported document.
type Graph struct {
	Nodes []Node       `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
	Stats Stats        `json:"stats"`
}

// TopGifterLimit caps Stats.TopGifters.
const TopGifterLimit = 5

// roleOrder fixes the order clusters are rendered in. Channels use the empty role.
var roleOrder = []view.Role{view.RoleTarget, view.RoleGifter, view.RoleDiscovered, ""}
