// Package canvas holds the in-memory model of a workflow canvas: one trigger
// node, any number of action nodes and the edges connecting them, plus the
// translation to and from the shape the workflow server persists.
package canvas

import "slices"

// NodeKind distinguishes the single trigger node from action nodes.
type NodeKind string

const (
	KindTrigger NodeKind = "trigger"
	KindAction  NodeKind = "action"
)

// Position is a layout coordinate in canvas pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Configuration is the action/trigger specific payload. The canvas never
// interprets it.
type Configuration map[string]any

// Node is a vertex of the workflow graph.
// TriggerRef is only meaningful on the trigger node, ActionRef only on action
// nodes; zero means unset.
type Node struct {
	ID            string        `json:"id"`
	Kind          NodeKind      `json:"type"`
	Position      Position      `json:"position"`
	Label         string        `json:"label"`
	TriggerRef    int64         `json:"trigger_id,omitempty"`
	ActionRef     int64         `json:"action_id,omitempty"`
	Configuration Configuration `json:"configuration,omitempty"`
}

// IsTrigger reports whether n is the trigger node.
func (n Node) IsTrigger() bool { return n.Kind == KindTrigger }

// Edge is a directed connection between two node IDs.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// EdgeID returns the conventional edge id for a source/target pair.
func EdgeID(source, target string) string {
	return "e" + source + "-" + target
}

// Graph is the aggregate state rendered by the canvas.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Clone returns a copy whose slices can be modified without affecting g.
// Configurations are shared; they are treated as immutable.
func (g Graph) Clone() Graph {
	return Graph{
		Nodes: slices.Clone(g.Nodes),
		Edges: slices.Clone(g.Edges),
	}
}

// Node returns the node with the given id.
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Trigger returns the trigger node, if the graph has one.
func (g Graph) Trigger() (Node, bool) {
	for _, n := range g.Nodes {
		if n.IsTrigger() {
			return n, true
		}
	}
	return Node{}, false
}

// HasEdge reports whether an edge source -> target exists.
func (g Graph) HasEdge(source, target string) bool {
	return slices.ContainsFunc(g.Edges, func(e Edge) bool {
		return e.Source == source && e.Target == target
	})
}

// PaletteItem is a draggable action template offered by the palette.
type PaletteItem struct {
	Label         string        `json:"label"`
	Type          NodeKind      `json:"type"`
	ActionRef     int64         `json:"action_id"`
	Configuration Configuration `json:"configuration,omitempty"`
}
