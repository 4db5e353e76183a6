package canvas

import (
	"math"
	"strconv"
	"strings"
)

const (
	defaultTriggerRef   = 1
	defaultTriggerLabel = "New Customer/Prospect (Manual)"
	defaultActionLabel  = "Action"
)

var (
	triggerPosition = Position{X: 300, Y: 50}
	actionPosition  = Position{X: 300, Y: 150}
)

// TriggerDefaults supplies the trigger fields used when the server data has
// none: the workflow's trigger name and id as known upstream.
type TriggerDefaults struct {
	Name string
	Ref  int64
}

// NewDefaultTrigger builds the placeholder trigger node every canvas starts
// with.
func NewDefaultTrigger(name string, triggerRef int64) Node {
	if name == "" {
		name = defaultTriggerLabel
	}
	if triggerRef == 0 {
		triggerRef = defaultTriggerRef
	}
	return Node{
		ID:         "1",
		Kind:       KindTrigger,
		Position:   triggerPosition,
		Label:      name,
		TriggerRef: triggerRef,
	}
}

// DefaultGraph is a graph holding only the default trigger.
func DefaultGraph(d TriggerDefaults) Graph {
	return Graph{Nodes: []Node{NewDefaultTrigger(d.Name, d.Ref)}, Edges: []Edge{}}
}

// Encode converts g to the server payload. fallbackRef is used when the
// trigger node has no trigger reference of its own.
func Encode(g Graph, fallbackRef int64) *Payload {
	triggerRef := fallbackRef
	if t, ok := g.Trigger(); ok && t.TriggerRef != 0 {
		triggerRef = t.TriggerRef
	}
	if triggerRef == 0 {
		triggerRef = defaultTriggerRef
	}

	actions := make([]ActionRecord, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		rec := ActionRecord{
			ID:            Int(numericID(n.ID)),
			Type:          string(n.Kind),
			Label:         n.Label,
			Configuration: configOrEmpty(n.Configuration),
			X:             Float(math.Round(n.Position.X)),
			Y:             Float(math.Round(n.Position.Y)),
		}
		if n.IsTrigger() {
			ref := n.TriggerRef
			if ref == 0 {
				ref = triggerRef
			}
			rec.TriggerID = Int(ref)
			if rec.Label == "" {
				rec.Label = "Trigger"
			}
		} else {
			if n.ActionRef != 0 {
				rec.ActionID = Int(n.ActionRef)
			}
			if rec.Label == "" {
				rec.Label = defaultActionLabel
			}
		}
		actions = append(actions, rec)
	}
	if len(actions) == 0 {
		actions = append(actions, ActionRecord{
			ID:            Int(1),
			Type:          string(KindTrigger),
			TriggerID:     Int(triggerRef),
			Label:         "Default Trigger",
			Configuration: Configuration{},
			X:             Float(triggerPosition.X),
			Y:             Float(triggerPosition.Y),
		})
	}

	connections := make([]ConnectionRecord, 0, len(g.Edges))
	for _, e := range g.Edges {
		connections = append(connections, ConnectionRecord{
			SourceNodeID: NodeRef(e.Source),
			TargetNodeID: NodeRef(e.Target),
		})
	}

	raw := g.Clone()
	return &Payload{
		Nodes:       raw.Nodes,
		Edges:       raw.Edges,
		Actions:     actions,
		Connections: connections,
		TriggerID:   Int(triggerRef),
	}
}

// Decode converts a server payload to a graph. Records that cannot form a
// valid node are skipped and connections whose endpoints are missing are
// dropped, so the result always satisfies the graph invariants.
func Decode(p *Payload, d TriggerDefaults) Graph {
	if p == nil {
		return DefaultGraph(d)
	}
	if t := p.Trigger; t != nil {
		if d.Name == "" {
			d.Name = t.Name
		}
		if d.Ref == 0 {
			d.Ref = t.ID
		}
	}

	triggerIdx := -1
	for i, rec := range p.Actions {
		if rec.Type == string(KindTrigger) {
			triggerIdx = i
			break
		}
	}

	var trigger Node
	if triggerIdx >= 0 {
		trigger = decodeTrigger(p.Actions[triggerIdx], p.TriggerID, d)
	} else {
		ref := d.Ref
		if ref == 0 && p.TriggerID.IsInteger() {
			ref = p.TriggerID.Int64()
		}
		trigger = NewDefaultTrigger(d.Name, ref)
	}

	nodes := []Node{trigger}
	seen := map[string]bool{trigger.ID: true}
	for i, rec := range p.Actions {
		if i == triggerIdx || rec.Type == string(KindTrigger) {
			continue
		}
		if !rec.ID.IsInteger() || !rec.ActionID.IsInteger() || rec.ActionID.Int64() == 0 {
			continue
		}
		id := rec.ID.String()
		if seen[id] {
			continue
		}
		seen[id] = true

		label := rec.Label
		if label == "" {
			label = defaultActionLabel
		}
		nodes = append(nodes, Node{
			ID:            id,
			Kind:          KindAction,
			Position:      positionOr(rec.X, rec.Y, actionPosition),
			Label:         label,
			ActionRef:     rec.ActionID.Int64(),
			Configuration: rec.Configuration,
		})
	}

	edges := []Edge{}
	g := Graph{Nodes: nodes}
	for _, c := range p.Connections {
		source, target := string(c.SourceNodeID), string(c.TargetNodeID)
		if source == target || !seen[source] || !seen[target] || g.HasEdge(source, target) {
			continue
		}
		edge := Edge{ID: EdgeID(source, target), Source: source, Target: target}
		edges = append(edges, edge)
		g.Edges = edges
	}

	return Graph{Nodes: nodes, Edges: edges}
}

func decodeTrigger(rec ActionRecord, payloadRef Number, d TriggerDefaults) Node {
	n := NewDefaultTrigger(d.Name, d.Ref)
	if rec.ID.IsInteger() {
		n.ID = rec.ID.String()
	}
	if rec.Label != "" {
		n.Label = rec.Label
	}
	switch {
	case rec.TriggerID.IsInteger():
		n.TriggerRef = rec.TriggerID.Int64()
	case payloadRef.IsInteger() && d.Ref == 0:
		n.TriggerRef = payloadRef.Int64()
	}
	n.Position = positionOr(rec.X, rec.Y, triggerPosition)
	n.Configuration = rec.Configuration
	return n
}

func positionOr(x, y Number, fallback Position) Position {
	if !x.Valid || !y.Valid {
		return fallback
	}
	return Position{X: x.Value, Y: y.Value}
}

func configOrEmpty(c Configuration) Configuration {
	if c == nil {
		return Configuration{}
	}
	return c
}

// numericID extracts the digits of a node id, falling back to 1.
func numericID(id string) int64 {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, id)
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 1
	}
	return v
}
