package canvas

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultNewActionLabel = "Action Node"
	maxIDAttempts         = 16
)

// IDGenerator hands out candidate ids for new action nodes.
type IDGenerator interface {
	NextID() int64
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() int64

// NextID calls f.
func (f IDGeneratorFunc) NextID() int64 { return f() }

// TimestampIDs derives ids from the wall clock: milliseconds mod 1e9, offset
// by 100 so they never clash with the trigger's "1".
func TimestampIDs(now func() time.Time) IDGenerator {
	return IDGeneratorFunc(func() int64 {
		return now().UnixMilli()%1_000_000_000 + 100
	})
}

// Canvas owns a State and exposes the operations the editor performs on it.
// Nothing else should mutate the state directly.
type Canvas struct {
	state *State

	mu       sync.RWMutex
	defaults TriggerDefaults
	ids      IDGenerator
	logger   *zap.Logger
}

// Option configures a Canvas.
type Option func(*Canvas)

// WithTrigger sets the upstream trigger name and id used for the default
// trigger node and as decode fallbacks.
func WithTrigger(name string, ref int64) Option {
	return func(c *Canvas) { c.defaults = TriggerDefaults{Name: name, Ref: ref} }
}

// WithIDGenerator replaces the wall-clock id source for new action nodes.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Canvas) { c.ids = g }
}

// WithLogger sets the logger for collision and placement diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Canvas) { c.logger = l }
}

// New returns a canvas holding only the default trigger.
func New(opts ...Option) *Canvas {
	c := &Canvas{
		ids:    TimestampIDs(time.Now),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = NewState(DefaultGraph(c.defaults))
	return c
}

// State exposes the observable graph for rendering.
func (c *Canvas) State() *State { return c.state }

// Graph returns a copy of the current graph.
func (c *Canvas) Graph() Graph { return c.state.Graph() }

// Defaults returns the trigger defaults the canvas was built with.
func (c *Canvas) Defaults() TriggerDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults
}

// AddActionNode places a new action node built from a palette item.
// A colliding candidate id is bumped and retried; if no free id is found the
// graph is left untouched and ErrDuplicateNode is returned.
func (c *Canvas) AddActionNode(item PaletteItem, pos Position) (Node, error) {
	if item.ActionRef == 0 {
		c.logger.Debug("palette item has no action id", zap.String("label", item.Label))
		return Node{}, ErrMissingActionRef
	}

	label := item.Label
	if label == "" {
		label = defaultNewActionLabel
	}
	candidate := c.ids.NextID()

	var added Node
	ok := c.state.Update(func(g Graph) (Graph, bool) {
		for i := int64(0); i < maxIDAttempts; i++ {
			id := strconv.FormatInt(candidate+i, 10)
			if _, exists := g.Node(id); exists {
				c.logger.Debug("node id collision", zap.String("id", id))
				continue
			}
			added = Node{
				ID:            id,
				Kind:          KindAction,
				Position:      pos,
				Label:         label,
				ActionRef:     item.ActionRef,
				Configuration: item.Configuration,
			}
			g.Nodes = append(g.Nodes, added)
			return g, true
		}
		return g, false
	})
	if !ok {
		c.logger.Warn("prevented duplicate node creation",
			zap.Int64("candidate", candidate), zap.Int("attempts", maxIDAttempts))
		return Node{}, ErrDuplicateNode
	}
	return added, nil
}

// DeleteNode removes an action node and every edge touching it. The trigger
// node and unknown ids are left alone.
func (c *Canvas) DeleteNode(id string) bool {
	return c.state.Update(func(g Graph) (Graph, bool) {
		n, ok := g.Node(id)
		if !ok || n.IsTrigger() {
			return g, false
		}

		nodes := make([]Node, 0, len(g.Nodes)-1)
		for _, n := range g.Nodes {
			if n.ID != id {
				nodes = append(nodes, n)
			}
		}
		edges := make([]Edge, 0, len(g.Edges))
		for _, e := range g.Edges {
			if e.Source != id && e.Target != id {
				edges = append(edges, e)
			}
		}
		return Graph{Nodes: nodes, Edges: edges}, true
	})
}

// Connect adds the edge source -> target. Self-loops, duplicates and edges to
// unknown nodes are rejected without error.
func (c *Canvas) Connect(source, target string) (*Edge, bool) {
	if source == target {
		return nil, false
	}

	var edge Edge
	ok := c.state.Update(func(g Graph) (Graph, bool) {
		if g.HasEdge(source, target) {
			return g, false
		}
		if _, ok := g.Node(source); !ok {
			return g, false
		}
		if _, ok := g.Node(target); !ok {
			return g, false
		}
		edge = Edge{ID: EdgeID(source, target), Source: source, Target: target}
		g.Edges = append(g.Edges, edge)
		return g, true
	})
	if !ok {
		return nil, false
	}
	return &edge, true
}

// MoveNode records a drag of node id to pos.
func (c *Canvas) MoveNode(id string, pos Position) bool {
	return c.state.Update(func(g Graph) (Graph, bool) {
		for i := range g.Nodes {
			if g.Nodes[i].ID == id {
				if g.Nodes[i].Position == pos {
					return g, false
				}
				g.Nodes[i].Position = pos
				return g, true
			}
		}
		return g, false
	})
}

// UpdateTrigger applies new upstream trigger metadata to the trigger node.
func (c *Canvas) UpdateTrigger(name string, ref int64) bool {
	c.mu.Lock()
	if name != "" {
		c.defaults.Name = name
	}
	if ref != 0 {
		c.defaults.Ref = ref
	}
	c.mu.Unlock()

	return c.state.Update(func(g Graph) (Graph, bool) {
		for i := range g.Nodes {
			if !g.Nodes[i].IsTrigger() {
				continue
			}
			if name != "" {
				g.Nodes[i].Label = name
			}
			if ref != 0 {
				g.Nodes[i].TriggerRef = ref
			}
			return g, true
		}
		return g, false
	})
}

// ClearCanvas resets the graph to the default trigger with no edges.
func (c *Canvas) ClearCanvas() {
	c.state.Replace(DefaultGraph(c.Defaults()))
}

// GetCanvasData encodes the current graph for the server.
func (c *Canvas) GetCanvasData() *Payload {
	return Encode(c.state.Graph(), c.Defaults().Ref)
}

// LoadCanvas decodes p and replaces the graph with the result.
func (c *Canvas) LoadCanvas(p *Payload) Graph {
	g, _ := c.LoadCanvasIf(p, nil)
	return g
}

// LoadCanvasIf is LoadCanvas guarded by accept, which is consulted under the
// state lock right before the graph is replaced. When accept returns false
// the graph is left alone. Subscribers are notified after the lock is
// released.
func (c *Canvas) LoadCanvasIf(p *Payload, accept func() bool) (Graph, bool) {
	g := Decode(p, c.Defaults())
	ok := c.state.Update(func(Graph) (Graph, bool) {
		if accept != nil && !accept() {
			return Graph{}, false
		}
		return g, true
	})
	return g, ok
}

// Placement is a request to add a palette item to the canvas. A nil Position
// lets the canvas pick a spot below the existing actions.
type Placement struct {
	Item     PaletteItem
	Position *Position
}

// Listen adds a node for every placement received on ch until ctx is done or
// ch is closed. It is the channel the palette uses for tap-to-add on touch
// devices where drag and drop is unreliable.
func (c *Canvas) Listen(ctx context.Context, ch <-chan Placement) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			pos := c.nextPlacement()
			if p.Position != nil {
				pos = *p.Position
			}
			if _, err := c.AddActionNode(p.Item, pos); err != nil {
				c.logger.Warn("tap-to-add failed", zap.String("label", p.Item.Label), zap.Error(err))
			}
		}
	}
}

func (c *Canvas) nextPlacement() Position {
	actions := 0
	for _, n := range c.state.Nodes() {
		if !n.IsTrigger() {
			actions++
		}
	}
	return Position{X: actionPosition.X, Y: actionPosition.Y + float64(100*actions)}
}
