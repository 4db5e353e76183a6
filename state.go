package canvas

import "sync"

// State holds the current graph and notifies subscribers whenever it is
// replaced. All mutation is replace-all: callers hand in new node or edge
// slices, never edit the held ones in place.
type State struct {
	mu     sync.RWMutex
	graph  Graph
	nextID int
	subs   map[int]func(Graph)
}

// NewState returns a State holding a copy of g.
func NewState(g Graph) *State {
	return &State{
		graph: g.Clone(),
		subs:  make(map[int]func(Graph)),
	}
}

// Graph returns a copy of the current graph.
func (s *State) Graph() Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Clone()
}

// Nodes returns a copy of the current nodes.
func (s *State) Nodes() []Node { return s.Graph().Nodes }

// Edges returns a copy of the current edges.
func (s *State) Edges() []Edge { return s.Graph().Edges }

// SetNodes replaces the node slice.
func (s *State) SetNodes(nodes []Node) {
	s.Update(func(g Graph) (Graph, bool) {
		g.Nodes = nodes
		return g, true
	})
}

// SetEdges replaces the edge slice.
func (s *State) SetEdges(edges []Edge) {
	s.Update(func(g Graph) (Graph, bool) {
		g.Edges = edges
		return g, true
	})
}

// Replace swaps in a whole new graph.
func (s *State) Replace(g Graph) {
	s.Update(func(Graph) (Graph, bool) { return g, true })
}

// Update runs fn against a copy of the current graph and, if fn reports a
// change, stores its result and notifies subscribers. The read and the write
// happen under one lock so concurrent updates never interleave.
func (s *State) Update(fn func(Graph) (Graph, bool)) bool {
	s.mu.Lock()
	next, changed := fn(s.graph.Clone())
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.graph = next.Clone()
	snapshot := s.graph.Clone()
	subs := make([]func(Graph), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot.Clone())
	}
	return true
}

// Subscribe registers fn to be called with the new graph after every change.
// fn runs after the state lock is released, so it may read or update the
// state itself. The returned func removes the subscription.
func (s *State) Subscribe(fn func(Graph)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
