package canvas

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_ReplaceNotifies(t *testing.T) {
	s := NewState(DefaultGraph(TriggerDefaults{}))

	var got []Graph
	cancel := s.Subscribe(func(g Graph) { got = append(got, g) })

	s.SetEdges([]Edge{{ID: "e1-2", Source: "1", Target: "2"}})
	s.SetNodes(nil)
	require.Len(t, got, 2)
	assert.Len(t, got[0].Edges, 1)
	assert.Empty(t, got[1].Nodes)

	cancel()
	s.Replace(Graph{})
	assert.Len(t, got, 2)
}

func TestState_UnchangedUpdateIsSilent(t *testing.T) {
	s := NewState(Graph{})
	calls := 0
	s.Subscribe(func(Graph) { calls++ })

	changed := s.Update(func(g Graph) (Graph, bool) { return g, false })
	assert.False(t, changed)
	assert.Zero(t, calls)
}

func TestState_ReturnsCopies(t *testing.T) {
	s := NewState(DefaultGraph(TriggerDefaults{}))

	nodes := s.Nodes()
	nodes[0].Label = "mutated"

	assert.NotEqual(t, "mutated", s.Nodes()[0].Label)
}

func TestState_ConcurrentUpdates(t *testing.T) {
	s := NewState(Graph{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(g Graph) (Graph, bool) {
				g.Edges = append(g.Edges, Edge{})
				return g, true
			})
		}()
	}
	wg.Wait()

	assert.Len(t, s.Edges(), 50)
}
