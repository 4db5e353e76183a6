package canvas

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedIDs returns ids from a counter so tests can predict them.
func fixedIDs(start int64) IDGenerator {
	next := start
	return IDGeneratorFunc(func() int64 {
		id := next
		next++
		return id
	})
}

func newTestCanvas(opts ...Option) *Canvas {
	return New(append([]Option{WithIDGenerator(fixedIDs(100))}, opts...)...)
}

func TestNewDefaultTrigger(t *testing.T) {
	n := NewDefaultTrigger("", 0)
	assert.Equal(t, "1", n.ID)
	assert.Equal(t, KindTrigger, n.Kind)
	assert.Equal(t, Position{X: 300, Y: 50}, n.Position)
	assert.Equal(t, defaultTriggerLabel, n.Label)
	assert.Equal(t, int64(1), n.TriggerRef)

	n = NewDefaultTrigger("Lead Created", 9)
	assert.Equal(t, "Lead Created", n.Label)
	assert.Equal(t, int64(9), n.TriggerRef)
}

func TestTimestampIDs(t *testing.T) {
	at := time.UnixMilli(1_745_000_123_456)
	gen := TimestampIDs(func() time.Time { return at })
	assert.Equal(t, int64(123_456+100), gen.NextID())
}

func TestAddActionNode(t *testing.T) {
	c := newTestCanvas()

	n, err := c.AddActionNode(PaletteItem{Label: "Send SMS", ActionRef: 2}, Position{X: 400, Y: 300})
	require.NoError(t, err)
	assert.Equal(t, "100", n.ID)
	assert.Equal(t, KindAction, n.Kind)
	assert.Equal(t, int64(2), n.ActionRef)
	assert.Equal(t, Position{X: 400, Y: 300}, n.Position)

	g := c.Graph()
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, n, g.Nodes[1])
}

func TestAddActionNode_DefaultLabel(t *testing.T) {
	c := newTestCanvas()
	n, err := c.AddActionNode(PaletteItem{ActionRef: 3}, Position{})
	require.NoError(t, err)
	assert.Equal(t, "Action Node", n.Label)
}

func TestAddActionNode_MissingActionRef(t *testing.T) {
	c := newTestCanvas()
	_, err := c.AddActionNode(PaletteItem{Label: "Broken"}, Position{})
	assert.ErrorIs(t, err, ErrMissingActionRef)
	assert.Len(t, c.Graph().Nodes, 1)
}

func TestAddActionNode_CollisionBumpsID(t *testing.T) {
	c := New(WithIDGenerator(IDGeneratorFunc(func() int64 { return 100 })))

	first, err := c.AddActionNode(PaletteItem{ActionRef: 1}, Position{})
	require.NoError(t, err)
	second, err := c.AddActionNode(PaletteItem{ActionRef: 1}, Position{})
	require.NoError(t, err)

	assert.Equal(t, "100", first.ID)
	assert.Equal(t, "101", second.ID)
}

func TestAddActionNode_CollisionExhausted(t *testing.T) {
	c := New(WithIDGenerator(IDGeneratorFunc(func() int64 { return 100 })))
	for i := 0; i < maxIDAttempts; i++ {
		_, err := c.AddActionNode(PaletteItem{ActionRef: 1}, Position{})
		require.NoError(t, err)
	}
	before := c.Graph()

	_, err := c.AddActionNode(PaletteItem{ActionRef: 1}, Position{})
	assert.ErrorIs(t, err, ErrDuplicateNode)
	assert.Equal(t, before, c.Graph())
}

func TestDeleteNode_TriggerIsNoop(t *testing.T) {
	c := newTestCanvas()
	before := c.Graph()

	assert.False(t, c.DeleteNode("1"))
	assert.Equal(t, before, c.Graph())
}

func TestDeleteNode_Unknown(t *testing.T) {
	c := newTestCanvas()
	assert.False(t, c.DeleteNode("404"))
}

func TestDeleteNode_CascadesEdges(t *testing.T) {
	c := newTestCanvas()
	n, err := c.AddActionNode(PaletteItem{Label: "Send SMS", ActionRef: 2}, Position{X: 400, Y: 300})
	require.NoError(t, err)
	require.Equal(t, "100", n.ID)

	_, ok := c.Connect("1", "100")
	require.True(t, ok)

	assert.True(t, c.DeleteNode("100"))

	g := c.Graph()
	assert.Empty(t, g.Edges)
	require.Len(t, g.Nodes, 1)
	assert.True(t, g.Nodes[0].IsTrigger())
}

func TestConnect(t *testing.T) {
	c := newTestCanvas()
	_, err := c.AddActionNode(PaletteItem{ActionRef: 2}, Position{})
	require.NoError(t, err)

	e, ok := c.Connect("1", "100")
	require.True(t, ok)
	assert.Equal(t, Edge{ID: "e1-100", Source: "1", Target: "100"}, *e)

	t.Run("duplicate", func(t *testing.T) {
		e, ok := c.Connect("1", "100")
		assert.False(t, ok)
		assert.Nil(t, e)
		assert.Len(t, c.Graph().Edges, 1)
	})

	t.Run("self loop", func(t *testing.T) {
		_, ok := c.Connect("100", "100")
		assert.False(t, ok)
		assert.Len(t, c.Graph().Edges, 1)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		_, ok := c.Connect("100", "999")
		assert.False(t, ok)
	})

	t.Run("reverse direction is distinct", func(t *testing.T) {
		_, ok := c.Connect("100", "1")
		assert.True(t, ok)
		assert.Len(t, c.Graph().Edges, 2)
	})
}

func TestMoveNode(t *testing.T) {
	c := newTestCanvas()
	assert.True(t, c.MoveNode("1", Position{X: 10, Y: 20}))
	assert.False(t, c.MoveNode("1", Position{X: 10, Y: 20}))
	assert.False(t, c.MoveNode("nope", Position{}))

	trigger, ok := c.Graph().Trigger()
	require.True(t, ok)
	assert.Equal(t, Position{X: 10, Y: 20}, trigger.Position)
}

func TestUpdateTrigger(t *testing.T) {
	c := newTestCanvas()
	c.UpdateTrigger("Call Missed", 4)

	trigger, ok := c.Graph().Trigger()
	require.True(t, ok)
	assert.Equal(t, "Call Missed", trigger.Label)
	assert.Equal(t, int64(4), trigger.TriggerRef)

	c.ClearCanvas()
	trigger, _ = c.Graph().Trigger()
	assert.Equal(t, "Call Missed", trigger.Label)
}

func TestClearCanvas(t *testing.T) {
	c := newTestCanvas(WithTrigger("Lead Created", 9))
	_, err := c.AddActionNode(PaletteItem{ActionRef: 2}, Position{})
	require.NoError(t, err)
	c.Connect("1", "100")

	c.ClearCanvas()

	g := c.Graph()
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, NewDefaultTrigger("Lead Created", 9), g.Nodes[0])
	assert.Empty(t, g.Edges)
}

func TestAddThenGetCanvasData(t *testing.T) {
	c := newTestCanvas()
	_, err := c.AddActionNode(PaletteItem{Label: "Send SMS", ActionRef: 2}, Position{X: 400, Y: 300})
	require.NoError(t, err)

	p := c.GetCanvasData()
	require.Len(t, p.Actions, 2)
	assert.Equal(t, Int(2), p.Actions[1].ActionID)
	assert.Equal(t, Float(400), p.Actions[1].X)
	assert.Equal(t, Float(300), p.Actions[1].Y)
}

func TestListen(t *testing.T) {
	c := newTestCanvas()
	ch := make(chan Placement)
	done := make(chan struct{})

	go func() {
		c.Listen(context.Background(), ch)
		close(done)
	}()

	ch <- Placement{Item: PaletteItem{Label: "Send SMS", ActionRef: 2}}
	ch <- Placement{Item: PaletteItem{Label: "Email", ActionRef: 3}, Position: &Position{X: 1, Y: 2}}
	ch <- Placement{Item: PaletteItem{Label: "Broken"}}
	close(ch)
	<-done

	g := c.Graph()
	require.Len(t, g.Nodes, 3)
	assert.Equal(t, Position{X: 300, Y: 150}, g.Nodes[1].Position)
	assert.Equal(t, Position{X: 1, Y: 2}, g.Nodes[2].Position)
}

func TestListen_StopsOnCancel(t *testing.T) {
	c := newTestCanvas()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		c.Listen(ctx, make(chan Placement))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
