package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/meikuraledutech/canvas"
)

// memStore is an in-memory canvas.Store for handler tests.
type memStore struct {
	mu        sync.Mutex
	workflows map[int64]*canvas.Workflow
	triggers  []canvas.Trigger
	actions   []canvas.Action
	nextID    int64
	schema    bool
	err       error

	// deleteOnUpdate drops a workflow right after it is updated, as a
	// concurrent DELETE would.
	deleteOnUpdate bool
}

func newMemStore() *memStore {
	return &memStore{
		workflows: map[int64]*canvas.Workflow{},
		nextID:    1,
		triggers: []canvas.Trigger{
			{ID: 1, Name: "Manual Trigger"},
			{ID: 2, Name: "Scheduled Trigger"},
			{ID: 3, Name: "Webhook Trigger"},
			{ID: 4, Name: "Form Submission"},
		},
		actions: []canvas.Action{
			{ID: 1, Name: "Send Email"},
			{ID: 2, Name: "Send SMS"},
			{ID: 3, Name: "In-app notification"},
		},
	}
}

func (m *memStore) trigger(id int64) *canvas.Trigger {
	for i := range m.triggers {
		if m.triggers[i].ID == id {
			t := m.triggers[i]
			return &t
		}
	}
	return nil
}

func (m *memStore) action(id int64) *canvas.Action {
	for i := range m.actions {
		if m.actions[i].ID == id {
			a := m.actions[i]
			return &a
		}
	}
	return nil
}

func (m *memStore) checkTrigger(n canvas.Number) error {
	if n.IsInteger() && m.trigger(n.Int64()) == nil {
		return fmt.Errorf("%w: %d", canvas.ErrTriggerNotFound, n.Int64())
	}
	return nil
}

func (m *memStore) checkAction(n canvas.Number) error {
	if n.IsInteger() && m.action(n.Int64()) == nil {
		return fmt.Errorf("%w: %d", canvas.ErrActionNotFound, n.Int64())
	}
	return nil
}

func (m *memStore) ListTriggers(ctx context.Context) ([]canvas.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.triggers), nil
}

func (m *memStore) GetTrigger(ctx context.Context, id int64) (*canvas.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.trigger(id), nil
}

func (m *memStore) ListActions(ctx context.Context) ([]canvas.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.actions), nil
}

func (m *memStore) GetAction(ctx context.Context, id int64) (*canvas.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.action(id), nil
}

var _ canvas.Store = (*memStore)(nil)

func (m *memStore) CreateSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema = true
	return m.err
}

func (m *memStore) DropSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema = false
	return m.err
}

func (m *memStore) CreateWorkflow(ctx context.Context, w *canvas.Workflow) (*canvas.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if err := m.checkTrigger(w.TriggerID); err != nil {
		return nil, err
	}
	cp := *w
	cp.ID = m.nextID
	m.nextID++
	if cp.Status == "" {
		cp.Status = "draft"
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.workflows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) GetWorkflow(ctx context.Context, id int64) (*canvas.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	w, ok := m.workflows[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	cp.Actions, cp.Connections = nil, nil
	return &cp, nil
}

func (m *memStore) ListWorkflows(ctx context.Context, opts canvas.ListOptions) ([]canvas.Workflow, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	opts = opts.Normalize()

	matched := []canvas.Workflow{}
	for _, w := range m.workflows {
		if strings.Contains(strings.ToLower(w.Name), strings.ToLower(opts.Search)) {
			matched = append(matched, *w)
		}
	}
	slices.SortFunc(matched, func(a, b canvas.Workflow) int { return int(a.ID - b.ID) })

	start := min((opts.Page-1)*opts.PerPage, len(matched))
	end := min(start+opts.PerPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (m *memStore) UpdateWorkflow(ctx context.Context, w *canvas.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cur, ok := m.workflows[w.ID]
	if !ok {
		return canvas.ErrWorkflowNotFound
	}
	if err := m.checkTrigger(w.TriggerID); err != nil {
		return err
	}
	cur.Name, cur.Status, cur.TriggerID = w.Name, w.Status, w.TriggerID
	cur.UpdatedAt = time.Now()
	if m.deleteOnUpdate {
		delete(m.workflows, w.ID)
	}
	return nil
}

func (m *memStore) DeleteWorkflow(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.workflows[id]; !ok {
		return canvas.ErrWorkflowNotFound
	}
	delete(m.workflows, id)
	return nil
}

func (m *memStore) SaveCanvas(ctx context.Context, workflowID int64, p *canvas.Payload) (*canvas.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	w, ok := m.workflows[workflowID]
	if !ok {
		return nil, canvas.ErrWorkflowNotFound
	}
	if err := m.checkTrigger(p.TriggerID); err != nil {
		return nil, err
	}
	for _, a := range p.Actions {
		if err := m.checkTrigger(a.TriggerID); err != nil {
			return nil, err
		}
		if err := m.checkAction(a.ActionID); err != nil {
			return nil, err
		}
	}
	w.Actions = slices.Clone(p.Actions)
	w.Connections = slices.Clone(p.Connections)
	if p.TriggerID.Valid {
		w.TriggerID = p.TriggerID
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) LoadCanvas(ctx context.Context, workflowID int64) (*canvas.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	w, ok := m.workflows[workflowID]
	if !ok {
		return nil, canvas.ErrWorkflowNotFound
	}
	cp := *w
	if cp.TriggerID.IsInteger() {
		cp.Trigger = m.trigger(cp.TriggerID.Int64())
	}
	return &cp, nil
}
