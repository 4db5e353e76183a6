package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/canvas"
)

// SaveCanvas replaces the actions and connections of a workflow in one
// transaction and returns the stored result. The workflow's trigger id is
// updated when the payload carries one.
func (s *PGStore) SaveCanvas(ctx context.Context, workflowID int64, p *canvas.Payload) (*canvas.Workflow, error) {
	err := s.saveCanvas(ctx, workflowID, p)
	s.observe("save_canvas", err)
	if err != nil {
		return nil, err
	}
	return s.LoadCanvas(ctx, workflowID)
}

func (s *PGStore) saveCanvas(ctx context.Context, workflowID int64, p *canvas.Payload) error {
	if p == nil {
		return fmt.Errorf("%w: empty payload", canvas.ErrInvalidPayload)
	}
	actions, err := prepareActions(p.Actions)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("canvas: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`UPDATE workflows SET trigger_id = COALESCE($1, trigger_id), updated_at = NOW() WHERE id = $2`,
		intOrNil(p.TriggerID), workflowID,
	)
	if err != nil {
		return fmt.Errorf("canvas: touch workflow: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return canvas.ErrWorkflowNotFound
	}
	triggerIDs, actionIDs := catalogRefs(p)
	if err := checkCatalog(ctx, tx, triggerIDs, actionIDs); err != nil {
		return err
	}

	// Replace semantics: the payload is the whole canvas.
	if _, err := tx.Exec(ctx, `DELETE FROM workflow_connections WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("canvas: delete connections: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM workflow_actions WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("canvas: delete actions: %w", err)
	}

	for i, a := range actions {
		config := a.Configuration
		if config == nil {
			config = canvas.Configuration{}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO workflow_actions (workflow_id, node_id, sort_order, type, action_id, trigger_id, label, configuration_json, x, y)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			workflowID, a.ID.Int64(), i, a.Type, intOrNil(a.ActionID), intOrNil(a.TriggerID), a.Label, config, a.X.Value, a.Y.Value,
		); err != nil {
			return fmt.Errorf("canvas: insert action %s: %w", a.ID, err)
		}
	}

	for i, c := range p.Connections {
		if _, err := tx.Exec(ctx,
			`INSERT INTO workflow_connections (workflow_id, sort_order, source_node_id, target_node_id) VALUES ($1, $2, $3, $4)`,
			workflowID, i, string(c.SourceNodeID), string(c.TargetNodeID),
		); err != nil {
			return fmt.Errorf("canvas: insert connection %s->%s: %w", c.SourceNodeID, c.TargetNodeID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("canvas: commit: %w", err)
	}
	return nil
}

// LoadCanvas retrieves a workflow with its actions and connections in the
// order they were saved. Returns ErrWorkflowNotFound if it doesn't exist.
func (s *PGStore) LoadCanvas(ctx context.Context, workflowID int64) (*canvas.Workflow, error) {
	w, err := s.loadCanvas(ctx, workflowID)
	s.observe("load_canvas", err)
	return w, err
}

func (s *PGStore) loadCanvas(ctx context.Context, workflowID int64) (*canvas.Workflow, error) {
	w, err := scanWorkflow(s.db.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, workflowID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, canvas.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("canvas: get workflow: %w", err)
	}
	if err := s.attachTrigger(ctx, w); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT node_id, type, action_id, trigger_id, label, configuration_json, x, y
		 FROM workflow_actions WHERE workflow_id = $1 ORDER BY sort_order`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("canvas: query actions: %w", err)
	}
	defer rows.Close()

	w.Actions = []canvas.ActionRecord{}
	for rows.Next() {
		var (
			a                   canvas.ActionRecord
			nodeID              int64
			actionID, triggerID *int64
			x, y                float64
		)
		if err := rows.Scan(&nodeID, &a.Type, &actionID, &triggerID, &a.Label, &a.Configuration, &x, &y); err != nil {
			return nil, fmt.Errorf("canvas: scan action: %w", err)
		}
		a.ID = canvas.Int(nodeID)
		a.ActionID = numberOf(actionID)
		a.TriggerID = numberOf(triggerID)
		a.X, a.Y = canvas.Float(x), canvas.Float(y)
		w.Actions = append(w.Actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvas: rows actions: %w", err)
	}

	rows, err = s.db.Query(ctx,
		`SELECT source_node_id, target_node_id FROM workflow_connections WHERE workflow_id = $1 ORDER BY sort_order`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("canvas: query connections: %w", err)
	}
	defer rows.Close()

	w.Connections = []canvas.ConnectionRecord{}
	for rows.Next() {
		var source, target string
		if err := rows.Scan(&source, &target); err != nil {
			return nil, fmt.Errorf("canvas: scan connection: %w", err)
		}
		w.Connections = append(w.Connections, canvas.ConnectionRecord{
			SourceNodeID: canvas.NodeRef(source),
			TargetNodeID: canvas.NodeRef(target),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvas: rows connections: %w", err)
	}

	return w, nil
}

// attachTrigger loads the catalog trigger w points at, if any.
func (s *PGStore) attachTrigger(ctx context.Context, w *canvas.Workflow) error {
	if !w.TriggerID.IsInteger() {
		return nil
	}
	t, err := scanTrigger(s.db.QueryRow(ctx,
		`SELECT id, name, parameters, created_at, updated_at FROM triggers WHERE id = $1`, w.TriggerID.Int64()))
	switch {
	case isNoRows(err):
		return nil
	case err != nil:
		return fmt.Errorf("canvas: get workflow trigger: %w", err)
	}
	w.Trigger = t
	return nil
}

// prepareActions checks the records can be stored and gives every record
// without an integer id the next free one.
func prepareActions(in []canvas.ActionRecord) ([]canvas.ActionRecord, error) {
	out := make([]canvas.ActionRecord, len(in))
	seen := make(map[int64]bool, len(in))
	var maxID int64

	for i, a := range in {
		if a.Type != string(canvas.KindTrigger) && a.Type != string(canvas.KindAction) {
			return nil, fmt.Errorf("%w: action %d has type %q", canvas.ErrInvalidPayload, i, a.Type)
		}
		if !a.X.Valid || !a.Y.Valid {
			return nil, fmt.Errorf("%w: action %d has no position", canvas.ErrInvalidPayload, i)
		}
		if a.ID.IsInteger() {
			id := a.ID.Int64()
			if seen[id] {
				return nil, fmt.Errorf("%w: duplicate action id %d", canvas.ErrInvalidPayload, id)
			}
			seen[id] = true
			maxID = max(maxID, id)
		}
		out[i] = a
	}

	for i := range out {
		if !out[i].ID.IsInteger() {
			maxID++
			out[i].ID = canvas.Int(maxID)
		}
	}
	return out, nil
}

func intOrNil(n canvas.Number) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64()
	return &v
}

func numberOf(v *int64) canvas.Number {
	if v == nil {
		return canvas.Number{}
	}
	return canvas.Int(*v)
}
