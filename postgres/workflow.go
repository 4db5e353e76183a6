package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/canvas"
)

const workflowColumns = `id, name, status, trigger_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*canvas.Workflow, error) {
	var (
		w         canvas.Workflow
		triggerID *int64
	)
	if err := row.Scan(&w.ID, &w.Name, &w.Status, &triggerID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.TriggerID = numberOf(triggerID)
	return &w, nil
}

// CreateWorkflow inserts a workflow without a canvas. An empty status
// becomes "draft". Returns ErrTriggerNotFound if the trigger id is not in
// the catalog.
func (s *PGStore) CreateWorkflow(ctx context.Context, w *canvas.Workflow) (*canvas.Workflow, error) {
	created, err := s.createWorkflow(ctx, w)
	s.observe("create_workflow", err)
	return created, err
}

func (s *PGStore) createWorkflow(ctx context.Context, w *canvas.Workflow) (*canvas.Workflow, error) {
	status := w.Status
	if status == "" {
		status = "draft"
	}
	if err := s.checkWorkflowTrigger(ctx, w); err != nil {
		return nil, err
	}

	created, err := scanWorkflow(s.db.QueryRow(ctx,
		`INSERT INTO workflows (name, status, trigger_id) VALUES ($1, $2, $3) RETURNING `+workflowColumns,
		w.Name, status, intOrNil(w.TriggerID),
	))
	if err != nil {
		return nil, fmt.Errorf("canvas: insert workflow: %w", err)
	}
	return created, nil
}

// checkWorkflowTrigger returns ErrTriggerNotFound when w names a trigger
// that is not in the catalog.
func (s *PGStore) checkWorkflowTrigger(ctx context.Context, w *canvas.Workflow) error {
	if !w.TriggerID.IsInteger() {
		return nil
	}
	return checkCatalog(ctx, s.db, []int64{w.TriggerID.Int64()}, nil)
}

// GetWorkflow fetches a workflow without its canvas.
// Returns nil, nil if not found.
func (s *PGStore) GetWorkflow(ctx context.Context, id int64) (*canvas.Workflow, error) {
	w, err := scanWorkflow(s.db.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id,
	))
	if err != nil {
		if isNoRows(err) {
			s.observe("get_workflow", nil)
			return nil, nil
		}
		err = fmt.Errorf("canvas: get workflow: %w", err)
		s.observe("get_workflow", err)
		return nil, err
	}
	s.observe("get_workflow", nil)
	return w, nil
}

// ListWorkflows returns one page of workflows whose name contains
// opts.Search, most recently updated first, and the total match count.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListWorkflows(ctx context.Context, opts canvas.ListOptions) ([]canvas.Workflow, int, error) {
	workflows, total, err := s.listWorkflows(ctx, opts.Normalize())
	s.observe("list_workflows", err)
	return workflows, total, err
}

func (s *PGStore) listWorkflows(ctx context.Context, opts canvas.ListOptions) ([]canvas.Workflow, int, error) {
	const filter = `WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')`

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM workflows `+filter, opts.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("canvas: count workflows: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+workflowColumns+` FROM workflows `+filter+` ORDER BY updated_at DESC, id DESC LIMIT $2 OFFSET $3`,
		opts.Search, opts.PerPage, (opts.Page-1)*opts.PerPage,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("canvas: list workflows: %w", err)
	}
	defer rows.Close()

	workflows := []canvas.Workflow{}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("canvas: scan workflow: %w", err)
		}
		workflows = append(workflows, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("canvas: rows workflows: %w", err)
	}
	return workflows, total, nil
}

// UpdateWorkflow updates name, status and trigger id and bumps updated_at
// on w. Returns ErrWorkflowNotFound if the workflow doesn't exist and
// ErrTriggerNotFound if the trigger id is not in the catalog.
func (s *PGStore) UpdateWorkflow(ctx context.Context, w *canvas.Workflow) error {
	if err := s.checkWorkflowTrigger(ctx, w); err != nil {
		s.observe("update_workflow", err)
		return err
	}
	err := s.db.QueryRow(ctx,
		`UPDATE workflows SET name = $1, status = $2, trigger_id = $3, updated_at = NOW() WHERE id = $4 RETURNING updated_at`,
		w.Name, w.Status, intOrNil(w.TriggerID), w.ID,
	).Scan(&w.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			err = canvas.ErrWorkflowNotFound
		} else {
			err = fmt.Errorf("canvas: update workflow: %w", err)
		}
	}
	s.observe("update_workflow", err)
	return err
}

// DeleteWorkflow deletes a workflow. Its actions and connections are
// cascade-deleted by the DB. Returns ErrWorkflowNotFound if it doesn't exist.
func (s *PGStore) DeleteWorkflow(ctx context.Context, id int64) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	switch {
	case err != nil:
		err = fmt.Errorf("canvas: delete workflow: %w", err)
	case ct.RowsAffected() == 0:
		err = canvas.ErrWorkflowNotFound
	}
	s.observe("delete_workflow", err)
	return err
}
