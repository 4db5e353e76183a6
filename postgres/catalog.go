package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/meikuraledutech/canvas"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanTrigger(row scanner) (*canvas.Trigger, error) {
	var (
		t      canvas.Trigger
		params []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &params, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Parameters = json.RawMessage(params)
	return &t, nil
}

func scanAction(row scanner) (*canvas.Action, error) {
	var (
		a      canvas.Action
		fields []byte
	)
	if err := row.Scan(&a.ID, &a.Name, &fields, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.FieldsRequired = json.RawMessage(fields)
	return &a, nil
}

// ListTriggers returns every catalog trigger ordered by id.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListTriggers(ctx context.Context) ([]canvas.Trigger, error) {
	triggers, err := listRows(ctx, s.db,
		`SELECT id, name, parameters, created_at, updated_at FROM triggers ORDER BY id`, scanTrigger)
	if err != nil {
		err = fmt.Errorf("canvas: list triggers: %w", err)
	}
	s.observe("list_triggers", err)
	return triggers, err
}

// GetTrigger fetches one catalog trigger.
// Returns nil, nil if not found.
func (s *PGStore) GetTrigger(ctx context.Context, id int64) (*canvas.Trigger, error) {
	t, err := scanTrigger(s.db.QueryRow(ctx,
		`SELECT id, name, parameters, created_at, updated_at FROM triggers WHERE id = $1`, id))
	if isNoRows(err) {
		s.observe("get_trigger", nil)
		return nil, nil
	}
	if err != nil {
		err = fmt.Errorf("canvas: get trigger: %w", err)
	}
	s.observe("get_trigger", err)
	return t, err
}

// ListActions returns every catalog action ordered by id.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListActions(ctx context.Context) ([]canvas.Action, error) {
	actions, err := listRows(ctx, s.db,
		`SELECT id, name, fields_required, created_at, updated_at FROM actions ORDER BY id`, scanAction)
	if err != nil {
		err = fmt.Errorf("canvas: list actions: %w", err)
	}
	s.observe("list_actions", err)
	return actions, err
}

// GetAction fetches one catalog action.
// Returns nil, nil if not found.
func (s *PGStore) GetAction(ctx context.Context, id int64) (*canvas.Action, error) {
	a, err := scanAction(s.db.QueryRow(ctx,
		`SELECT id, name, fields_required, created_at, updated_at FROM actions WHERE id = $1`, id))
	if isNoRows(err) {
		s.observe("get_action", nil)
		return nil, nil
	}
	if err != nil {
		err = fmt.Errorf("canvas: get action: %w", err)
	}
	s.observe("get_action", err)
	return a, err
}

func listRows[T any](ctx context.Context, q querier, sql string, scan func(scanner) (*T, error)) ([]T, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// checkCatalog returns ErrTriggerNotFound or ErrActionNotFound, naming the
// first missing id, when any of the given ids is not in the catalog.
func checkCatalog(ctx context.Context, q querier, triggerIDs, actionIDs []int64) error {
	if id, ok, err := firstMissing(ctx, q, `SELECT id FROM triggers WHERE id = ANY($1)`, triggerIDs); err != nil {
		return fmt.Errorf("canvas: check triggers: %w", err)
	} else if !ok {
		return fmt.Errorf("%w: %d", canvas.ErrTriggerNotFound, id)
	}
	if id, ok, err := firstMissing(ctx, q, `SELECT id FROM actions WHERE id = ANY($1)`, actionIDs); err != nil {
		return fmt.Errorf("canvas: check actions: %w", err)
	} else if !ok {
		return fmt.Errorf("%w: %d", canvas.ErrActionNotFound, id)
	}
	return nil
}

// firstMissing reports the first id in ids that the query does not return.
// ok is true when every id was found.
func firstMissing(ctx context.Context, q querier, sql string, ids []int64) (missing int64, ok bool, err error) {
	if len(ids) == 0 {
		return 0, true, nil
	}
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return 0, false, err
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, false, err
	}
	for _, id := range ids {
		if !slices.Contains(found, id) {
			return id, false, nil
		}
	}
	return 0, true, nil
}

// catalogRefs collects the distinct trigger and action ids a payload points at.
func catalogRefs(p *canvas.Payload) (triggerIDs, actionIDs []int64) {
	add := func(ids []int64, n canvas.Number) []int64 {
		if !n.IsInteger() || slices.Contains(ids, n.Int64()) {
			return ids
		}
		return append(ids, n.Int64())
	}
	triggerIDs = add(triggerIDs, p.TriggerID)
	for _, a := range p.Actions {
		triggerIDs = add(triggerIDs, a.TriggerID)
		actionIDs = add(actionIDs, a.ActionID)
	}
	return triggerIDs, actionIDs
}
