package canvas

import (
	"context"
	"errors"
	"time"
)

var (
	ErrWorkflowNotFound = errors.New("canvas: workflow not found")
	ErrDuplicateNode    = errors.New("canvas: node id already exists")
	ErrMissingActionRef = errors.New("canvas: action node requires an action id")
	ErrInvalidPayload   = errors.New("canvas: invalid canvas payload")
	ErrTriggerNotFound  = errors.New("canvas: trigger not found")
	ErrActionNotFound   = errors.New("canvas: action not found")
)

// Workflow is the server-side record a canvas belongs to. Its JSON form is
// also a valid canvas payload, which is what GET .../canvas returns.
type Workflow struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	TriggerID   Number             `json:"trigger_id"`
	Trigger     *Trigger           `json:"trigger,omitempty"`
	Actions     []ActionRecord     `json:"actions,omitempty"`
	Connections []ConnectionRecord `json:"connections,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ListOptions filters and pages ListWorkflows.
type ListOptions struct {
	Search  string
	Page    int
	PerPage int
}

// Normalize fills in paging defaults.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage < 1 {
		o.PerPage = 10
	}
	if o.PerPage > 100 {
		o.PerPage = 100
	}
	return o
}

// Store defines the contract for persisting workflows and their canvases.
type Store interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	// Workflows
	CreateWorkflow(ctx context.Context, w *Workflow) (*Workflow, error)
	GetWorkflow(ctx context.Context, id int64) (*Workflow, error)
	ListWorkflows(ctx context.Context, opts ListOptions) ([]Workflow, int, error)
	UpdateWorkflow(ctx context.Context, w *Workflow) error
	DeleteWorkflow(ctx context.Context, id int64) error

	// Catalog
	ListTriggers(ctx context.Context) ([]Trigger, error)
	GetTrigger(ctx context.Context, id int64) (*Trigger, error)
	ListActions(ctx context.Context) ([]Action, error)
	GetAction(ctx context.Context, id int64) (*Action, error)

	// Canvas (bulk replace)
	SaveCanvas(ctx context.Context, workflowID int64, p *Payload) (*Workflow, error)
	LoadCanvas(ctx context.Context, workflowID int64) (*Workflow, error)
}
