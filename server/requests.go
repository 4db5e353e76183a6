package main

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/meikuraledutech/canvas"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// workflowRequest is the body of POST and PUT /api/workflows.
type workflowRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	Status    string `json:"status" validate:"required,oneof=draft published archived"`
	TriggerID *int64 `json:"trigger_id" validate:"omitempty,min=1"`
}

func (r *workflowRequest) workflow(id int64) *canvas.Workflow {
	w := &canvas.Workflow{ID: id, Name: r.Name, Status: r.Status}
	if r.TriggerID != nil {
		w.TriggerID = canvas.Int(*r.TriggerID)
	}
	return w
}

// canvasRequest is the body of POST /api/workflows/:id/canvas. Pointer
// fields distinguish a missing value from a zero one.
type canvasRequest struct {
	Actions     []actionRequest     `json:"actions" validate:"required,min=1,dive"`
	Connections []connectionRequest `json:"connections" validate:"omitempty,dive"`
	TriggerID   canvas.Number       `json:"trigger_id"`
}

type actionRequest struct {
	ID            canvas.Number        `json:"id"`
	Type          string               `json:"type" validate:"omitempty,oneof=trigger action"`
	ActionID      *canvas.Number       `json:"action_id" validate:"required_unless=Type trigger"`
	TriggerID     *canvas.Number       `json:"trigger_id" validate:"required_if=Type trigger"`
	Label         string               `json:"label" validate:"max=255"`
	Configuration canvas.Configuration `json:"configuration_json"`
	X             *canvas.Number       `json:"x" validate:"required"`
	Y             *canvas.Number       `json:"y" validate:"required"`
}

type connectionRequest struct {
	SourceNodeID canvas.NodeRef `json:"source_node_id" validate:"required"`
	TargetNodeID canvas.NodeRef `json:"target_node_id" validate:"required"`
}

// validateCanvasRequest checks req using struct tags, then the numeric
// fields the tags cannot see into.
func validateCanvasRequest(req *canvasRequest) error {
	if req == nil {
		return errors.New("canvas request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}

	for i, a := range req.Actions {
		if a.ID.Valid && !a.ID.IsInteger() {
			return fmt.Errorf("actions[%d].id: must be an integer", i)
		}
		if !a.X.Valid {
			return fmt.Errorf("actions[%d].x: must be numeric", i)
		}
		if !a.Y.Valid {
			return fmt.Errorf("actions[%d].y: must be numeric", i)
		}
		if a.Type == string(canvas.KindTrigger) {
			if !a.TriggerID.IsInteger() {
				return fmt.Errorf("actions[%d].trigger_id: must be an integer", i)
			}
		} else if !a.ActionID.IsInteger() {
			return fmt.Errorf("actions[%d].action_id: must be an integer", i)
		}
	}
	return nil
}

func validateWorkflowRequest(req *workflowRequest) error {
	if req == nil {
		return errors.New("workflow request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// payload converts a validated request to the stored form. A record
// without a type is an action.
func (r *canvasRequest) payload() *canvas.Payload {
	p := &canvas.Payload{
		Actions:     make([]canvas.ActionRecord, 0, len(r.Actions)),
		Connections: make([]canvas.ConnectionRecord, 0, len(r.Connections)),
		TriggerID:   r.TriggerID,
	}
	for _, a := range r.Actions {
		rec := canvas.ActionRecord{
			ID:            a.ID,
			Type:          a.Type,
			Label:         a.Label,
			Configuration: a.Configuration,
			X:             *a.X,
			Y:             *a.Y,
		}
		if rec.Type == "" {
			rec.Type = string(canvas.KindAction)
		}
		if a.ActionID != nil {
			rec.ActionID = *a.ActionID
		}
		if a.TriggerID != nil {
			rec.TriggerID = *a.TriggerID
		}
		p.Actions = append(p.Actions, rec)
	}
	for _, c := range r.Connections {
		p.Connections = append(p.Connections, canvas.ConnectionRecord(c))
	}
	return p
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}

		switch e.Tag() {
		case "required", "required_if", "required_unless":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, e.Param())
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, e.Param())
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, e.Param())
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}
