package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is the canvas as the workflow server stores it: a flat list of
// action records with integer ids and explicit coordinates, a list of
// connections that reference nodes by string id, and the workflow's trigger
// id. Nodes and Edges carry the raw graph for debugging; the server ignores
// them.
type Payload struct {
	Nodes       []Node             `json:"nodes,omitempty"`
	Edges       []Edge             `json:"edges,omitempty"`
	Actions     []ActionRecord     `json:"actions"`
	Connections []ConnectionRecord `json:"connections"`
	TriggerID   Number             `json:"trigger_id"`
	Trigger     *Trigger           `json:"trigger,omitempty"`
}

// ActionRecord is one persisted node. Type is "trigger" or "action".
type ActionRecord struct {
	ID            Number        `json:"id"`
	Type          string        `json:"type"`
	ActionID      Number        `json:"action_id,omitzero"`
	TriggerID     Number        `json:"trigger_id,omitzero"`
	Label         string        `json:"label"`
	Configuration Configuration `json:"configuration_json"`
	X             Number        `json:"x"`
	Y             Number        `json:"y"`
}

// ConnectionRecord is one persisted edge. Ids stay strings on the wire even
// though action ids are integers.
type ConnectionRecord struct {
	SourceNodeID NodeRef `json:"source_node_id"`
	TargetNodeID NodeRef `json:"target_node_id"`
}

// Number is a JSON number that also accepts numeric strings. null, absent
// and non-numeric values decode to an invalid Number instead of failing the
// whole payload.
type Number struct {
	Value float64
	Valid bool
}

// Int returns a valid Number holding v.
func Int(v int64) Number { return Number{Value: float64(v), Valid: true} }

// Float returns a valid Number holding v.
func Float(v float64) Number { return Number{Value: v, Valid: true} }

// Int64 returns the value truncated to an integer.
func (n Number) Int64() int64 { return int64(n.Value) }

// IsInteger reports whether n is valid and has no fractional part.
func (n Number) IsInteger() bool {
	return n.Valid && n.Value == math.Trunc(n.Value) && !math.IsInf(n.Value, 0)
}

// IsZero reports whether n is unset, for omitzero.
func (n Number) IsZero() bool { return !n.Valid }

// String formats a valid n without a trailing fraction; invalid is "".
func (n Number) String() string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// MarshalJSON writes null for an invalid n.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
		return nil, fmt.Errorf("canvas: cannot encode %v as json number", n.Value)
	}
	return []byte(n.String()), nil
}

// UnmarshalJSON accepts numbers and numeric strings. Anything else leaves n
// invalid without an error.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*n = Number{Value: v, Valid: true}
	return nil
}

// NodeRef is a node id inside a connection record. It is written as a string
// and accepts numbers on input.
type NodeRef string

// UnmarshalJSON accepts a string or a number.
func (r *NodeRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*r = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = NodeRef(s)
	default:
		var num json.Number
		if err := json.Unmarshal(b, &num); err != nil {
			return fmt.Errorf("canvas: node reference %s is neither string nor number", b)
		}
		*r = NodeRef(num.String())
	}
	return nil
}

// ParsePayload decodes a canvas response. The server wraps the payload in a
// {"workflow": {...}} envelope; a bare payload is accepted too.
func ParsePayload(data []byte) (*Payload, error) {
	var envelope struct {
		Workflow json.RawMessage `json:"workflow"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	body := data
	if len(envelope.Workflow) > 0 && !bytes.Equal(envelope.Workflow, []byte("null")) {
		body = envelope.Workflow
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return &p, nil
}
