package canvas

import (
	"encoding/json"
	"time"
)

// Trigger is a catalog entry a workflow can start from. Parameters describes
// what the trigger needs and is passed through untouched.
type Trigger struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Action is a catalog entry an action node can run. FieldsRequired describes
// the configuration the action expects.
type Action struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	FieldsRequired json.RawMessage `json:"fields_required,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PaletteItem returns the draggable template for a.
func (a Action) PaletteItem() PaletteItem {
	return PaletteItem{Label: a.Name, Type: KindAction, ActionRef: a.ID}
}

// Palette converts a list of catalog actions to palette items, in order.
func Palette(actions []Action) []PaletteItem {
	items := make([]PaletteItem, 0, len(actions))
	for _, a := range actions {
		items = append(items, a.PaletteItem())
	}
	return items
}
