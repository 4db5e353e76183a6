package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanArchiver chan *canvas.Workflow

func (a chanArchiver) Archive(ctx context.Context, w *canvas.Workflow) error {
	a <- w
	return nil
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func newTestApp(t *testing.T) (*fiber.App, *memStore) {
	t.Helper()
	store := newMemStore()
	return newApp(&server{store: store}), store
}

func createWorkflow(t *testing.T, app *fiber.App, name string) int64 {
	t.Helper()
	status, body := call(t, app, http.MethodPost, "/api/workflows", `{"name":"`+name+`","status":"draft","trigger_id":3}`)
	require.Equal(t, http.StatusCreated, status, body)
	return int64(body["workflow"].(map[string]any)["id"].(float64))
}

func TestHealthz(t *testing.T) {
	app, _ := newTestApp(t)
	status, body := call(t, app, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestSchemaRoutes(t *testing.T) {
	app, store := newTestApp(t)

	status, _ := call(t, app, http.MethodPost, "/schema", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, store.schema)

	status, _ = call(t, app, http.MethodDelete, "/schema", "")
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, store.schema)
}

func TestWorkflowCRUD(t *testing.T) {
	app, _ := newTestApp(t)
	require.Equal(t, int64(1), createWorkflow(t, app, "Onboarding"))
	createWorkflow(t, app, "Missed call")

	status, body := call(t, app, http.MethodGet, "/api/workflows/1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Onboarding", body["workflow"].(map[string]any)["name"])

	status, body = call(t, app, http.MethodPut, "/api/workflows/1", `{"name":"Onboarding v2","status":"published"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Workflow updated successfully", body["message"])
	assert.Equal(t, "published", body["workflow"].(map[string]any)["status"])

	status, body = call(t, app, http.MethodGet, "/api/workflows?search=onboard&per_page=5", "")
	require.Equal(t, http.StatusOK, status)
	page := body["workflows"].(map[string]any)
	assert.Equal(t, float64(1), page["total"])
	assert.Equal(t, float64(5), page["per_page"])
	assert.Equal(t, float64(1), page["page"])
	assert.Len(t, page["data"], 1)

	status, body = call(t, app, http.MethodDelete, "/api/workflows/1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Workflow deleted successfully", body["message"])

	status, body = call(t, app, http.MethodGet, "/api/workflows/1", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow not found", body["error"])

	status, _ = call(t, app, http.MethodDelete, "/api/workflows/1", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, app, http.MethodPut, "/api/workflows/1", `{"name":"x","status":"draft"}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWorkflowValidation(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		body   string
		status int
		want   string
	}{
		{`{"status":"draft"}`, http.StatusUnprocessableEntity, "name: field is required"},
		{`{"name":"x","status":"live"}`, http.StatusUnprocessableEntity, "status: must be one of"},
		{`{"name":"x","status":"draft","trigger_id":0}`, http.StatusUnprocessableEntity, "trigger_id: must be at least 1"},
		{`{"name":`, http.StatusBadRequest, "invalid body"},
	}
	for _, tt := range tests {
		status, body := call(t, app, http.MethodPost, "/api/workflows", tt.body)
		assert.Equal(t, tt.status, status, tt.body)
		assert.Contains(t, body["error"], tt.want, tt.body)
	}
}

func TestSaveAndLoadCanvas(t *testing.T) {
	store := newMemStore()
	archived := make(chanArchiver, 1)
	app := newApp(&server{store: store, archiver: archived})
	id := createWorkflow(t, app, "Onboarding")

	c := canvas.New(canvas.WithTrigger("Lead Created", 4))
	n, err := c.AddActionNode(canvas.PaletteItem{Label: "Send SMS", ActionRef: 2}, canvas.Position{X: 400, Y: 300})
	require.NoError(t, err)
	c.Connect("1", n.ID)
	raw, err := json.Marshal(c.GetCanvasData())
	require.NoError(t, err)

	path := fmt.Sprintf("/api/workflows/%d/canvas", id)
	status, body := call(t, app, http.MethodPost, path, string(raw))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Workflow canvas saved successfully", body["message"])

	select {
	case w := <-archived:
		assert.Equal(t, id, w.ID)
		assert.Len(t, w.Actions, 2)
	case <-time.After(time.Second):
		t.Fatal("saved canvas was not archived")
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loadedRaw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	p, err := canvas.ParsePayload(loadedRaw)
	require.NoError(t, err)
	g := canvas.Decode(p, canvas.TriggerDefaults{})
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "Lead Created", g.Nodes[0].Label)
	assert.Equal(t, int64(4), g.Nodes[0].TriggerRef)
	assert.Equal(t, c.Graph().Edges, g.Edges)
	assert.Equal(t, canvas.Int(4), p.TriggerID)
	require.NotNil(t, p.Trigger)
	assert.Equal(t, "Form Submission", p.Trigger.Name)
}

func TestSaveCanvas_Validation(t *testing.T) {
	app, _ := newTestApp(t)
	createWorkflow(t, app, "Onboarding")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing actions", `{"connections":[]}`, "actions: field is required"},
		{"empty actions", `{"actions":[]}`, "actions: must be at least 1"},
		{"action without action id", `{"actions":[{"id":100,"type":"action","x":1,"y":1}]}`, "actions[0].action_id: field is required"},
		{"untyped without action id", `{"actions":[{"id":100,"x":1,"y":1}]}`, "actions[0].action_id: field is required"},
		{"trigger without trigger id", `{"actions":[{"id":1,"type":"trigger","x":1,"y":1}]}`, "actions[0].trigger_id: field is required"},
		{"unknown type", `{"actions":[{"id":1,"type":"delay","action_id":2,"x":1,"y":1}]}`, "actions[0].type: must be one of"},
		{"missing x", `{"actions":[{"id":1,"type":"trigger","trigger_id":1,"y":1}]}`, "actions[0].x: field is required"},
		{"non numeric y", `{"actions":[{"id":1,"type":"trigger","trigger_id":1,"x":1,"y":"top"}]}`, "actions[0].y: must be numeric"},
		{"fractional id", `{"actions":[{"id":1.5,"type":"trigger","trigger_id":1,"x":1,"y":1}]}`, "actions[0].id: must be an integer"},
		{"connection without target", `{"actions":[{"id":1,"type":"trigger","trigger_id":1,"x":1,"y":1}],"connections":[{"source_node_id":"1"}]}`, "connections[0].target_node_id: field is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, http.MethodPost, "/api/workflows/1/canvas", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, status)
			assert.Contains(t, body["error"], tt.want)
		})
	}
}

func TestSaveCanvas_UntypedRecordIsAction(t *testing.T) {
	app, store := newTestApp(t)
	createWorkflow(t, app, "Onboarding")

	status, _ := call(t, app, http.MethodPost, "/api/workflows/1/canvas",
		`{"actions":[{"id":1,"type":"trigger","trigger_id":3,"x":300,"y":50},{"id":100,"action_id":2,"x":"400","y":300}],"connections":[{"source_node_id":1,"target_node_id":"100"}]}`)
	require.Equal(t, http.StatusOK, status)

	w, err := store.LoadCanvas(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, w.Actions, 2)
	assert.Equal(t, "action", w.Actions[1].Type)
	assert.Equal(t, canvas.Int(400), w.Actions[1].X)
	assert.Equal(t, canvas.NodeRef("1"), w.Connections[0].SourceNodeID)
}

func TestCanvas_NotFound(t *testing.T) {
	app, _ := newTestApp(t)
	valid := `{"actions":[{"id":1,"type":"trigger","trigger_id":1,"x":300,"y":50}]}`

	for _, path := range []string{"/api/workflows/99/canvas", "/api/workflows/abc/canvas", "/api/workflows/-1/canvas"} {
		status, _ := call(t, app, http.MethodPost, path, valid)
		assert.Equal(t, http.StatusNotFound, status, path)
		status, _ = call(t, app, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, status, path)
	}
}

func TestCanvas_StoreError(t *testing.T) {
	app, store := newTestApp(t)
	createWorkflow(t, app, "Onboarding")
	store.err = errors.New("connection reset")

	status, body := call(t, app, http.MethodPost, "/api/workflows/1/canvas",
		`{"actions":[{"id":1,"type":"trigger","trigger_id":1,"x":300,"y":50}]}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Error saving workflow canvas", body["message"])
	assert.Equal(t, "connection reset", body["error"])

	status, _ = call(t, app, http.MethodGet, "/api/workflows/1/canvas", "")
	assert.Equal(t, http.StatusInternalServerError, status)

	status, _ = call(t, app, http.MethodGet, "/api/workflows", "")
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestUpdateWorkflow_DeletedConcurrently(t *testing.T) {
	app, store := newTestApp(t)
	createWorkflow(t, app, "Onboarding")
	store.deleteOnUpdate = true

	status, body := call(t, app, http.MethodPut, "/api/workflows/1", `{"name":"Onboarding v2","status":"draft"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow not found", body["error"])
	assert.NotContains(t, body, "workflow")
}

func TestCatalogRoutes(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := call(t, app, http.MethodGet, "/api/triggers", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["triggers"], 4)

	status, body = call(t, app, http.MethodGet, "/api/triggers/2", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Scheduled Trigger", body["trigger"].(map[string]any)["name"])

	status, body = call(t, app, http.MethodGet, "/api/actions", "")
	require.Equal(t, http.StatusOK, status)
	actions := body["actions"].([]any)
	require.Len(t, actions, 3)
	assert.Equal(t, "Send SMS", actions[1].(map[string]any)["name"])

	status, body = call(t, app, http.MethodGet, "/api/actions/3", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "In-app notification", body["action"].(map[string]any)["name"])

	for _, path := range []string{"/api/actions/99", "/api/actions/abc", "/api/triggers/99", "/api/triggers/0"} {
		status, body = call(t, app, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, status, path)
		assert.Contains(t, body["error"], "not found", path)
	}
}

func TestUnknownCatalogReferences(t *testing.T) {
	app, store := newTestApp(t)
	createWorkflow(t, app, "Onboarding")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   string
	}{
		{"create with unknown trigger", http.MethodPost, "/api/workflows", `{"name":"x","status":"draft","trigger_id":99}`, "trigger not found: 99"},
		{"update with unknown trigger", http.MethodPut, "/api/workflows/1", `{"name":"x","status":"draft","trigger_id":99}`, "trigger not found: 99"},
		{"canvas with unknown action", http.MethodPost, "/api/workflows/1/canvas",
			`{"actions":[{"id":1,"type":"trigger","trigger_id":1,"x":300,"y":50},{"id":100,"type":"action","action_id":42,"x":1,"y":1}]}`, "action not found: 42"},
		{"canvas with unknown trigger", http.MethodPost, "/api/workflows/1/canvas",
			`{"actions":[{"id":1,"type":"trigger","trigger_id":77,"x":300,"y":50}]}`, "trigger not found: 77"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, status)
			assert.Contains(t, body["error"], tt.want)
		})
	}

	w, err := store.LoadCanvas(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, w.Actions)
	assert.Equal(t, canvas.Int(3), w.TriggerID)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.NewRegistry()
	app := newApp(&server{store: newMemStore(), metrics: reg})

	status, _ := call(t, app, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, status)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `canvas_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestRequestID(t *testing.T) {
	app, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
