// Package client talks to the workflow server's canvas endpoints. *Client
// satisfies autosync.Remote.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3/client"
	"github.com/google/uuid"
	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

const (
	workflowsPath = "/api/workflows"
	workflowPath  = "/api/workflows/:id"
	canvasPath    = "/api/workflows/:id/canvas"
	triggersPath  = "/api/triggers"
	actionsPath   = "/api/actions"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

// Error formats the status code and the server's message, if any.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: server returned %d", e.Code)
	}
	return fmt.Sprintf("client: server returned %d: %s", e.Code, e.Message)
}

// Client is an HTTP client for one workflow server.
type Client struct {
	http   *client.Client
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithLogger sets the logger for failed and rejected requests.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http:   client.New().SetBaseURL(baseURL),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) request(ctx context.Context) *client.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("X-Request-ID", uuid.NewString())
}

// do checks the status of resp and hands its body to decode when decode
// is not nil.
func (c *Client) do(method, path string, resp *client.Response, err error, decode func([]byte) error) error {
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Close()

	if code := resp.StatusCode(); code < 200 || code > 299 {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Body(), &body)
		msg := body.Error
		if msg == "" {
			msg = body.Message
		}
		c.logger.Debug("request rejected", zap.String("method", method), zap.String("path", path), zap.Int("status", code))
		return &StatusError{Code: code, Message: msg}
	}

	if decode == nil {
		return nil
	}
	if err := decode(resp.Body()); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

// Load fetches the stored canvas of a workflow.
func (c *Client) Load(ctx context.Context, workflowID string) (*canvas.Payload, error) {
	var p *canvas.Payload
	resp, err := c.request(ctx).SetPathParam("id", workflowID).Get(canvasPath)
	err = c.do("GET", canvasPath, resp, err, func(body []byte) error {
		var err error
		p, err = canvas.ParsePayload(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Save replaces the stored canvas of a workflow with p.
func (c *Client) Save(ctx context.Context, workflowID string, p *canvas.Payload) error {
	resp, err := c.request(ctx).SetPathParam("id", workflowID).SetJSON(p).Post(canvasPath)
	return c.do("POST", canvasPath, resp, err, nil)
}

// CreateWorkflow creates an empty workflow and returns it.
func (c *Client) CreateWorkflow(ctx context.Context, name, status string, triggerID int64) (*canvas.Workflow, error) {
	in := map[string]any{"name": name, "status": status}
	if triggerID != 0 {
		in["trigger_id"] = triggerID
	}

	var out struct {
		Workflow canvas.Workflow `json:"workflow"`
	}
	resp, err := c.request(ctx).SetJSON(in).Post(workflowsPath)
	err = c.do("POST", workflowsPath, resp, err, func(body []byte) error {
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out.Workflow, nil
}

// DeleteWorkflow deletes a workflow and its canvas.
func (c *Client) DeleteWorkflow(ctx context.Context, id int64) error {
	resp, err := c.request(ctx).SetPathParam("id", strconv.FormatInt(id, 10)).Delete(workflowPath)
	return c.do("DELETE", workflowPath, resp, err, nil)
}

// Triggers lists the catalog triggers a workflow can start from.
func (c *Client) Triggers(ctx context.Context) ([]canvas.Trigger, error) {
	var out struct {
		Triggers []canvas.Trigger `json:"triggers"`
	}
	resp, err := c.request(ctx).Get(triggersPath)
	err = c.do("GET", triggersPath, resp, err, func(body []byte) error {
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Triggers, nil
}

// Actions lists the catalog actions.
func (c *Client) Actions(ctx context.Context) ([]canvas.Action, error) {
	var out struct {
		Actions []canvas.Action `json:"actions"`
	}
	resp, err := c.request(ctx).Get(actionsPath)
	err = c.do("GET", actionsPath, resp, err, func(body []byte) error {
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// Palette returns one palette item per catalog action.
func (c *Client) Palette(ctx context.Context) ([]canvas.PaletteItem, error) {
	actions, err := c.Actions(ctx)
	if err != nil {
		return nil, err
	}
	return canvas.Palette(actions), nil
}
