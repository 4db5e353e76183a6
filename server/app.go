package main

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/archive"
	"github.com/meikuraledutech/canvas/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const archiveTimeout = 30 * time.Second

type server struct {
	store    canvas.Store
	archiver archive.Archiver
	logger   *zap.Logger
	metrics  *metrics.Registry
}

func newApp(s *server) *fiber.App {
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(s.observe)

	// ── Ops ───────────────────────────────────────────────────────────
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.metrics.Prometheus(), promhttp.HandlerOpts{})))
	}

	// ── Schema ────────────────────────────────────────────────────────
	app.Post("/schema", func(c fiber.Ctx) error {
		if err := s.store.CreateSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema created"})
	})

	app.Delete("/schema", func(c fiber.Ctx) error {
		if err := s.store.DropSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema dropped"})
	})

	// ── Workflows ─────────────────────────────────────────────────────
	api := app.Group("/api/workflows")
	api.Get("/", s.listWorkflows)
	api.Post("/", s.createWorkflow)
	api.Get("/:id", s.showWorkflow)
	api.Put("/:id", s.updateWorkflow)
	api.Delete("/:id", s.deleteWorkflow)

	// ── Canvas ────────────────────────────────────────────────────────
	api.Get("/:id/canvas", s.loadCanvas)
	api.Post("/:id/canvas", s.saveCanvas)

	// ── Catalog ───────────────────────────────────────────────────────
	app.Get("/api/triggers", s.listTriggers)
	app.Get("/api/triggers/:id", s.showTrigger)
	app.Get("/api/actions", s.listActions)
	app.Get("/api/actions/:id", s.showAction)

	return app
}

// observe logs every request and records it in the HTTP metrics.
func (s *server) observe(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	elapsed := time.Since(start)

	s.metrics.RecordHTTPRequest(c.Method(), c.Route().Path, strconv.Itoa(status), elapsed)
	s.logger.Info("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("took", elapsed),
		zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
	)
	return err
}

// pathID parses the :id route parameter. Only positive integers are ids.
func pathID(c fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	return id, err == nil && id > 0
}

func notFound(c fiber.Ctx) error {
	return c.Status(404).JSON(fiber.Map{"error": "workflow not found"})
}

// unknownCatalogRef reports whether err means the request named a trigger or
// action that is not in the catalog.
func unknownCatalogRef(err error) bool {
	return errors.Is(err, canvas.ErrTriggerNotFound) || errors.Is(err, canvas.ErrActionNotFound)
}

func (s *server) listWorkflows(c fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page"))
	perPage, _ := strconv.Atoi(c.Query("per_page"))
	opts := canvas.ListOptions{Search: c.Query("search"), Page: page, PerPage: perPage}.Normalize()

	workflows, total, err := s.store.ListWorkflows(c.Context(), opts)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"workflows": fiber.Map{
		"data":      workflows,
		"total":     total,
		"page":      opts.Page,
		"per_page":  opts.PerPage,
		"last_page": max(1, int(math.Ceil(float64(total)/float64(opts.PerPage)))),
	}})
}

func (s *server) createWorkflow(c fiber.Ctx) error {
	var req workflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := validateWorkflowRequest(&req); err != nil {
		return c.Status(422).JSON(fiber.Map{"error": err.Error()})
	}

	w, err := s.store.CreateWorkflow(c.Context(), req.workflow(0))
	if unknownCatalogRef(err) {
		return c.Status(422).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(201).JSON(fiber.Map{"message": "Workflow created successfully", "workflow": w})
}

func (s *server) showWorkflow(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return notFound(c)
	}
	w, err := s.store.LoadCanvas(c.Context(), id)
	if errors.Is(err, canvas.ErrWorkflowNotFound) {
		return notFound(c)
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"workflow": w})
}

func (s *server) updateWorkflow(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return notFound(c)
	}
	var req workflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := validateWorkflowRequest(&req); err != nil {
		return c.Status(422).JSON(fiber.Map{"error": err.Error()})
	}

	err := s.store.UpdateWorkflow(c.Context(), req.workflow(id))
	switch {
	case errors.Is(err, canvas.ErrWorkflowNotFound):
		return notFound(c)
	case unknownCatalogRef(err):
		return c.Status(422).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	w, err := s.store.GetWorkflow(c.Context(), id)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	if w == nil {
		return notFound(c)
	}
	return c.JSON(fiber.Map{"message": "Workflow updated successfully", "workflow": w})
}

func (s *server) deleteWorkflow(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return notFound(c)
	}
	err := s.store.DeleteWorkflow(c.Context(), id)
	if errors.Is(err, canvas.ErrWorkflowNotFound) {
		return notFound(c)
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "Workflow deleted successfully"})
}

func (s *server) loadCanvas(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return notFound(c)
	}
	w, err := s.store.LoadCanvas(c.Context(), id)
	if errors.Is(err, canvas.ErrWorkflowNotFound) {
		return notFound(c)
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"workflow": w})
}

func (s *server) saveCanvas(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return notFound(c)
	}
	var req canvasRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := validateCanvasRequest(&req); err != nil {
		return c.Status(422).JSON(fiber.Map{"error": err.Error()})
	}

	w, err := s.store.SaveCanvas(c.Context(), id, req.payload())
	switch {
	case errors.Is(err, canvas.ErrWorkflowNotFound):
		return notFound(c)
	case errors.Is(err, canvas.ErrInvalidPayload), unknownCatalogRef(err):
		return c.Status(422).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(500).JSON(fiber.Map{"message": "Error saving workflow canvas", "error": err.Error()})
	}

	s.archive(w)
	return c.JSON(fiber.Map{"message": "Workflow canvas saved successfully", "workflow": w})
}

func (s *server) listTriggers(c fiber.Ctx) error {
	triggers, err := s.store.ListTriggers(c.Context())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"triggers": triggers})
}

func (s *server) showTrigger(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "trigger not found"})
	}
	t, err := s.store.GetTrigger(c.Context(), id)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	if t == nil {
		return c.Status(404).JSON(fiber.Map{"error": "trigger not found"})
	}
	return c.JSON(fiber.Map{"trigger": t})
}

func (s *server) listActions(c fiber.Ctx) error {
	actions, err := s.store.ListActions(c.Context())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"actions": actions})
}

func (s *server) showAction(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "action not found"})
	}
	a, err := s.store.GetAction(c.Context(), id)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	if a == nil {
		return c.Status(404).JSON(fiber.Map{"error": "action not found"})
	}
	return c.JSON(fiber.Map{"action": a})
}

// archive snapshots w in the background. Failures are logged by the
// archiver and never fail the save.
func (s *server) archive(w *canvas.Workflow) {
	if s.archiver == nil || w == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		_ = s.archiver.Archive(ctx, w)
	}()
}
