// Package web provides the read-and-manage HTTP surface over workflow
// records. Runs themselves are driven from the CLI; the API exposes
// inspection, pause, deletion and pruning.
package web

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/liuchzzyy/paperflow/pkg/checkpoint"
	"github.com/liuchzzyy/paperflow/pkg/engine"
	"github.com/liuchzzyy/paperflow/pkg/models"
)

type Handlers struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewHandlers(eng *engine.Engine, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine: eng,
		logger: logger,
	}
}

// GetWorkflows lists workflow records, optionally filtered by ?status=.
func (h *Handlers) GetWorkflows(c fiber.Ctx) error {
	var statusFilter *models.WorkflowStatus

	if statusStr := c.Query("status"); statusStr != "" {
		status, err := checkpoint.ParseStatus(statusStr)
		if err != nil {
			return badRequest(c, err.Error())
		}

		statusFilter = &status
	}

	workflows, err := h.engine.List(c.Context(), statusFilter)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

// GetWorkflow returns one workflow record.
func (h *Handlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(workflow)
}

// PauseWorkflow marks a running workflow as paused.
func (h *Handlers) PauseWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.Pause(c.Context(), c.Params("id"))
	if err != nil {
		if checkpoint.IsWorkflowNotFound(err) {
			return notFound(c, "workflow not found")
		}

		// Anything else is an invalid lifecycle transition.
		return badRequest(c, err.Error())
	}

	return c.JSON(workflow)
}

// DeleteWorkflow removes a workflow record.
func (h *Handlers) DeleteWorkflow(c fiber.Ctx) error {
	existed, err := h.engine.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if !existed {
		return notFound(c, "workflow not found")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// PruneWorkflows deletes terminal records older than ?age= (Go duration,
// default 720h).
func (h *Handlers) PruneWorkflows(c fiber.Ctx) error {
	age := 30 * 24 * time.Hour

	if ageStr := c.Query("age"); ageStr != "" {
		parsed, err := time.ParseDuration(ageStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "age must be a positive duration")
		}

		age = parsed
	}

	pruned, err := h.engine.Prune(c.Context(), age)
	if err != nil {
		return internalError(c, err)
	}

	h.logger.Info("Pruned workflow records", "count", pruned, "age", age)

	return c.JSON(fiber.Map{"pruned": pruned})
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
