package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/doulaflow/doulaflow/pkg/workflow"
)

// OrganizationHeader carries the tenant for workflow creation and manual
// triggers.
const OrganizationHeader = "X-Organization-ID"

type APIHandlers struct {
	persistence persistence.Persistence
	lifecycle   *workflow.Lifecycle
	analytics   *workflow.Analytics
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	p persistence.Persistence,
	lifecycle *workflow.Lifecycle,
	analytics *workflow.Analytics,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		lifecycle:   lifecycle,
		analytics:   analytics,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
	}
}

// Register mounts every route on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	workflows := app.Group("/workflows")
	workflows.Get("/", h.ListWorkflows)
	workflows.Post("/", h.CreateWorkflow)
	workflows.Get("/:id", h.GetWorkflow)
	workflows.Put("/:id", h.UpdateWorkflow)
	workflows.Delete("/:id", h.DeleteWorkflow)
	workflows.Get("/:id/validate", h.ValidateWorkflow)
	workflows.Post("/:id/activate", h.ActivateWorkflow)
	workflows.Post("/:id/trigger", h.TriggerWorkflow)
	workflows.Get("/:id/executions", h.ListExecutions)
	workflows.Get("/:id/analytics", h.GetAnalytics)

	executions := app.Group("/executions")
	executions.Get("/:id", h.GetExecution)
	executions.Post("/:id/retry", h.RetryExecution)
	executions.Post("/:id/cancel", h.CancelExecution)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().GetAll(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	if objectType := c.Query("object_type"); objectType != "" {
		filtered := make([]*models.Workflow, 0, len(workflows))

		for _, wf := range workflows {
			if wf.ObjectType == models.ObjectType(objectType) {
				filtered = append(filtered, wf)
			}
		}

		workflows = filtered
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.persistence.WorkflowRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wf := req.ToWorkflow(c.Get(OrganizationHeader))

	err := h.persistence.WorkflowRepository().Save(c.Context(), wf)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(wf)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	existing, err := h.persistence.WorkflowRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wf := req.ToWorkflow(existing.OrganizationID)
	wf.ID = existing.ID
	wf.IsActive = existing.IsActive
	wf.CreatedAt = existing.CreatedAt

	// Keep the armed schedule unless the cron changed, in which case the
	// scheduler re-arms against the new expression.
	if wf.TriggerConfig.Cron == existing.TriggerConfig.Cron {
		wf.NextFireAt = existing.NextFireAt
	}

	err = h.persistence.WorkflowRepository().Save(c.Context(), wf)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.persistence.WorkflowRepository().Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	wf, err := h.persistence.WorkflowRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow.ValidateWorkflow(wf))
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	var req ActivateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.lifecycle.ToggleActive(c.Context(), c.Params("id"), req.Active)
	if err != nil {
		if errors.Is(err, workflow.ErrWorkflowInvalid) {
			// Surface the validation errors so the builder can fix them.
			return c.Status(fiber.StatusUnprocessableEntity).JSON(result)
		}

		return handleEngineError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	var req TriggerExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.lifecycle.TriggerManually(c.Context(), c.Params("id"), req.RecordType, req.RecordID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit: "+limitStr)
		}

		limit = parsed
	}

	executions, err := h.persistence.ExecutionRepository().ListByWorkflow(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.persistence.ExecutionRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	steps, err := h.persistence.StepExecutionRepository().ListByExecution(c.Context(), execution.ID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(ExecutionDetailResponse{Execution: execution, Steps: steps})
}

func (h *APIHandlers) RetryExecution(c fiber.Ctx) error {
	execution, err := h.lifecycle.RetryExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	err := h.lifecycle.CancelExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetAnalytics(c fiber.Ctx) error {
	analyticsRange, err := workflow.ParseAnalyticsRange(c.Query("range"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	report, err := h.analytics.ForWorkflow(c.Context(), c.Params("id"), analyticsRange)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError

		h.logger.ErrorContext(c.Context(), "Persistence health check failed", "error", err)
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
