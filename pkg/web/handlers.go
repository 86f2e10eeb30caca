package web

import (
	"log/slog"

	"github.com/dukex/notiflow/pkg/engine"
	"github.com/dukex/notiflow/pkg/models"
	"github.com/dukex/notiflow/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type BridgeHandlers struct {
	registry  *registry.Registry
	validator *validator.Validate
	logger    *slog.Logger
}

func NewBridgeHandlers(
	registry *registry.Registry,
	validator *validator.Validate,
	logger *slog.Logger,
) *BridgeHandlers {
	return &BridgeHandlers{
		registry:  registry,
		validator: validator,
		logger:    logger,
	}
}

// Get serves the read-only bridge actions.
func (h *BridgeHandlers) Get(c fiber.Ctx) error {
	switch action := c.Query("action", ActionHealthCheck); action {
	case ActionHealthCheck:
		return c.JSON(h.registry.HealthCheck())
	case ActionDiscover:
		return h.discover(c)
	case ActionCode:
		return h.code(c)
	default:
		return badRequest(c, "Unsupported action: "+action)
	}
}

// Post serves the execute action.
func (h *BridgeHandlers) Post(c fiber.Ctx) error {
	if action := c.Query("action"); action != ActionExecute {
		return badRequest(c, "Unsupported action: "+action)
	}

	workflowID := c.Query("workflowId")
	if workflowID == "" {
		return badRequest(c, "workflowId is required")
	}

	return h.execute(c, workflowID)
}

// Execute serves POST /workflows/:workflowId/execute.
func (h *BridgeHandlers) Execute(c fiber.Ctx) error {
	return h.execute(c, c.Params("workflowId"))
}

func (h *BridgeHandlers) discover(c fiber.Ctx) error {
	response, err := h.registry.Describe(c.Query("workflowId"))
	if err != nil {
		return handleRegistryError(c, err)
	}

	return c.JSON(response)
}

func (h *BridgeHandlers) code(c fiber.Ctx) error {
	workflowID := c.Query("workflowId")
	if workflowID == "" {
		return badRequest(c, "workflowId is required")
	}

	response, err := h.registry.GetCode(workflowID, c.Query("stepId"))
	if err != nil {
		return handleRegistryError(c, err)
	}

	return c.JSON(response)
}

func (h *BridgeHandlers) execute(c fiber.Ctx, workflowID string) error {
	var req ExecuteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	metadata := req.Metadata
	if len(req.To.Attributes) > 0 {
		metadata = make(map[string]any, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			metadata[k] = v
		}

		metadata["subscriber"] = req.To.Attributes
	}

	execCtx, err := h.registry.Trigger(c.Context(), workflowID, registry.TriggerRequest{
		Recipient:    req.To.SubscriberID,
		Data:         req.Payload,
		Metadata:     metadata,
		Controls:     req.Controls,
		StepControls: engine.StepControls(req.StepControls),
	})
	if err != nil {
		return handleRegistryError(c, err)
	}

	response := NewExecuteResponse(execCtx)

	if execCtx.Status == models.ExecutionStatusFailed {
		h.logger.Error("Workflow execution failed",
			"workflow_id", workflowID,
			"execution_id", execCtx.ID,
			"error", execCtx.Error,
		)

		return executionFailed(c, response, execCtx.Err())
	}

	return c.JSON(response)
}

// Mount registers the bridge routes on router, usually the /api/novu group.
func (h *BridgeHandlers) Mount(router fiber.Router) {
	router.Get("/", h.Get)
	router.Post("/", h.Post)
	router.Post("/workflows/:workflowId/execute", h.Execute)
}
