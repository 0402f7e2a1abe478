package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/ngbi/ijbatch/internal/macros"
	"github.com/ngbi/ijbatch/internal/middleware"
	"github.com/ngbi/ijbatch/internal/model"
	"github.com/ngbi/ijbatch/internal/service"
	"github.com/ngbi/ijbatch/internal/validation"
	"github.com/ngbi/ijbatch/pkg/response"
)

type BatchHandler struct {
	service   *service.BatchService
	validator *validator.Validate
}

func NewBatchHandler(svc *service.BatchService, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/batches
func (h *BatchHandler) Start(c *fiber.Ctx) error {
	var req model.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", validation.FieldErrors(err))
	}

	result, err := h.service.StartBatch(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		if errors.Is(err, macros.ErrUnknownMacro) {
			return response.UnknownMacro(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/batches/:batchId
func (h *BatchHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), c.Params("batchId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Run handles GET /api/runs/:runId
func (h *BatchHandler) Run(c *fiber.Ctx) error {
	result, err := h.service.GetRun(c.Context(), middleware.GetUserID(c), c.Params("runId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Macros handles GET /api/macros
func (h *BatchHandler) Macros(c *fiber.Ctx) error {
	list, err := h.service.Macros()
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"macros": list})
}

func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return response.NotFound(c, "Batch not found")
	case errors.Is(err, service.ErrForbidden):
		return response.Forbidden(c, "Batch belongs to another user")
	default:
		return response.ServiceError(c, err.Error())
	}
}

// Watch guards GET /ws/batches/:batchId: only websocket upgrades by the
// batch owner pass.
func (h *BatchHandler) Watch(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), c.Params("batchId")); err != nil {
		return serviceError(c, err)
	}
	return c.Next()
}
