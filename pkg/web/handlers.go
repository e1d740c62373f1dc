// Package web provides HTTP handlers and REST API endpoints for flows and campaign executions.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/registry"
	"github.com/dukex/courier/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flowService      *services.Flow
	executionService *services.Execution
	directory        *services.Directory
	validator        *validator.Validate
	registry         *registry.Registry
}

func NewAPIHandlers(
	flowService *services.Flow,
	executionService *services.Execution,
	directory *services.Directory,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		flowService:      flowService,
		executionService: executionService,
		directory:        directory,
		validator:        validator,
		registry:         registry,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Courier API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Courier API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetNodeKinds(c fiber.Ctx) error {
	factories := h.registry.GetAvailableNodes()

	kinds := make([]NodeKindResponse, 0, len(factories))
	for _, factory := range factories {
		kinds = append(kinds, NodeKindResponse{
			Kind:        factory.ID(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	return c.JSON(kinds)
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.flowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows, "total_count": len(flows)})
}

func (h *APIHandlers) SaveFlow(c fiber.Ctx) error {
	var req SaveFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	saved, err := h.flowService.Save(c.Context(), req.Flow())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ValidateFlow(c fiber.Ctx) error {
	if err := h.flowService.Validate(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"valid": true})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.executionService.Start(c.Context(), services.StartExecutionRequest{
		FlowID:         c.Params("id"),
		ContactIDs:     req.ContactIDs,
		IdempotencyKey: c.Get(IdempotencyKeyHeader),
		Variables:      req.Variables,
		BatchSize:      req.BatchSize,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	status := fiber.StatusAccepted
	if result.Existing {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(result)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	status, err := h.executionService.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) GetNodeExecutions(c fiber.Ctx) error {
	filter := models.NodeExecutionFilter{
		ExecutionID: c.Params("id"),
		ContactID:   c.Query("contact_id"),
		Status:      models.NodeExecutionStatus(c.Query("status")),
	}

	var err error

	if limit := c.Query("limit"); limit != "" {
		if filter.Limit, err = strconv.Atoi(limit); err != nil {
			return badRequest(c, "Invalid query parameters: limit must be a number")
		}
	}

	if offset := c.Query("offset"); offset != "" {
		if filter.Offset, err = strconv.Atoi(offset); err != nil {
			return badRequest(c, "Invalid query parameters: offset must be a number")
		}
	}

	page, err := h.executionService.NodeExecutions(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"node_executions": page.NodeExecutions,
		"total_count":     page.TotalCount,
		"has_next_page":   page.HasNextPage,
		"pagination": fiber.Map{
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
	})
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	paused, err := h.executionService.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(paused)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	resumed, err := h.executionService.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(resumed)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	cancelled, err := h.executionService.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cancelled)
}

func (h *APIHandlers) SubmitReply(c fiber.Ctx) error {
	var req ReplyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.executionService.Reply(c.Context(), c.Params("id"), c.Params("contactId"), req.Text); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) SaveContacts(c fiber.Ctx) error {
	var req SaveContactsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.directory.SaveContacts(c.Context(), req.Contacts); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"saved": len(req.Contacts)})
}

func (h *APIHandlers) SaveTool(c fiber.Ctx) error {
	var req SaveToolRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	saved, err := h.directory.SaveTool(c.Context(), req.Tool())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (h *APIHandlers) GetTool(c fiber.Ctx) error {
	tool, err := h.directory.Tool(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tool)
}
