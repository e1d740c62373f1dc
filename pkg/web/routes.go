package web

import "github.com/gofiber/fiber/v3"

// Register mounts the flow, execution and directory endpoints on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/node-kinds", h.GetNodeKinds)

	f := router.Group("/flows")
	f.Get("/", h.GetFlows)
	f.Post("/", h.SaveFlow)
	f.Get("/:id", h.GetFlow)
	f.Post("/:id/validate", h.ValidateFlow)
	f.Post("/:id/executions", h.StartExecution)

	e := router.Group("/executions")
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/node-executions", h.GetNodeExecutions)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)
	e.Post("/:id/cancel", h.CancelExecution)
	e.Post("/:id/contacts/:contactId/reply", h.SubmitReply)

	router.Post("/contacts", h.SaveContacts)

	t := router.Group("/tools")
	t.Post("/", h.SaveTool)
	t.Get("/:id", h.GetTool)
}

// Register mounts the push queue callback on router.
func (h *QueueHandlers) Register(router fiber.Router) {
	router.Post("/queue/campaign-batches", h.CampaignBatch)
}
