package web

import (
	"log/slog"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/queue"
	"github.com/gofiber/fiber/v3"
)

// QueueHandlers receives batch jobs pushed by an HTTP queue transport. A 500
// answer asks the transport to deliver the job again.
type QueueHandlers struct {
	logger  *slog.Logger
	handler queue.BatchHandler
}

func NewQueueHandlers(logger *slog.Logger, handler queue.BatchHandler) *QueueHandlers {
	return &QueueHandlers{
		logger:  logger.With("module", "queue_callback"),
		handler: handler,
	}
}

func (h *QueueHandlers) CampaignBatch(c fiber.Ctx) error {
	var job models.BatchJob
	if err := c.Bind().JSON(&job); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if job.ExecutionID == "" || len(job.ContactIDs) == 0 {
		return badRequest(c, "execution_id and contact_ids are required")
	}

	if err := h.handler(c.Context(), job); err != nil {
		h.logger.ErrorContext(c.Context(), "batch failed, asking for redelivery",
			"execution_id", job.ExecutionID, "batch_seq", job.Sequence, "error", err)

		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"status": "processed"})
}
