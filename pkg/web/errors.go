package web

import (
	"github.com/dukex/courier/pkg/flowgraph"
	"github.com/dukex/courier/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// invalidGraph lists every violation so editors can point at the offending nodes.
func invalidGraph(c fiber.Ctx, graphErr *flowgraph.InvalidGraphError) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"type":       "invalid_graph",
		"title":      "Bad Request",
		"status":     fiber.StatusBadRequest,
		"detail":     graphErr.Error(),
		"instance":   c.Path(),
		"violations": graphErr.Violations,
	})
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	if graphErr, ok := flowgraph.AsInvalidGraph(err); ok {
		return invalidGraph(c, graphErr)
	}

	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsNotFoundError(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("not_found").
			WithDetail(err.Error())

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c, err)
	}
}
