package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func invalidFlow(c fiber.Ctx, invalid *flow.InvalidFlowError) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("invalid_flow").
		WithDetail(invalid.Error())

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleStoreError maps flow store errors onto problem responses.
func handleStoreError(c fiber.Ctx, err error) error {
	var invalid *flow.InvalidFlowError

	switch {
	case errors.As(err, &invalid):
		return invalidFlow(c, invalid)
	case persistence.IsFlowNotFound(err):
		return notFound(c, "flow not found")
	case persistence.IsVersionNotFound(err):
		return notFound(c, "flow version not found")
	case errors.Is(err, persistence.ErrNoPublishedVersion):
		return notFound(c, "flow has no published version")
	case errors.Is(err, persistence.ErrVersionActive):
		return conflict(c, "the active flow version cannot be deleted")
	case errors.Is(err, persistence.ErrVersionNotPublished):
		return conflict(c, "only previously published versions can be rolled back")
	default:
		return internalError(c, err)
	}
}
