package web

import (
	"github.com/dukex/notiflow/pkg/registry"
	"github.com/dukex/notiflow/pkg/schema"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// ExecutionProblem is the problem body of a failed execution. It carries the
// partial step results.
type ExecutionProblem struct {
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Status    int             `json:"status,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Instance  string          `json:"instance,omitempty"`
	Execution ExecuteResponse `json:"execution"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

func executionFailed(c fiber.Ctx, response ExecuteResponse, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("step_execution_error").
		WithDetail(err.Error())

	return c.Status(fiber.StatusInternalServerError).JSON(ExecutionProblem{
		Type:      problem.Type,
		Title:     problem.Title,
		Status:    problem.Status,
		Detail:    problem.Detail,
		Instance:  problem.Instance,
		Execution: response,
	})
}

// handleRegistryError maps registry errors to problem responses.
func handleRegistryError(c fiber.Ctx, err error) error {
	switch {
	case registry.IsNotFoundError(err):
		return notFound(c, err.Error())
	case registry.IsPayloadValidationError(err), schema.IsValidationError(err):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}
