package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rag-agent/backend/internal/apperr"
)

func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		return fiber.StatusBadRequest
	case apperr.ErrNotFound:
		return fiber.StatusNotFound
	case apperr.ErrTimeout:
		return fiber.StatusGatewayTimeout
	case apperr.ErrUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": apperr.UserMessage(err),
	})
}

// bodyInput returns the sanitized field stored by the validation middleware,
// or fallback when the middleware did not run.
func bodyInput(c *fiber.Ctx, fallback string) string {
	if v, ok := c.Locals(SanitizedInputKey).(string); ok {
		return v
	}
	return fallback
}

// SanitizedInputKey is the fiber local holding the cleaned query text.
const SanitizedInputKey = "sanitized_input"
