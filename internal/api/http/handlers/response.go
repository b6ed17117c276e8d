package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/doubt-service/internal/api/dto"
	"github.com/spec-kit/doubt-service/internal/auth"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

// respond writes the success envelope.
func respond(c *fiber.Ctx, status int, data any) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(status).JSON(fiber.Map{"success": true, "data": data})
}

func callerID(c *fiber.Ctx) (int64, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return 0, apperrors.NewUnauthorized("authentication required")
	}
	return principal.UserID(), nil
}

// bind parses an optional body into req and validates it.
func bind(c *fiber.Ctx, v *dto.Validator, req any) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	return v.Struct(req)
}
