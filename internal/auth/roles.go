package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

// RequireActingUser ensures the request names the user it acts for.
func RequireActingUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if principal.UserID == 0 {
			return apperrors.NewValidationError(ActingUserHeader+" header required", nil)
		}
		return c.Next()
	}
}

// RequireAdmin ensures the client holds the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.IsAdmin() {
			return apperrors.NewForbidden("admin client required")
		}
		return c.Next()
	}
}
