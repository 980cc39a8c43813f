package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-sync/internal/utils"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	// Roles restricts access; empty allows any authenticated role.
	Roles []string
	// AllowAnonymous lets requests without a subject through when Roles is empty.
	AllowAnonymous bool
}

// WithAuth wraps a single handler with authentication/authorization guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	allowed := roleSet(opts.Roles)

	return func(c *fiber.Ctx) error {
		userID := UserID(c)
		if userID == "" && (len(allowed) > 0 || !opts.AllowAnonymous) {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		if len(allowed) > 0 {
			if _, ok := allowed[UserRole(c)]; !ok {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		}

		return handler(c)
	}
}
