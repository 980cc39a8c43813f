package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-sync/internal/ratelimit"
	"github.com/noah-isme/gema-sync/internal/utils"
)

// HeaderRateLimitRemaining reports the budget left after an admitted request.
const HeaderRateLimitRemaining = "X-RateLimit-Remaining"

// Admission guards a route with the sliding-window limiter under the given
// action name. Requests are keyed by authenticated user, falling back to the
// client IP.
func Admission(limiter *ratelimit.Limiter, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		decision := limiter.CheckLimit(action, Identifier(c))
		if !decision.Allowed {
			return utils.SendRateLimited(c, decision.RetryAfterSeconds, "rate limit exceeded for "+action, nil)
		}

		c.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
		return c.Next()
	}
}

// Identifier is the limiter key for the current request.
func Identifier(c *fiber.Ctx) string {
	if userID := UserID(c); userID != "" {
		return userID
	}
	return c.IP()
}
