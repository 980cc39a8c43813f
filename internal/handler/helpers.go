package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-sync/internal/middleware"
	"github.com/noah-isme/gema-sync/internal/queue"
	"github.com/noah-isme/gema-sync/internal/service"
	"github.com/noah-isme/gema-sync/internal/utils"
)

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := middleware.RequestLogger(c, base)
	return &logger
}

// respondError maps service errors onto the response envelope.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var limited *service.RateLimitError
	switch {
	case errors.As(err, &limited):
		return utils.SendRateLimited(c, limited.RetryAfterSeconds, err.Error(), nil)
	case errors.Is(err, service.ErrInvalidAction):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrOffline), errors.Is(err, service.ErrGeneratorUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, queue.ErrStoreUnavailable):
		requestLogger(logger, c).Error().Err(err).Msg("queue store unavailable")
		return utils.SendError(c, fiber.StatusServiceUnavailable, "queue store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return utils.SendError(c, fiber.StatusGatewayTimeout, err.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Msg("request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
