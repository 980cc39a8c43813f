package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-sync/internal/config"
	"github.com/noah-isme/gema-sync/internal/connectivity"
	"github.com/noah-isme/gema-sync/internal/handler"
	"github.com/noah-isme/gema-sync/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	OfflineHandler *handler.OfflineHandler
	Connectivity   handler.OnlineReporter
	QueueProbe     connectivity.Prober
	JWTMiddleware  fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Connectivity, deps.QueueProbe))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.OfflineHandler != nil {
		offline := api.Group("/offline", jwtMiddleware)
		deps.OfflineHandler.Register(offline)
	}
}
