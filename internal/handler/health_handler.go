package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-sync/internal/config"
	"github.com/noah-isme/gema-sync/internal/connectivity"
	"github.com/noah-isme/gema-sync/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	QueueDriver string    `json:"queue_driver"`
	Online      bool      `json:"online"`
	// QueueReachable is only set for queue drivers backed by a remote server.
	QueueReachable *bool `json:"queue_reachable,omitempty"`
}

const queueProbeTimeout = 2 * time.Second

// OnlineReporter exposes the last known connectivity state.
type OnlineReporter interface {
	IsOnline() bool
}

// HealthCheck reports process health. The agent is healthy while offline;
// connectivity is reported, not judged. An unreachable queue store marks the
// agent degraded since new actions cannot be queued. queueProbe may be nil.
func HealthCheck(cfg config.Config, conn OnlineReporter, queueProbe connectivity.Prober) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			QueueDriver: cfg.QueueDriver,
		}
		if conn != nil {
			payload.Online = conn.IsOnline()
		}
		if queueProbe != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), queueProbeTimeout)
			reachable := queueProbe.Probe(ctx) == nil
			cancel()
			payload.QueueReachable = &reachable
			if !reachable {
				payload.Status = "degraded"
			}
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
