package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-sync/internal/dto"
	"github.com/noah-isme/gema-sync/internal/middleware"
	"github.com/noah-isme/gema-sync/internal/ratelimit"
	"github.com/noah-isme/gema-sync/internal/service"
	"github.com/noah-isme/gema-sync/internal/utils"
)

const statusPingInterval = 30 * time.Second

// OfflineHandler exposes the offline action queue over HTTP.
type OfflineHandler struct {
	service service.OfflineService
	bulk    service.BulkImportService
	ai      service.AIGenerationService
	broker  *service.StatusBroker
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// NewOfflineHandler constructs the handler. bulk, ai and broker may be nil, in
// which case their routes are not registered.
func NewOfflineHandler(
	svc service.OfflineService,
	bulk service.BulkImportService,
	ai service.AIGenerationService,
	broker *service.StatusBroker,
	limiter *ratelimit.Limiter,
	logger zerolog.Logger,
) *OfflineHandler {
	return &OfflineHandler{
		service: svc,
		bulk:    bulk,
		ai:      ai,
		broker:  broker,
		limiter: limiter,
		logger:  logger.With().Str("component", "offline_handler").Logger(),
	}
}

// Register binds offline routes under the provided router group.
func (h *OfflineHandler) Register(router fiber.Router) {
	router.Post("/actions", h.perform)
	router.Post("/actions/queue", middleware.Admission(h.limiter, ratelimit.ActionQueue), h.queue)
	router.Get("/actions", h.list)
	router.Get("/actions/count", h.count)
	router.Delete("/actions", middleware.RequireRole(middleware.RoleAdmin, middleware.RoleTeacher), h.clear)
	router.Post("/sync", middleware.Admission(h.limiter, ratelimit.ActionSyncNow), h.sync)
	router.Get("/status", h.status)
	router.Get("/limits/:action", middleware.WithAuth(h.limits, middleware.AuthOptions{}))
	if h.limiter != nil {
		router.Put("/limits/:action", middleware.WithAuth(h.setLimit, middleware.AuthOptions{Roles: []string{middleware.RoleAdmin}}))
	}

	if h.broker != nil {
		router.Use("/status/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				c.Locals("request_ctx", requestContext(c))
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		router.Get("/status/ws", websocket.New(h.stream))
	}
	if h.bulk != nil {
		router.Post("/bulk", middleware.WithAuth(h.bulkImport, middleware.AuthOptions{
			Roles: []string{middleware.RoleAdmin, middleware.RoleTeacher, middleware.RoleStaff},
		}))
	}
	if h.ai != nil {
		router.Post("/ai/generate", h.generate)
	}
}

func (h *OfflineHandler) perform(c *fiber.Ctx) error {
	var req dto.ActionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Perform(requestContext(c), middleware.Identifier(c), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	switch result.Status {
	case service.StatusRejected:
		return utils.SendRateLimited(c, result.RetryAfterSeconds, "action rejected by admission control", result)
	case service.StatusQueued:
		return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "action queued", result)
	default:
		return utils.SendSuccess(c, "action executed", result)
	}
}

func (h *OfflineHandler) queue(c *fiber.Ctx) error {
	var req dto.ActionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	id, err := h.service.QueueAction(requestContext(c), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "action queued", dto.QueueActionResponse{ID: id})
}

func (h *OfflineHandler) list(c *fiber.Ctx) error {
	actions, err := h.service.GetQueuedActions(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, actions, "queued actions", fiber.Map{"count": len(actions)})
}

func (h *OfflineHandler) count(c *fiber.Ctx) error {
	count, err := h.service.GetQueuedActionsCount(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "queued action count", dto.QueueCountResponse{Count: count})
}

func (h *OfflineHandler) clear(c *fiber.Ctx) error {
	if err := h.service.ClearQueue(requestContext(c)); err != nil {
		return respondError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Warn().Str("role", middleware.UserRole(c)).Msg("queue cleared by operator")
	return utils.SendSuccess(c, "queue cleared", nil)
}

func (h *OfflineHandler) sync(c *fiber.Ctx) error {
	summary, err := h.service.SyncQueuedActions(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	message := "sync completed"
	if summary.Skipped {
		message = "sync skipped"
	}
	return utils.SendSuccess(c, message, summary)
}

func (h *OfflineHandler) status(c *fiber.Ctx) error {
	status, err := h.service.Status(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "agent status", status)
}

func (h *OfflineHandler) limits(c *fiber.Ctx) error {
	action := strings.TrimSpace(c.Params("action"))
	if action == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "action required")
	}

	return utils.SendSuccess(c, "rate limit usage", h.service.Usage(action, middleware.Identifier(c)))
}

func (h *OfflineHandler) setLimit(c *fiber.Ctx) error {
	action := strings.TrimSpace(c.Params("action"))

	var req dto.LimitPolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	window, err := time.ParseDuration(req.Window)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "window must be a duration such as 30s or 1m")
	}

	policy := ratelimit.Policy{MaxRequests: req.MaxRequests, Window: window}
	if err := h.limiter.SetPolicy(action, policy); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	requestLogger(h.logger, c).Info().
		Str("action", action).
		Int("max_requests", policy.MaxRequests).
		Dur("window", policy.Window).
		Msg("admission policy replaced by operator")
	return utils.SendSuccess(c, "rate limit policy updated", dto.LimitPolicyResponse{
		Action:        action,
		MaxRequests:   policy.MaxRequests,
		WindowSeconds: int(policy.Window / time.Second),
	})
}

func (h *OfflineHandler) bulkImport(c *fiber.Ctx) error {
	var req dto.BulkImportRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.bulk.Import(requestContext(c), middleware.Identifier(c), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	status := fiber.StatusOK
	if response.Queued > 0 || response.Failed > 0 {
		status = fiber.StatusAccepted
	}
	return utils.SendSuccessWithStatus(c, status, "bulk import processed", response)
}

func (h *OfflineHandler) generate(c *fiber.Ctx) error {
	var req dto.AIGenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.ai.Generate(requestContext(c), middleware.Identifier(c), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "content generated", response)
}

func (h *OfflineHandler) stream(conn *websocket.Conn) {
	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	events, cleanup := h.broker.Subscribe()
	defer cleanup()

	logger := h.logger.With().Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).Logger()
	logger.Debug().Msg("status stream connected")
	defer logger.Debug().Msg("status stream disconnected")

	if status, err := h.service.Status(ctx); err == nil {
		snapshot := dto.StatusEvent{
			Event:  dto.StatusEventSnapshot,
			Online: &status.Online,
			Status: &status,
			At:     time.Now().UTC(),
		}
		if err := conn.WriteJSON(snapshot); err != nil {
			return
		}
	} else {
		logger.Warn().Err(err).Msg("status snapshot unavailable")
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
