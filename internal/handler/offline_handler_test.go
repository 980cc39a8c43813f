package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-sync/internal/connectivity"
	"github.com/noah-isme/gema-sync/internal/dto"
	"github.com/noah-isme/gema-sync/internal/middleware"
	"github.com/noah-isme/gema-sync/internal/ratelimit"
	"github.com/noah-isme/gema-sync/internal/service"
)

func TestPerformQueuesWhileOffline(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/actions", attendanceAction(1))
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.True(t, payload.Success)

	result := decodeData[dto.PerformResponse](t, payload)
	require.Equal(t, service.StatusQueued, result.Status)
	require.NotEmpty(t, result.ActionID)

	resp, payload = fx.do(t, http.MethodGet, "/api/v1/offline/actions/count", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 1, decodeData[dto.QueueCountResponse](t, payload).Count)

	resp, payload = fx.do(t, http.MethodGet, "/api/v1/offline/actions", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	actions := decodeData[[]dto.QueuedActionResponse](t, payload)
	require.Len(t, actions, 1)
	require.Equal(t, result.ActionID, actions[0].ID)
	require.Equal(t, "mark_attendance", actions[0].Action)
	require.EqualValues(t, 1, payload.Meta["count"])
}

func TestPerformExecutesWhileOnline(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Online)

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/actions", attendanceAction(1))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, service.StatusExecuted, decodeData[dto.PerformResponse](t, payload).Status)
	require.Equal(t, 1, fx.backend.insertCount())
}

func TestPerformRejectedByAdmissionControl(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline,
		ratelimit.WithPolicy(ratelimit.ActionQueue, ratelimit.Policy{MaxRequests: 1, Window: time.Minute}))

	resp, _ := fx.do(t, http.MethodPost, "/api/v1/offline/actions", attendanceAction(1))
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/actions", attendanceAction(2))
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	require.False(t, payload.Success)
	require.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))

	result := decodeData[dto.PerformResponse](t, payload)
	require.Equal(t, service.StatusRejected, result.Status)
	require.Positive(t, result.RetryAfterSeconds)

	count, err := fx.store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPerformRejectsUnknownRoute(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/actions", map[string]any{
		"type":    "attendance",
		"action":  "teleport",
		"payload": map[string]any{},
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.False(t, payload.Success)
}

func TestQueueActionReturnsCreated(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/actions/queue", attendanceAction(1))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(middleware.HeaderRateLimitRemaining))
	require.NotEmpty(t, decodeData[dto.QueueActionResponse](t, payload).ID)
}

func TestClearQueueRequiresStaffRole(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)
	fx.do(t, http.MethodPost, "/api/v1/offline/actions/queue", attendanceAction(1))

	resp, _ := fx.do(t, http.MethodDelete, "/api/v1/offline/actions", nil, testRoleHeader, middleware.RoleStudent)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = fx.do(t, http.MethodDelete, "/api/v1/offline/actions", nil, testRoleHeader, middleware.RoleAdmin)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	_, payload := fx.do(t, http.MethodGet, "/api/v1/offline/actions/count", nil)
	require.Zero(t, decodeData[dto.QueueCountResponse](t, payload).Count)
}

func TestSyncSkipsWhileOfflineAndDrainsWhenOnline(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)
	for i := 1; i <= 3; i++ {
		fx.do(t, http.MethodPost, "/api/v1/offline/actions/queue", attendanceAction(i))
	}

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/sync", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	summary := decodeData[dto.SyncSummary](t, payload)
	require.True(t, summary.Skipped)
	require.Equal(t, "offline", summary.Reason)

	fx.monitor.Signal(true)

	resp, payload = fx.do(t, http.MethodPost, "/api/v1/offline/sync", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	summary = decodeData[dto.SyncSummary](t, payload)
	require.False(t, summary.Skipped)
	require.Equal(t, 3, summary.Success)
	require.Equal(t, 3, summary.Total)
	require.Zero(t, summary.Failed)
	require.Equal(t, 3, fx.backend.insertCount())

	_, payload = fx.do(t, http.MethodGet, "/api/v1/offline/status", nil)
	status := decodeData[dto.StatusResponse](t, payload)
	require.True(t, status.Online)
	require.Zero(t, status.Pending)
	require.Equal(t, 3, status.MaxRetries)
	require.NotNil(t, status.LastSync)
	require.Equal(t, 3, status.LastSync.Success)
}

func TestSyncEndpointIsRateLimited(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Online,
		ratelimit.WithPolicy(ratelimit.ActionSyncNow, ratelimit.Policy{MaxRequests: 1, Window: time.Minute}))

	resp, _ := fx.do(t, http.MethodPost, "/api/v1/offline/sync", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/sync", nil)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	require.NotNil(t, payload.Details["retry_after_seconds"])
}

func TestLimitsReportsUsage(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)
	fx.do(t, http.MethodPost, "/api/v1/offline/actions", attendanceAction(1))

	resp, payload := fx.do(t, http.MethodGet, "/api/v1/offline/limits/"+ratelimit.ActionQueue, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	usage := decodeData[ratelimit.Usage](t, payload)
	require.Equal(t, 120, usage.Limit)
	require.Equal(t, 1, usage.Used)
	require.Equal(t, 119, usage.Remaining)
	require.False(t, usage.ApproachingLimit)
}

func TestBulkImportQueuesItemsOffline(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/bulk", map[string]any{
		"type":   "attendance",
		"action": "mark_attendance",
		"items": []map[string]any{
			{"student_id": 1, "class_id": 3, "date": "2026-03-02", "status": "present"},
			{"student_id": 2, "class_id": 3, "date": "2026-03-02", "status": "late"},
		},
	})
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	result := decodeData[dto.BulkImportResponse](t, payload)
	require.Equal(t, 2, result.Queued)
	require.Len(t, result.Items, 2)
	require.Equal(t, 0, result.Items[0].Index)
	require.Equal(t, 1, result.Items[1].Index)
}

func TestBulkImportRequiresStaffRole(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/bulk", map[string]any{
		"type":   "attendance",
		"action": "mark_attendance",
		"items":  []map[string]any{{"student_id": 1, "class_id": 3, "date": "2026-03-02", "status": "present"}},
	}, testRoleHeader, middleware.RoleStudent)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.False(t, payload.Success)

	count, err := fx.store.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestUpdateLimitPolicyRequiresAdmin(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)
	path := "/api/v1/offline/limits/" + ratelimit.ActionSyncNow
	body := map[string]any{"max_requests": 1, "window": "30s"}

	resp, _ := fx.do(t, http.MethodPut, path, body, testRoleHeader, middleware.RoleTeacher)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = fx.do(t, http.MethodPut, path, map[string]any{"max_requests": 1, "window": "soon"}, testRoleHeader, middleware.RoleAdmin)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = fx.do(t, http.MethodPut, path, map[string]any{"max_requests": 0, "window": "30s"}, testRoleHeader, middleware.RoleAdmin)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, payload := fx.do(t, http.MethodPut, path, body, testRoleHeader, middleware.RoleAdmin)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	updated := decodeData[dto.LimitPolicyResponse](t, payload)
	require.Equal(t, dto.LimitPolicyResponse{Action: ratelimit.ActionSyncNow, MaxRequests: 1, WindowSeconds: 30}, updated)

	resp, _ = fx.do(t, http.MethodPost, "/api/v1/offline/sync", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp, _ = fx.do(t, http.MethodPost, "/api/v1/offline/sync", nil)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "30", resp.Header.Get(fiber.HeaderRetryAfter))
}

func TestAIGenerateWithoutProviderIsUnavailable(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Online)

	resp, payload := fx.do(t, http.MethodPost, "/api/v1/offline/ai/generate", map[string]any{
		"kind":    "quiz",
		"subject": "Biology",
		"topic":   "Cells",
	})
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	require.False(t, payload.Success)
}

func TestStatusStreamRequiresUpgrade(t *testing.T) {
	fx := newHandlerFixture(t, connectivity.Offline)

	req, err := http.NewRequest(http.MethodGet, "/api/v1/offline/status/ws", nil)
	require.NoError(t, err)
	resp, err := fx.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
