package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-sync/internal/connectivity"
	"github.com/noah-isme/gema-sync/internal/dispatch"
	"github.com/noah-isme/gema-sync/internal/handler"
	"github.com/noah-isme/gema-sync/internal/middleware"
	"github.com/noah-isme/gema-sync/internal/models"
	"github.com/noah-isme/gema-sync/internal/queue"
	"github.com/noah-isme/gema-sync/internal/ratelimit"
	"github.com/noah-isme/gema-sync/internal/retry"
	"github.com/noah-isme/gema-sync/internal/service"
	"github.com/noah-isme/gema-sync/internal/syncer"
	"github.com/noah-isme/gema-sync/internal/workpool"
)

const testRoleHeader = "X-Test-Role"

type stubBackend struct {
	mu      sync.Mutex
	inserts int
	err     error
}

func (b *stubBackend) Insert(context.Context, string, map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.inserts++
	return nil
}

func (b *stubBackend) Update(context.Context, string, string, map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *stubBackend) Upsert(context.Context, string, []map[string]any, []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *stubBackend) insertCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inserts
}

type handlerFixture struct {
	app          *fiber.App
	store        *queue.MemoryStore
	backend      *stubBackend
	monitor      *connectivity.Monitor
	orchestrator *syncer.Orchestrator
	broker       *service.StatusBroker
}

func newHandlerFixture(t *testing.T, initial connectivity.State, limiterOpts ...ratelimit.Option) handlerFixture {
	t.Helper()

	logger := zerolog.Nop()
	store := queue.NewMemoryStore()
	backend := &stubBackend{}
	validate := validator.New()

	dispatcher := dispatch.NewDispatcher(time.Second, logger)
	require.NoError(t, dispatch.RegisterDefaults(dispatcher, backend, validate))

	broker := service.NewStatusBroker()
	monitor := connectivity.NewMonitor(nil, connectivity.Options{Initial: initial, OnTransition: broker.Connectivity}, logger)
	orchestrator := syncer.NewOrchestrator(store, dispatcher, monitor, syncer.Options{}, logger)
	orchestrator.AddReporter(broker)
	limiter := ratelimit.NewLimiter(logger, limiterOpts...)

	offline := service.NewOfflineService(store, dispatcher, monitor, orchestrator, limiter, validate, logger)
	bulk := service.NewBulkImportService(offline, limiter, workpool.New(2), validate, logger)
	aiService := service.NewAIGenerationService(nil, limiter, monitor, retry.Options{MaxAttempts: 1}, validate, logger)

	app := fiber.New()
	app.Use(middleware.CorrelationID())
	group := app.Group("/api/v1/offline", func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalUserID, "teacher-1")
		role := c.Get(testRoleHeader)
		if role == "" {
			role = middleware.RoleTeacher
		}
		c.Locals(middleware.LocalUserRole, role)
		return c.Next()
	})
	handler.NewOfflineHandler(offline, bulk, aiService, broker, limiter, logger).Register(group)

	return handlerFixture{
		app:          app,
		store:        store,
		backend:      backend,
		monitor:      monitor,
		orchestrator: orchestrator,
		broker:       broker,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Meta    map[string]any  `json:"meta"`
	Details map[string]any  `json:"details"`
}

func (f handlerFixture) do(t *testing.T, method, path string, body any, headers ...string) (*http.Response, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	return resp, payload
}

func decodeData[T any](t *testing.T, payload envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(payload.Data, &out))
	return out
}

func attendanceAction(studentID int) map[string]any {
	return map[string]any{
		"type":   "attendance",
		"action": "mark_attendance",
		"payload": map[string]any{
			"student_id": studentID,
			"class_id":   3,
			"date":       "2026-03-02",
			"status":     "present",
		},
	}
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}

func queuedAttendance(studentID int) *models.QueuedAction {
	raw, _ := json.Marshal(attendanceAction(studentID)["payload"])
	return &models.QueuedAction{
		Type:    models.ActionTypeAttendance,
		Action:  "mark_attendance",
		Payload: raw,
	}
}
