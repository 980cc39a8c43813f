package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-sync/internal/connectivity"
)

func compileContract(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()

	schemaPath, err := filepath.Abs(filepath.Join("testdata", "contracts", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)
	return schema
}

func rawBody(t *testing.T, app *fiber.App, method, path string, body []byte) (int, interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var payload interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	return resp.StatusCode, payload
}

func TestQueuedActionsContract(t *testing.T) {
	schema := compileContract(t, "queued_actions.schema.json")
	fx := newHandlerFixture(t, connectivity.Offline)

	for i := 1; i <= 2; i++ {
		raw, err := json.Marshal(attendanceAction(i))
		require.NoError(t, err)
		status, _ := rawBody(t, fx.app, http.MethodPost, "/api/v1/offline/actions/queue", raw)
		require.Equal(t, http.StatusCreated, status)
	}

	status, payload := rawBody(t, fx.app, http.MethodGet, "/api/v1/offline/actions", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, schema.Validate(payload))
}

func TestSyncSummaryContract(t *testing.T) {
	schema := compileContract(t, "sync_summary.schema.json")

	t.Run("skipped", func(t *testing.T) {
		fx := newHandlerFixture(t, connectivity.Offline)
		status, payload := rawBody(t, fx.app, http.MethodPost, "/api/v1/offline/sync", nil)
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, schema.Validate(payload))
	})

	t.Run("drained", func(t *testing.T) {
		fx := newHandlerFixture(t, connectivity.Offline)
		raw, err := json.Marshal(attendanceAction(1))
		require.NoError(t, err)
		rawBody(t, fx.app, http.MethodPost, "/api/v1/offline/actions/queue", raw)

		fx.monitor.Signal(true)
		status, payload := rawBody(t, fx.app, http.MethodPost, "/api/v1/offline/sync", nil)
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, schema.Validate(payload))
	})
}
