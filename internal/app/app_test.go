package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almcli/internal/config"
	"almcli/internal/shared/testutil"
	ws "almcli/internal/websocket"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Paths.DataDir = testutil.WriteMarketData(t)
	cfg.Paths.ExportDir = filepath.Join(t.TempDir(), "exports")
	cfg.Paths.LogsDir = t.TempDir()
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(context.Background()) })
	return app
}

// TestApplication_Routes tests the wired router end to end
func TestApplication_Routes(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "health",
			method:         http.MethodGet,
			path:           "/api/health",
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"ok"`,
		},
		{
			name:           "readiness",
			method:         http.MethodGet,
			path:           "/api/health/ready",
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"ready"`,
		},
		{
			name:           "version",
			method:         http.MethodGet,
			path:           "/api/version",
			expectedStatus: http.StatusOK,
			expectedBody:   `"version":"` + Version + `"`,
		},
		{
			name:           "report list",
			method:         http.MethodGet,
			path:           "/api/reports",
			expectedStatus: http.StatusOK,
			expectedBody:   `"neutral_risk"`,
		},
		{
			name:           "cash flow report",
			method:         http.MethodGet,
			path:           "/api/reports/cash_flow?maturity=5Y",
			expectedStatus: http.StatusOK,
			expectedBody:   `"total_net_cf"`,
		},
		{
			name:           "parameters",
			method:         http.MethodGet,
			path:           "/api/parameters",
			expectedStatus: http.StatusOK,
			expectedBody:   `"opening_year":2015`,
		},
		{
			name:           "invalid json body",
			method:         http.MethodPut,
			path:           "/api/parameters",
			body:           `{"tax_rate":`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"INVALID_REQUEST"`,
		},
		{
			name:           "unknown route",
			method:         http.MethodGet,
			path:           "/api/unknown",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "method not allowed",
			method:         http.MethodDelete,
			path:           "/api/parameters",
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "prometheus metrics",
			method:         http.MethodGet,
			path:           "/metrics",
			expectedStatus: http.StatusOK,
			expectedBody:   "go_goroutines",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			app.Router.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

// TestApplication_SecurityHeaders tests headers added by the API middleware
func TestApplication_SecurityHeaders(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/api/health/live", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))
}

// TestApplication_UnsupportedMediaType tests that request bodies must be JSON
func TestApplication_UnsupportedMediaType(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	req := httptest.NewRequest(http.MethodPut, "/api/parameters", strings.NewReader("tax_rate=0.25"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNSUPPORTED_MEDIA_TYPE")
}

// TestNew_InvalidConfiguration tests wiring failures
func TestNew_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name:   "unknown cache backend",
			mutate: func(c *config.Config) { c.Cache.Backend = "memcached" },
		},
		{
			name:   "unknown parameter override",
			mutate: func(c *config.Config) { c.Model.Overrides = map[string]string{"premium": "1"} },
		},
		{
			name:   "unsupported trace exporter",
			mutate: func(c *config.Config) { c.Telemetry.TraceExporter = "zipkin" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
			assert.Error(t, err)
		})
	}
}

// TestApplication_Lifecycle tests serving over a real listener and the
// websocket event stream
func TestApplication_Lifecycle(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	require.NoError(t, app.Start(context.Background()))
	require.NotEmpty(t, app.Addr())
	base := "http://" + app.Addr()

	resp, err := http.Get(base + "/api/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+app.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage := func() ws.Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg ws.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}
	assert.Equal(t, ws.TypeConnection, readMessage().Type)

	req, err := http.NewRequest(http.MethodPut, base+"/api/parameters", strings.NewReader(`{"tax_rate": 0.25}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, ws.TypeParametersUpdated, readMessage().Type)

	require.NoError(t, app.Stop(context.Background()))
	assert.NoError(t, app.Stop(context.Background()))
	assert.NoError(t, app.Wait(context.Background()))
}
