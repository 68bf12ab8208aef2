package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	apierrors "almcli/internal/errors"
	"almcli/internal/infrastructure"
	"almcli/internal/shared/testutil"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

// TestRequestID tests request ID propagation
func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"generated", ""},
		{"propagated", "client-supplied-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen, trace string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = chimw.GetReqID(r.Context())
				trace = infrastructure.GetTraceID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, trace)
			assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
			if tt.header != "" {
				assert.Equal(t, tt.header, seen)
			} else {
				assert.Len(t, seen, 36)
			}
		})
	}
}

// TestStructuredLogger tests request completion logging
func TestStructuredLogger(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := RequestID(StructuredLogger(logger)(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	testutil.AssertLogContains(t, logs, slog.LevelInfo, "request completed")
	testutil.AssertLogAttr(t, logs, "request_id", "req-7")
	testutil.AssertLogAttr(t, logs, "status", int64(http.StatusOK))
	testutil.AssertLogAttr(t, logs, "component", "http")
}

// TestRateLimiter tests token bucket rejection
func TestRateLimiter(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	rl := NewRateLimiter(0.001, 2, apierrors.NewErrorHandler(logger, false), logger)
	h := rl.Handler(okHandler)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apierrors.ContentTypeProblem, w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.True(t, logs.ContainsMessage("rate limit exceeded"))
}

// TestTimeout tests that handlers see a bounded context
func TestTimeout(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)

	var deadline bool
	h := Timeout(10*time.Millisecond, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
		<-r.Context().Done()
		apierrors.NewErrorHandler(logger, false).HandleError(w, r, r.Context().Err())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/reports/cash_flow", nil))
	assert.True(t, deadline)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.True(t, logs.ContainsMessage("request timeout"))

	t.Run("websocket upgrades are not bounded", func(t *testing.T) {
		var hasDeadline bool
		h := Timeout(time.Millisecond, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, hasDeadline = r.Context().Deadline()
		}))
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Upgrade", "websocket")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.False(t, hasDeadline)
	})
}

// TestCORS tests origin handling and preflight
func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}})(okHandler)

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
	}{
		{"allowed origin", http.MethodGet, "http://localhost:3000", false, http.StatusOK, "http://localhost:3000"},
		{"other origin", http.MethodGet, "http://evil.example", false, http.StatusOK, ""},
		{"allowed preflight", http.MethodOptions, "http://localhost:3000", true, http.StatusNoContent, "http://localhost:3000"},
		{"rejected preflight", http.MethodOptions, "http://evil.example", true, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/parameters", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPut)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

// TestSecureHeaders tests header decoration
func TestSecureHeaders(t *testing.T) {
	h := DefaultSecureHeaders().Handler(okHandler)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("X-Frame-Options"))
}

// TestAuditLog tests that only state changes are audited
func TestAuditLog(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := AuditLog(logger)(okHandler)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/parameters", nil))
	assert.Equal(t, 0, logs.Count())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/parameters", strings.NewReader("{}")))
	testutil.AssertLogContains(t, logs, slog.LevelInfo, "audit log")
	testutil.AssertLogAttr(t, logs, "accepted", true)
}

// TestOTelMiddleware tests spans and HTTP instruments
func TestOTelMiddleware(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	defer tp.Shutdown(context.Background())

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())
	metrics, err := infrastructure.CreateBusinessMetrics(mp.Meter("test"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(NewOTelMiddleware(tp.Tracer("test"), metrics, nil).Handler)
	r.Get("/api/reports/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/reports/cash_flow", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /api/reports/{name}", ended[0].Name())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_requests_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
				route, _ := dp.Attributes.Value("route")
				assert.Equal(t, "/api/reports/{name}", route.AsString())
			}
		}
	}
	assert.Equal(t, int64(1), total)
}
