package errors

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// maxLoggedBody caps the request body kept for error logging.
const maxLoggedBody = 1 << 20

// ErrorMiddleware recovers panics and logs failed requests with their body
type ErrorMiddleware struct {
	handler *ErrorHandler
	logger  *slog.Logger
}

// NewErrorMiddleware creates a new error handling middleware
func NewErrorMiddleware(handler *ErrorHandler, logger *slog.Logger) *ErrorMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorMiddleware{
		handler: handler,
		logger:  logger.With(slog.String("component", "error_middleware")),
	}
}

// Handler returns the middleware handler function
func (m *ErrorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var requestBody []byte
		if r.Body != nil && r.ContentLength > 0 && r.ContentLength < maxLoggedBody {
			requestBody, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				m.handler.HandlePanic(ww, r, rec)
			}
		}()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status < http.StatusBadRequest {
			return
		}

		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		}
		if r.URL.RawQuery != "" {
			attrs = append(attrs, slog.String("query", r.URL.RawQuery))
		}
		if len(requestBody) > 0 {
			body := sanitizeRequestBody(string(requestBody))
			if len(body) > 500 {
				body = body[:500] + "..."
			}
			attrs = append(attrs, slog.String("request_body", body))
		}
		m.logger.LogAttrs(r.Context(), level, "request failed", attrs...)
	})
}

// sanitizeRequestBody redacts credentials from a JSON body
func sanitizeRequestBody(body string) string {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return body
	}
	for _, field := range []string{"password", "token", "secret", "api_key", "redis_url"} {
		if _, exists := data[field]; exists {
			data[field] = "[REDACTED]"
		}
	}
	sanitized, _ := json.Marshal(data)
	return string(sanitized)
}

// RecoveryMiddleware provides panic recovery with proper error responses
func RecoveryMiddleware(handler *ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					handler.HandlePanic(w, r, rec)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
