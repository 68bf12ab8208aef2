package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// SecureHeaders provides configurable security headers
type SecureHeaders struct {
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
}

// DefaultSecureHeaders returns the headers used for the JSON API.
func DefaultSecureHeaders() *SecureHeaders {
	return &SecureHeaders{
		HSTSMaxAge:            63072000,
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebSocket(r) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if sh.HSTSMaxAge > 0 && r.TLS != nil {
			hsts := fmt.Sprintf("max-age=%d", sh.HSTSMaxAge)
			if sh.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			h.Set("Strict-Transport-Security", hsts)
		}
		if sh.ContentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", sh.ContentSecurityPolicy)
		}
		if sh.XFrameOptions != "" {
			h.Set("X-Frame-Options", sh.XFrameOptions)
		}
		if sh.XContentTypeOptions != "" {
			h.Set("X-Content-Type-Options", sh.XContentTypeOptions)
		}
		if sh.ReferrerPolicy != "" {
			h.Set("Referrer-Policy", sh.ReferrerPolicy)
		}
		next.ServeHTTP(w, r)
	})
}

// AuditLog records state-changing requests, such as parameter updates and
// market data reloads, with their outcome.
func AuditLog(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "audit"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.InfoContext(r.Context(), "audit log",
				slog.String("event_type", "state_change"),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Bool("accepted", status < http.StatusBadRequest),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", GetRequestID(r.Context())),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
