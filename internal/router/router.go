package router

import (
	"net/http"

	"github.com/ufohubx/keyserver/internal/config"
	"github.com/ufohubx/keyserver/internal/handler"
	"github.com/ufohubx/keyserver/internal/logger"
	"github.com/ufohubx/keyserver/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, log *logger.Logger, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Liveness and health endpoints
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	// Key lifecycle routes (rate limited per client IP)
	keyRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  cfg.Keys.RateLimit.Limit,
		Window: cfg.Keys.RateLimit.Window,
		KeyFn:  middleware.IPKey,
	})

	mux.Handle("GET /getkey", keyRateLimit(http.HandlerFunc(h.GetKey)))
	mux.Handle("GET /verify", keyRateLimit(http.HandlerFunc(h.Verify)))
	mux.Handle("GET /extend", keyRateLimit(http.HandlerFunc(h.Extend)))

	// Debug listing (admin token guarded, disabled when unset)
	mux.HandleFunc("GET /admin/keys", h.AdminListKeys)

	// Apply middleware stack
	var handler http.Handler = mux

	// Verification answers must never be cached by intermediaries
	handler = mw.NoCache(handler)

	// CORS (wildcard: keys are fetched from arbitrary game clients)
	handler = mw.CORS(handler)

	// Request logging
	handler = mw.Logger(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
