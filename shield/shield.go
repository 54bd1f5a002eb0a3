// CLAUDE:SUMMARY HTTP middleware stack for the configuration server: request IDs, panic recovery, slog request logs, security headers, body caps.
// Package shield provides the HTTP middleware the configuration server
// wraps around its routes.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger, 1<<20) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// APIStack returns the standard middleware for a JSON API, outermost first:
// RequestID → RequestLog → Recoverer → SecurityHeaders → MaxJSONBody.
func APIStack(logger *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.RequestID,
		RequestLog(logger),
		middleware.Recoverer,
		SecurityHeaders(APIHeaders()),
		MaxJSONBody(maxBody),
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
