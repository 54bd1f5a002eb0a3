package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLog logs one line per request with method, path, status and
// duration. The request ID set by middleware.RequestID is echoed in the
// X-Request-Id response header and attached to a per-request logger stored
// under LoggerKey.
func RequestLog(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := logger.With("method", r.Method, "path", r.URL.Path)
			if id := middleware.GetReqID(r.Context()); id != "" {
				w.Header().Set(middleware.RequestIDHeader, id)
				reqLog = reqLog.With("request_id", id)
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := context.WithValue(r.Context(), LoggerKey, reqLog)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				attrs := []any{"status", status, "duration_ms", time.Since(start).Milliseconds(), "bytes", ww.BytesWritten()}
				if status >= 500 {
					reqLog.ErrorContext(ctx, "shield: request", attrs...)
				} else {
					reqLog.InfoContext(ctx, "shield: request", attrs...)
				}
			}()
			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}
