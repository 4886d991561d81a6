package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/docsync/idgen"
	"github.com/hazyhaar/docsync/kit"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID reuses a valid incoming X-Request-ID or mints one, then stores
// it with the remote address in the context (kit helpers) together with a
// per-request logger under LoggerKey.
func RequestID(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := idgen.Parse(r.Header.Get(RequestIDHeader))
			if err != nil || id == "" {
				id = idgen.New()
			}
			w.Header().Set(RequestIDHeader, id)

			ip := ExtractIP(r)
			ctx := kit.WithRequestID(r.Context(), id)
			ctx = kit.WithRemoteAddr(ctx, ip)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", ip,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
