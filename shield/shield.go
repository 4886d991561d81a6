// CLAUDE:SUMMARY HTTP middleware for the authority and relay servers: security headers, body limit, request id + logger, per-IP rate limit.
// Package shield provides the HTTP middleware shared by the docsync servers.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.StackConfig{MaxBody: 8 << 20}) {
//		r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// StackConfig configures APIStack.
type StackConfig struct {
	// MaxBody caps request bodies (0 disables the limit).
	MaxBody int64
	// Limiter enforces per-IP rates when set.
	Limiter *RateLimiter
	// Logger is the base for per-request loggers (default: slog.Default()).
	Logger *slog.Logger
}

// APIStack returns the middleware for a JSON API, outermost first:
// SecurityHeaders → RequestID → RateLimiter → MaxBody.
func APIStack(cfg StackConfig) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		SecurityHeaders(APIHeaders()),
		RequestID(cfg.Logger),
	}
	if cfg.Limiter != nil {
		stack = append(stack, cfg.Limiter.Middleware)
	}
	if cfg.MaxBody > 0 {
		stack = append(stack, MaxBody(cfg.MaxBody))
	}
	return stack
}
