// CLAUDE:SUMMARY Remote authority client over the connectivity router: fire-and-forget state push and 403-as-rejection validation.
// Package authority talks to, and provides a reference implementation of,
// the remote authority that stores editor state and judges changes made in
// read-only sessions.
package authority

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/connectivity"
	"github.com/hazyhaar/docsync/validate"
)

// Service names routed through connectivity.
const (
	ServiceSetState      = "setEditorState"
	ServiceValidateState = "validateEditorState"
)

// Client calls the authority services. It satisfies validate.Authority.
type Client struct {
	router *connectivity.Router
	logger *slog.Logger
}

// NewClient wraps a router on which ServiceSetState and
// ServiceValidateState are registered (locally or as remote routes).
func NewClient(router *connectivity.Router, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{router: router, logger: logger}
}

// Push sends the state and forgets about it: failures are logged only.
func (c *Client) Push(ctx context.Context, snapshotJSON []byte) {
	if _, err := c.router.Call(ctx, ServiceSetState, snapshotJSON); err != nil {
		c.logger.Warn("authority: push failed", "error", err)
	}
}

// Validate returns validate.ErrValidationRejected on HTTP 403 and nil for
// every other outcome, transport failures included.
func (c *Client) Validate(ctx context.Context, snapshotJSON []byte) error {
	_, err := c.router.Call(ctx, ServiceValidateState, snapshotJSON)
	if err == nil {
		return nil
	}
	if connectivity.StatusCode(err) == http.StatusForbidden {
		return validate.ErrValidationRejected
	}
	c.logger.Debug("authority: validation inconclusive, accepting", "error", err)
	return nil
}

// RouteConfig is the per-route policy written into connectivity routes.
type RouteConfig struct {
	TimeoutMs        int64 `json:"timeout_ms,omitempty"`
	MaxRetries       int   `json:"max_retries,omitempty"`
	BackoffMs        int64 `json:"backoff_ms,omitempty"`
	BreakerThreshold int   `json:"breaker_threshold,omitempty"`
}

// Routes builds the HTTP routes for an authority at baseURL serving doc.
// Validation is never retried: each qualifying update sends one request.
func Routes(baseURL, doc string, cfg RouteConfig) ([]connectivity.Route, error) {
	base := strings.TrimRight(baseURL, "/")
	endpoint := func(path string) string {
		u := base + "/" + path
		if doc != "" {
			u += "?doc=" + url.QueryEscape(doc)
		}
		return u
	}
	pushCfg, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	vcfg := cfg
	vcfg.MaxRetries = 0
	validateCfg, err := json.Marshal(vcfg)
	if err != nil {
		return nil, err
	}
	return []connectivity.Route{
		{Service: ServiceSetState, Strategy: connectivity.StrategyHTTP, Endpoint: endpoint(ServiceSetState), Config: pushCfg},
		{Service: ServiceValidateState, Strategy: connectivity.StrategyHTTP, Endpoint: endpoint(ServiceValidateState), Config: validateCfg},
	}, nil
}

var _ validate.Authority = (*Client)(nil)
