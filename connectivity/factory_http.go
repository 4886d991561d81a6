package connectivity

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/safe"
)

// maxHTTPResponseBody caps response reads from remote endpoints (10 MiB).
const maxHTTPResponseBody int64 = 10 << 20

// httpConfig is the per-route config parsed from the route JSON.
type httpConfig struct {
	TimeoutMs   int64             `json:"timeout_ms"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers"`
}

type httpFactoryOptions struct {
	allowPrivate bool
	client       *http.Client
}

// HTTPOption configures HTTPFactory.
type HTTPOption func(*httpFactoryOptions)

// AllowPrivateEndpoints disables the SSRF guard, for authorities served on
// localhost or a private network.
func AllowPrivateEndpoints() HTTPOption {
	return func(o *httpFactoryOptions) { o.allowPrivate = true }
}

// WithHTTPClient sets the client used for every call. Its Timeout is
// overridden by the route's timeout_ms when present.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *httpFactoryOptions) { o.client = c }
}

// HTTPFactory creates Handlers that POST the payload to the route endpoint.
// Non-2xx responses return *StatusError so callers can tell a refusal (4xx)
// from an outage.
//
//	router.RegisterTransport("http", connectivity.HTTPFactory())
func HTTPFactory(opts ...HTTPOption) TransportFactory {
	var o httpFactoryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if _, err := safe.ValidateEndpoint(endpoint, safe.HTTPSchemes, o.allowPrivate); err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: %w", err)
		}

		var cfg httpConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: config: %w", err)
			}
		}

		client := &http.Client{Timeout: 30 * time.Second}
		if o.client != nil {
			c := *o.client
			client = &c
		}
		if cfg.TimeoutMs > 0 {
			client.Timeout = msDuration(cfg.TimeoutMs)
		}
		contentType := "application/json"
		if cfg.ContentType != "" {
			contentType = cfg.ContentType
		}

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: create request: %w", err)
			}
			req.Header.Set("Content-Type", contentType)
			for k, v := range cfg.Headers {
				req.Header.Set(k, v)
			}

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: do request: %w", err)
			}
			defer resp.Body.Close()

			body, err := safe.LimitedReadAll(resp.Body, maxHTTPResponseBody)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: read response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
			}
			return body, nil
		}

		return handler, client.CloseIdleConnections, nil
	}
}

func msDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
