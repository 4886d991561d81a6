// CLAUDE:SUMMARY Service router dispatching named calls to in-process handlers or remote transports, driven by a routes table.
// Package connectivity routes named services (the persistence authority,
// content validation, codec conversion) either to handlers living in the
// same binary or to remote transports, based on a routes table that can be
// reloaded at runtime from SQLite or applied from configuration.
//
//	router := connectivity.New()
//	router.RegisterTransport("http", connectivity.HTTPFactory())
//	router.RegisterLocal("setEditorState", store.HandleSet)
//	go router.Watch(ctx, db, time.Second)
//
//	resp, err := router.Call(ctx, "validateEditorState", payload)
package connectivity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/goccy/go-json"
)

// Handler is a transport-agnostic service function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds a Handler for a remote endpoint. config is the
// per-route JSON. The returned close function may be nil.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

// Strategies understood by the router itself. Any other strategy names a
// registered TransportFactory.
const (
	StrategyLocal = "local"
	StrategyNoop  = "noop"
	StrategyHTTP  = "http"
)

// Route maps a service name to a dispatch strategy.
type Route struct {
	Service  string          `json:"service" yaml:"service"`
	Strategy string          `json:"strategy" yaml:"strategy"`
	Endpoint string          `json:"endpoint,omitempty" yaml:"endpoint"`
	Config   json.RawMessage `json:"config,omitempty" yaml:"-"`
}

func (rt Route) fingerprint() string {
	return rt.Strategy + "|" + rt.Endpoint + "|" + string(rt.Config)
}

type remote struct {
	handler Handler
	close   func()
}

// Router dispatches service calls. Safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	local     map[string]Handler
	remotes   map[string]remote
	routes    map[string]Route
	factories map[string]TransportFactory
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router with no routes.
func New(opts ...Option) *Router {
	r := &Router{
		local:     make(map[string]Handler),
		remotes:   make(map[string]remote),
		routes:    make(map[string]Route),
		factories: make(map[string]TransportFactory),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers an in-process handler for a service. It serves
// calls when the service has no route, or a route with strategy "local".
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.local[service] = h
	r.mu.Unlock()
}

// RegisterTransport registers a factory for a strategy name such as "http".
func (r *Router) RegisterTransport(strategy string, f TransportFactory) {
	r.mu.Lock()
	r.factories[strategy] = f
	r.mu.Unlock()
}

// Call dispatches a service call: noop routes succeed with a nil response,
// remote routes go to their transport, anything else falls back to the
// local handler. Unroutable services return *ErrServiceNotFound.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	rem, hasRemote := r.remotes[service]
	localH := r.local[service]
	rt, hasRoute := r.routes[service]
	r.mu.RUnlock()

	switch {
	case hasRoute && rt.Strategy == StrategyNoop:
		r.logger.DebugContext(ctx, "routing noop", "service", service)
		return nil, nil
	case hasRemote:
		r.logger.DebugContext(ctx, "routing remote",
			"service", service, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
		return rem.handler(ctx, payload)
	case localH != nil:
		r.logger.DebugContext(ctx, "routing local", "service", service)
		return localH(ctx, payload)
	}
	return nil, &ErrServiceNotFound{Service: service}
}

// Apply replaces the route set. Remote handlers whose route is unchanged are
// kept; changed or removed ones are closed. Routes whose factory is missing
// or fails, or whose config does not parse, are skipped and reported in the
// joined error; the rest apply.
func (r *Router) Apply(routes []Route) error {
	next := make(map[string]Route, len(routes))
	for _, rt := range routes {
		next[rt.Service] = rt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	built := make(map[string]remote, len(next))
	for name, rt := range next {
		if rt.Strategy == StrategyLocal || rt.Strategy == StrategyNoop {
			continue
		}
		if old, ok := r.routes[name]; ok && old.fingerprint() == rt.fingerprint() {
			if existing, ok := r.remotes[name]; ok {
				built[name] = existing
				continue
			}
		}
		rc, err := parseRouteConfig(rt.Config)
		if err != nil {
			errs = append(errs, &ErrBadRouteConfig{Service: name, Cause: err})
			continue
		}
		factory, ok := r.factories[rt.Strategy]
		if !ok {
			errs = append(errs, &ErrNoFactory{Service: name, Strategy: rt.Strategy})
			continue
		}
		h, closeFn, err := factory(rt.Endpoint, rt.Config)
		if err != nil {
			errs = append(errs, &ErrFactoryFailed{Service: name, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err})
			continue
		}
		built[name] = remote{handler: withRouteConfig(h, name, rc, r.logger), close: closeFn}
		r.logger.Info("route built", "service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	for name, old := range r.remotes {
		if old.close == nil {
			continue
		}
		if _, kept := built[name]; !kept || r.routes[name].fingerprint() != next[name].fingerprint() {
			old.close()
		}
	}

	r.remotes = built
	r.routes = next
	r.logger.Info("routes applied", "total", len(next), "remote", len(built))
	return errors.Join(errs...)
}

// Reload reads the routes table and applies it.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	routes, err := LoadRoutes(ctx, db)
	if err != nil {
		return err
	}
	if err := r.Apply(routes); err != nil {
		r.logger.Warn("connectivity: some routes skipped", "error", err)
	}
	return nil
}

// Routes returns the current route set sorted by service name.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Close shuts down all remote handlers.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rem := range r.remotes {
		if rem.close != nil {
			rem.close()
		}
	}
	r.remotes = make(map[string]remote)
	r.routes = make(map[string]Route)
	return nil
}

// routeConfig is the per-route policy read from the config JSON.
type routeConfig struct {
	TimeoutMs        int64 `json:"timeout_ms"`
	MaxRetries       int   `json:"max_retries"`
	BackoffMs        int64 `json:"backoff_ms"`
	BreakerThreshold int   `json:"breaker_threshold"`
}

func parseRouteConfig(raw json.RawMessage) (routeConfig, error) {
	var rc routeConfig
	if len(raw) == 0 {
		return rc, nil
	}
	if err := json.Unmarshal(raw, &rc); err != nil {
		return rc, fmt.Errorf("connectivity: route config: %w", err)
	}
	return rc, nil
}

// withRouteConfig wraps a remote handler with the retry, breaker and timeout
// policy of its route. Retries sit outside the breaker so an open circuit
// stops them.
func withRouteConfig(h Handler, service string, rc routeConfig, logger *slog.Logger) Handler {
	var mws []HandlerMiddleware
	if rc.MaxRetries > 0 {
		mws = append(mws, WithRetry(rc.MaxRetries, msDuration(rc.BackoffMs), logger))
	}
	if rc.BreakerThreshold > 0 {
		mws = append(mws, WithBreaker(NewBreaker(BreakerConfig{Threshold: rc.BreakerThreshold}), service))
	}
	if rc.TimeoutMs > 0 {
		mws = append(mws, Timeout(msDuration(rc.TimeoutMs)))
	}
	return Chain(mws...)(h)
}
