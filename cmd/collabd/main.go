// CLAUDE:SUMMARY collabd daemon: websocket relay, validation authority, codec RPC gateway and MCP over HTTP on one chi router backed by SQLite.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docsync/authority"
	"github.com/hazyhaar/docsync/codec"
	"github.com/hazyhaar/docsync/config"
	"github.com/hazyhaar/docsync/connectivity"
	"github.com/hazyhaar/docsync/dbopen"
	"github.com/hazyhaar/docsync/relay"
	"github.com/hazyhaar/docsync/safe"
	"github.com/hazyhaar/docsync/shield"
)

const version = "0.3.0"

func main() {
	cfg := config.Default()
	if path := env("DOCSYNC_CONFIG", ""); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
	}
	if addr := env("ADDR", ""); addr != "" {
		cfg.Relay.Addr = addr
	}
	if lvl := env("LOG_LEVEL", ""); lvl != "" {
		cfg.LogLevel = lvl
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(env("DB_PATH", cfg.Relay.DB),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(relay.Schema),
		dbopen.WithSchema(authority.Schema),
		dbopen.WithSchema(connectivity.Schema),
	)
	if err != nil {
		slog.Error("db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	opStore := relay.NewStore(db)
	stateStore := authority.NewStore(db)

	var limiter *shield.RateLimiter
	if cfg.Relay.IPRate > 0 {
		limiter = shield.NewRateLimiter(shield.RateLimitConfig{
			Rate:  rate.Limit(cfg.Relay.IPRate),
			Burst: cfg.Relay.IPBurst,
		}, "/healthz")
	}

	rl, err := relay.New(relay.Config{
		Store:       opStore,
		Rate:        cfg.RelayRate(),
		Burst:       cfg.Relay.Burst,
		StrictPeers: cfg.Relay.StrictPeers,
		Limiter:     limiter,
		Logger:      logger,
	})
	if err != nil {
		slog.Error("relay", "error", err)
		os.Exit(1)
	}
	auth := authority.NewServer(authority.ServerConfig{Store: stateStore, Limiter: limiter, Logger: logger})

	// Codec services are local by default; rows in the routes table can
	// move them elsewhere without a restart.
	codecs := codec.New(cfg.Codec(logger))
	router := connectivity.New(connectivity.WithLogger(logger))
	router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory())
	codecs.RegisterConnectivity(router)
	go router.Watch(ctx, db, 2*time.Second)
	defer router.Close()

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "docsync", Version: version}, nil)
	codecs.RegisterMCP(mcpSrv)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok", "version": version})
	})
	rl.Mount(r, "/relay")
	auth.Mount(r, "/authority")
	r.Post("/rpc/{service}", rpcHandler(router, logger))
	r.Handle("/mcp", mcpHandler)

	// No WriteTimeout: it would also cut hijacked websocket connections.
	srv := &http.Server{
		Addr:              cfg.Relay.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("collabd starting", "addr", cfg.Relay.Addr, "strict_peers", cfg.Relay.StrictPeers)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	// Relay first: websocket connections are hijacked and Shutdown does not
	// wait for them.
	if err := rl.Close(); err != nil {
		slog.Error("relay close", "error", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// rpcHandler forwards the request body to a connectivity service and
// returns its reply.
func rpcHandler(router *connectivity.Router, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service := chi.URLParam(r, "service")
		if err := safe.ValidateIdentifier(service); err != nil {
			writeError(w, 400, err)
			return
		}
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
		if err != nil {
			writeError(w, 413, err)
			return
		}
		resp, err := router.Call(r.Context(), service, payload)
		if err != nil {
			var notFound *connectivity.ErrServiceNotFound
			switch {
			case errors.As(err, &notFound):
				writeError(w, 404, err)
			case errors.Is(err, codec.ErrMalformedInput), errors.Is(err, codec.ErrUnsupportedFormat):
				writeError(w, 400, err)
			default:
				logger.Warn("rpc failed", "service", service, "error", err)
				writeError(w, 502, err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
