// CLAUDE:SUMMARY Reference authority HTTP server (chi): setEditorState stores, validateEditorState answers 403 on mismatch.
package authority

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/codec"
	"github.com/hazyhaar/docsync/safe"
	"github.com/hazyhaar/docsync/shield"
)

// ServerConfig configures the reference server.
type ServerConfig struct {
	Store   *Store
	MaxBody int64 // default: 8 MiB
	Limiter *shield.RateLimiter
	Logger  *slog.Logger
}

// Server serves the authority endpoints.
type Server struct {
	store  *Store
	logger *slog.Logger
	mux    chi.Router
}

// NewServer builds the router.
func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 8 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{store: cfg.Store, logger: cfg.Logger}

	r := chi.NewRouter()
	for _, mw := range shield.APIStack(shield.StackConfig{MaxBody: cfg.MaxBody, Limiter: cfg.Limiter, Logger: cfg.Logger}) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Post("/"+ServiceSetState, s.handleSet)
	r.Post("/"+ServiceValidateState, s.handleValidate)
	r.Get("/editorState", s.handleGet)
	s.mux = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Mount adds the authority routes under prefix of an existing router.
func (s *Server) Mount(r chi.Router, prefix string) { r.Mount(prefix, s.mux) }

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	doc, body, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	st, err := s.store.Set(r.Context(), doc, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shield.GetLogger(r.Context()).Info("authority: state stored", "doc", doc, "hash", st.Hash)
	writeJSON(w, 200, map[string]string{"doc": doc, "hash": st.Hash})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	doc, body, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	valid, err := s.store.Check(r.Context(), doc, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !valid {
		shield.GetLogger(r.Context()).Warn("authority: state rejected", "doc", doc)
		writeJSON(w, http.StatusForbidden, map[string]any{"valid": false})
		return
	}
	writeJSON(w, 200, map[string]any{"valid": true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, ok := docParam(w, r)
	if !ok {
		return
	}
	st, err := s.store.Get(r.Context(), doc)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, 404, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, st)
}

func docParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	doc := r.URL.Query().Get("doc")
	if doc == "" {
		return DefaultDoc, true
	}
	if err := safe.ValidateIdentifier(doc); err != nil {
		writeError(w, 400, err)
		return "", false
	}
	return doc, true
}

func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	doc, ok := docParam(w, r)
	if !ok {
		return "", nil, false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return "", nil, false
		}
		writeError(w, 400, err)
		return "", nil, false
	}
	return doc, body, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, codec.ErrMalformedInput) {
		writeError(w, 400, err)
		return
	}
	shield.GetLogger(r.Context()).Error("authority: request failed", "error", err)
	writeError(w, 500, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
