// Package server exposes live views over HTTP and websocket for the
// dashboard UI.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/livedesk/internal/logging"
	"github.com/rustyeddy/livedesk/live"
)

func init() {
	// money goes over the wire as JSON numbers; the dashboard does
	// arithmetic on them
	decimal.MarshalJSONWithoutQuotes = true
}

// Header names a dashboard may use to identify its viewer.
const (
	HeaderViewerID   = "X-Viewer-ID"
	HeaderViewerRole = "X-Viewer-Role"
)

// Views hands out started views and a func to release each one;
// *live.Hub implements it.
type Views interface {
	View(ctx context.Context, viewer live.Viewer) (*live.View, func(), error)
}

type Config struct {
	Log     zerolog.Logger
	Addr    string
	Version string
	// Viewer serves requests that do not name one.
	Viewer live.Viewer
	// ViewerFromRequest lets requests choose the viewer through headers
	// or ?viewer=&role= query parameters. Identity is not verified.
	ViewerFromRequest bool
	AllowedOrigins    []string
}

type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	views   Views
	cfg     Config
	started time.Time
}

func New(cfg Config, views Views) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     logging.Component(cfg.Log, "server"),
		views:   views,
		cfg:     cfg,
		started: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderViewerID, HeaderViewerRole},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/live", func(r chi.Router) {
			r.With(middleware.Timeout(30*time.Second)).Get("/", s.handleCollection)
			r.With(middleware.Timeout(30*time.Second)).Get("/users/{userID}", s.handleUser)
			// no timeout: the socket stays open
			r.Get("/stream", s.handleStream)
		})
	})
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// viewer picks the request's viewer, falling back to the configured one.
func (s *Server) viewer(r *http.Request) live.Viewer {
	v := s.cfg.Viewer
	if !s.cfg.ViewerFromRequest {
		return v
	}

	id := r.Header.Get(HeaderViewerID)
	role := r.Header.Get(HeaderViewerRole)
	if id == "" {
		id = r.URL.Query().Get("viewer")
		role = r.URL.Query().Get("role")
	}
	if id = strings.TrimSpace(id); id != "" {
		v = live.Viewer{ID: id, Role: live.ParseRole(role)}
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
