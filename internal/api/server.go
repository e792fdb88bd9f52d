// Package api serves the daemon's HTTP surface: the extension WebSocket
// and the JSON settings API.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goodtune/mindful/internal/settings"
	"github.com/goodtune/mindful/internal/tracker"
	"github.com/rs/zerolog"
)

// SessionTracker is the part of the tracker the API exposes.
type SessionTracker interface {
	Session() (tracker.Session, bool)
	OnFocusChange(ctx context.Context, rawURL string, tabID int)
}

// Config holds the API server configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server is the bridge and settings HTTP server.
type Server struct {
	config   Config
	settings *settings.Service
	tracker  SessionTracker
	bridge   http.Handler
	server   *http.Server
	router   chi.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server. bridge serves /ws and may be nil.
func NewServer(cfg Config, svc *settings.Service, sessions SessionTracker, bridge http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		config:   cfg,
		settings: svc,
		tracker:  sessions,
		bridge:   bridge,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/health", s.handleHealth)

	if s.bridge != nil {
		r.Handle("/ws", s.bridge)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(CORSMiddleware(s.config.AllowedOrigins, s.logger))

		r.Get("/limits", s.handleListLimits)
		r.Put("/limits/{site}", s.handleSetLimit)
		r.Delete("/limits/{site}", s.handleRemoveLimit)
		r.Post("/limits/{site}/reset", s.handleResetLimit)

		r.Get("/quotes", s.handleListQuotes)
		r.Post("/quotes", s.handleAddQuote)
		r.Delete("/quotes/{index}", s.handleRemoveQuote)

		r.Get("/session", s.handleSession)
		r.Post("/focus", s.handleFocus)
	})

	s.router = r
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}
