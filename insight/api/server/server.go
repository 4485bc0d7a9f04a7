// Package server wires the insight handlers into an HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cfuwib/insightbot/insight/api/handlers"
	"github.com/cfuwib/insightbot/insight/api/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultReadHeaderTimeout = 30 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
)

type Config struct {
	Logger            *slog.Logger
	Listener          net.Listener
	Handlers          *handlers.Handlers
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Listener == nil {
		return errors.New("listener is required")
	}
	if c.Handlers == nil {
		return errors.New("handlers are required")
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}

type Server struct {
	log     *slog.Logger
	cfg     Config
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		log: cfg.Logger,
		cfg: cfg,
		httpSrv: &http.Server{
			Handler:           NewRouter(cfg.Handlers),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}, nil
}

// NewRouter mounts every insight route. /ht and /metrics are open; the rest
// require the API key.
func NewRouter(h *handlers.Handlers) http.Handler {
	schema := handlers.NewSchema(h)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"DELETE", "GET", "POST", "PUT"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(handlers.SecurityHeaders)
	r.Use(metrics.Middleware)

	r.Get("/ht", handlers.Health)
	r.Handle("/metrics", promhttp.Handler())

	// The websocket endpoint authenticates in connection_init as well.
	r.Get("/cfu-insight/ws", h.GraphQLWebSocket(schema))

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAPIKey)
		r.Route("/CFU_Insight", func(r chi.Router) {
			r.Post("/get_insight_api", h.GetInsight)
			r.Post("/get_topic", h.GetTopic)
			r.Post("/get_recommendation_question", h.GetRecommendation)
			r.Post("/recognize_intent", h.RecognizeIntent)
			r.Post("/greeting", h.Greet)
			r.Get("/progress/{requestId}", h.ProgressStream)
		})
		r.Post("/cfu-insight", h.GraphQL(schema))
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(s.cfg.Listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()
	s.log.Info("server: http listening", "address", s.cfg.Listener.Addr())

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		s.cfg.Handlers.Close()
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}
