// Package frontend serves the operational HTTP surface: readiness,
// health, and metrics.
package frontend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomcloud/loom/internal/config"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
)

// Readiness reports whether the process is draining. The shutdown
// controller satisfies it.
type Readiness interface {
	ShuttingDown() bool
}

// ReadinessFunc adapts a function to the Readiness interface.
type ReadinessFunc func() bool

// ShuttingDown calls f.
func (f ReadinessFunc) ShuttingDown() bool { return f() }

// Server is the HTTP server exposing readiness, health, and metrics.
// Load balancers watch /ready to drain an instance before shutdown.
type Server struct {
	cfg      *config.Config
	registry *prometheus.Registry
	ready    Readiness

	httpServer *http.Server
	listener   net.Listener
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithListener sets a pre-bound listener. Tests use it to avoid port
// allocation races.
func WithListener(l net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

// WithRegistry mounts /metrics over the given registry.
func WithRegistry(r *prometheus.Registry) ServerOption {
	return func(s *Server) {
		s.registry = r
	}
}

// WithReadiness wires the drain flag behind /ready.
func WithReadiness(r Readiness) ServerOption {
	return func(s *Server) {
		s.ready = r
	}
}

// NewServer creates a server bound to the configured host and port.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// router builds the middleware stack and routes.
func (s *Server) router() chi.Router {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             s.cfg.LogFormat == "json",
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		MaxAge:         300,
	}))

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Start binds the listener and serves in the background. The bind is
// synchronous so a non-nil return means the port is taken.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		s.listener = l
	}

	s.httpServer = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info(ctx, "Server is starting", tag.String("addr", s.listener.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Server failed", tag.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and drains in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	logger.Info(ctx, "Server is shutting down", tag.String("addr", s.Addr()))
	s.httpServer.SetKeepAlivesEnabled(false)
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status string `json:"status"`
}

type readyResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

// readyHandler flips to 503 once shutdown begins so load balancers
// stop routing new work here while the drain window runs.
func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && s.ready.ShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Ready: false, Reason: "shutting_down"})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{Ready: true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error(context.Background(), "Failed to encode response", tag.Error(err))
	}
}
