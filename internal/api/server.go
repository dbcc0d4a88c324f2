package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/metrics"
)

// Server is the SpendGuard HTTP API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
}

// NewServer wires the middleware stack and routes. The listener is not
// opened until Start.
func NewServer(cfg domain.ServerConfig, deps Deps, version string) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		handler: NewHandler(deps, version),
	}
	s.routes()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.router,
		ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r, h := s.router, s.handler

	r.Use(CORSMiddleware)
	r.Use(RecoverMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	// Operational
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/model", h.GetModel)

	// Scoring
	r.Post("/score", h.Score)
	r.Post("/ingest", h.Ingest)

	// Results
	r.Get("/results/{id}", h.GetResult)
	r.Get("/anomalies", h.ListAnomalies)
}

// Addr is the address Start listens on.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start blocks serving HTTP until Shutdown. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
