// Package api exposes the SQS-compatible wire protocol over HTTP plus the
// JSON admin surface, health endpoints and Prometheus exposition.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qlite/qlite/internal/common/health"
	"github.com/qlite/qlite/internal/config"
	"github.com/qlite/qlite/internal/engine"
)

// Server bundles the engine with the HTTP surface.
type Server struct {
	engine   *engine.Engine
	cfg      *config.Config
	baseURL  string
	throttle *throttler
	checker  *health.Checker
}

// NewServer creates the HTTP surface over an engine.
func NewServer(e *engine.Engine, cfg *config.Config, checker *health.Checker) *Server {
	return &Server{
		engine:   e,
		cfg:      cfg,
		baseURL:  cfg.QueueBaseURL(),
		throttle: newThrottler(cfg.Queues.FifoThroughputLimitPerSecond),
		checker:  checker,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// SQS wire protocol. AWS SDKs post to the endpoint root or to the
	// queue URL itself.
	r.Post("/", s.handleSQS)
	r.Post("/{queueName}", s.handleSQS)

	// Health endpoints
	r.Get("/health", s.checker.HandleHealth)
	r.Get("/health/ready", s.checker.HandleReady)
	r.Get("/health/live", s.checker.HandleLive)

	// Prometheus exposition
	if s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Endpoint, promhttp.Handler())
	}

	// Admin JSON API
	r.Route("/api", func(r chi.Router) {
		r.Get("/queues", s.handleAdminListQueues)
		r.Get("/queues/{queueName}/messages", s.handleAdminQueueMessages)
		r.Post("/messages/{messageId}/restore", s.handleAdminRestoreMessage)
		r.Get("/dlq/{queueName}/messages", s.handleAdminDLQMessages)
		r.Post("/dlq/{queueName}/redrive", s.handleAdminDLQRedrive)
		r.Delete("/dlq/{queueName}/messages", s.handleAdminDLQPurge)
	})

	return r
}
