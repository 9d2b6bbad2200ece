// SPDX-License-Identifier: MIT

// Package api exposes the orchestrator over HTTP: session lifecycle,
// object annotation, and propagation jobs. Masks travel as base64 PNG.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/maskd/internal/api/middleware"
	"github.com/ManuGH/maskd/internal/jobs"
	"github.com/ManuGH/maskd/internal/session"
)

// Config carries the server's wiring knobs.
type Config struct {
	Version       string
	SegmenterMode string
	JobRetention  time.Duration

	RateLimitRPS   int
	RateLimitBurst int
	TracingService string
}

// Server holds handler dependencies.
type Server struct {
	cfg      Config
	sessions *session.Manager
	jobs     *jobs.Manager
}

// New wires an API server.
func New(cfg Config, sessions *session.Manager, jobManager *jobs.Manager) *Server {
	return &Server{cfg: cfg, sessions: sessions, jobs: jobManager}
}

// Router builds the chi router with the canonical middleware stack and
// all routes mounted.
func (s *Server) Router() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
		RateLimitRPS:   s.cfg.RateLimitRPS,
		RateLimitBurst: s.cfg.RateLimitBurst,
	})

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleOpenSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCloseSession)

			r.Post("/objects", s.handleAddObject)
			r.Post("/objects/box", s.handleAddObjectWithBox)
			r.Post("/objects/{objectID}/refine", s.handleRefine)
			r.Put("/objects/{objectID}/mask", s.handleOverrideMask)

			r.Get("/frames/{frameIdx}/masks", s.handleGetFrameMasks)
			r.Post("/propagate", s.handlePropagate)
		})

		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Delete("/jobs/{jobID}", s.handleCancelJob)

		r.Post("/cleanup", s.handleCleanup)
	})

	return r
}
