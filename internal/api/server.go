// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the Session Authority over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/timetrack/internal/api/middleware"
	"github.com/ManuGH/timetrack/internal/blob"
	"github.com/ManuGH/timetrack/internal/channel"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/platform/clock"
)

// SessionService is the authority surface the HTTP API drives.
type SessionService interface {
	channel.ActionHandler
	GetActive(ctx context.Context, owner string) (*model.Session, error)
	Get(ctx context.Context, owner, sessionID string) (*model.Session, error)
	AcceptCapture(ctx context.Context, owner, sessionID string, capturedAt time.Time) (*model.Session, error)
	NotifyCaptureDelivered(ctx context.Context, owner string, receipt model.CaptureReceipt)
}

// MaxUploadBytes bounds a single capture upload.
const MaxUploadBytes = 5 << 20

type Config struct {
	Environment    string
	TracingService string
	RateLimit      *middleware.RateLimitConfig
	MaxUploadBytes int64
}

func DefaultConfig() Config {
	rl := middleware.DefaultRateLimit()
	return Config{
		Environment:    "development",
		TracingService: "timetrack-api",
		RateLimit:      &rl,
		MaxUploadBytes: MaxUploadBytes,
	}
}

// Deps are the collaborators of the Server. Hub may be nil.
type Deps struct {
	Sessions SessionService
	Blobs    blob.Store
	Verifier channel.TokenVerifier
	Hub      http.Handler
	Clock    clock.Clock
}

type Server struct {
	cfg      Config
	sessions SessionService
	blobs    blob.Store
	verifier channel.TokenVerifier
	hub      http.Handler
	clock    clock.Clock
	router   chi.Router
}

func New(cfg Config, deps Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = MaxUploadBytes
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	s := &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		blobs:    deps.Blobs,
		verifier: deps.Verifier,
		hub:      deps.Hub,
		clock:    deps.Clock,
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	// The websocket upgrade needs the raw ResponseWriter; it skips the
	// wrapping middleware.
	if s.hub != nil {
		r.With(middleware.Recoverer, middleware.RequestID).Handle("/ws", s.hub)
	}

	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{
			EnableSecurityHeaders: true,
			EnableMetrics:         true,
			TracingService:        s.cfg.TracingService,
			EnableLogging:         true,
		})

		r.Get("/healthz", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api/v1", func(r chi.Router) {
			if s.cfg.RateLimit != nil {
				r.Use(middleware.RateLimit(*s.cfg.RateLimit))
			}
			r.Use(s.authMiddleware)

			r.Post("/sessions", s.handleStart)
			r.Get("/sessions/active", s.handleGetActive)
			r.Get("/sessions/{id}", s.handleGet)
			r.Post("/sessions/{id}/pause", s.handleTransition(actionPause))
			r.Post("/sessions/{id}/resume", s.handleTransition(actionResume))
			r.Post("/sessions/{id}/stop", s.handleTransition(actionStop))
			r.Post("/sessions/{id}/captures", s.handleUploadCapture)
		})
	})
	return r
}

// ServeHTTP lets the Server be mounted directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
