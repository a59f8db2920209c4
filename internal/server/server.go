// Package server exposes the job pipeline over HTTP: job submission and
// inspection, the review gate, cancellation, execution reports, health and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

// Controller is the job surface the server drives.
type Controller interface {
	Submit(ctx context.Context, archivePath string) (*store.Job, error)
	Process(ctx context.Context, jobID string) error
	Approve(ctx context.Context, jobID string) error
	Cancel(ctx context.Context, jobID string) error
}

// Server is the serve-mode HTTP API.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	jobs    Controller
	metrics http.Handler // nil when metrics are disabled
	httpSrv *http.Server
	started time.Time
}

// New builds the server. metricsHandler may be nil, which turns /metrics
// into a 404.
func New(cfg *config.Config, st *store.Store, jobs Controller, metricsHandler http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		jobs:    jobs,
		metrics: metricsHandler,
		started: time.Now(),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           chain(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("GET /api/jobs", s.handleList)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGet)
	mux.HandleFunc("GET /api/jobs/{id}/report", s.handleReport)
	mux.HandleFunc("POST /api/jobs/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	return mux
}

// Start runs the listener until the context is cancelled, then drains with a
// short grace period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("HTTP server shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}
