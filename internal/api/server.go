// Package api exposes the optional observability endpoint of a crawl run.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dcarver/catcrawl/internal/progress"
)

// Server serves health, metrics, and live progress while a crawl runs.
// It carries no crawl control endpoints; the run is driven by the CLI.
type Server struct {
	httpServer *http.Server
	tracker    *progress.Tracker
	logger     *zap.Logger
}

// NewServer builds the server; addr is a listen address such as ":9090".
func NewServer(addr string, tracker *progress.Tracker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{tracker: tracker, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/progress", s.progress)
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called. It blocks, so run it in its own
// goroutine.
func (s *Server) Start() error {
	s.logger.Info("metrics listener started", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snap := progress.Snapshot{}
	if s.tracker != nil {
		snap = s.tracker.Snapshot()
	}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Warn("encode progress snapshot", zap.Error(err))
	}
}
