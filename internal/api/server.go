// Package api serves the status endpoints of a running classifier.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/engine/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server exposes health, pipeline counters, prometheus metrics and the
// log level over HTTP.
type Server struct {
	server *http.Server
	stats  *pipeline.Stats
	logger *log.Logger
}

// NewServer creates a server for the given pipeline counters. The logger's
// level can be changed at runtime through /debug/log-level.
func NewServer(addr string, stats *pipeline.Stats, logger *log.Logger) *Server {
	s := &Server{stats: stats, logger: logger}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		pipeline.NewCollector(stats),
		prometheus.NewGoCollector(),
	)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/stats", s.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/log-level", s.logLevelHandler).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens in the background. Listen errors are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("API: server starting on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Errorf("API: could not listen on %s", s.server.Addr)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	s.logger.Info("API: server stopped")
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	jsonBytes, err := json.Marshal(s.stats.Snapshot())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal stats: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonBytes)
}

func (s *Server) logLevelHandler(w http.ResponseWriter, r *http.Request) {
	levelStr := r.URL.Query().Get("level")
	if levelStr == "" {
		fmt.Fprintf(w, "current log level: %s\n", s.logger.GetLevel())
		return
	}
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid log level: %v", err), http.StatusBadRequest)
		return
	}
	s.logger.SetLevel(level)
	s.logger.Infof("API: log level set to %s", level)
	fmt.Fprintf(w, "log level set to %s\n", level)
}
