package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/config"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/ultimaker"
)

// Server exposes a small monitoring surface next to the MQTT bridge:
// health, per-printer snapshots and Prometheus metrics.
type Server struct {
	config  *config.WebConfig
	manager *ultimaker.PrinterManager
	version string
	logger  *logrus.Logger
	server  *http.Server
}

func NewServer(cfg *config.WebConfig, manager *ultimaker.PrinterManager, version string, logger *logrus.Logger) *Server {
	s := &Server{
		config:  cfg,
		manager: manager,
		version: version,
		logger:  logger,
	}

	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/printers", s.handlePrinters)
	r.Get("/api/printers/{id}", s.handlePrinter)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start launches the HTTP listener (implements the Service interface).
func (s *Server) Start() error {
	s.logger.Infof("Starting web server on %s", s.config.Listen)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("Web server failed")
		}
	}()

	return nil
}

// Stop shuts the listener down gracefully (implements the Service interface).
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handlePrinters(w http.ResponseWriter, r *http.Request) {
	printers := make([]map[string]any, 0)
	for _, id := range s.manager.IDs() {
		entry := map[string]any{
			"id":        id,
			"connected": s.manager.IsConnected(id),
		}
		if snap, ok := s.manager.Snapshot(id); ok {
			entry["status"] = snap.GetString(ultimaker.KeyStatus)
			entry["activity"] = snap.GetString(ultimaker.KeyActivity)
			entry["sample_time"] = snap.GetString(ultimaker.KeySampleTime)
			entry["using_cached_data"] = snap.UsingCachedData()
		}
		printers = append(printers, entry)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"printers": printers})
}

func (s *Server) handlePrinter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, ok := s.manager.Snapshot(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]any{"error": "printer not found"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"connected": s.manager.IsConnected(id),
		"snapshot":  snap,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
