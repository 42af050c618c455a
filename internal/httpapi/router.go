// Package httpapi exposes the admin surface the ingestion server runs
// alongside the bus subscriber: liveness/readiness probes, the diagnostics
// snapshot (C12), and the Prometheus exposition endpoint.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arx-os/sensor-ingest/internal/metrics"
)

// Server bundles the facade and dependencies the admin router reads from.
type Server struct {
	metrics *metrics.Facade
	ping    func() error
	log     *zap.SugaredLogger
}

func New(m *metrics.Facade, ping func() error, log *zap.SugaredLogger) *Server {
	return &Server{metrics: m, ping: ping, log: log}
}

// Router builds the chi router for the admin surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/metrics/diagnostics", s.handleDiagnostics)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ping == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	if err := s.ping(); err != nil {
		if s.log != nil {
			s.log.Warnw("readiness probe failed", "error", err)
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	var sensorID *int64
	if raw := r.URL.Query().Get("sensor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid sensor_id"})
			return
		}
		sensorID = &id
	}

	snap := s.metrics.Diagnostics(sensorID)
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
