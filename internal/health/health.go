// Package health serves liveness, readiness and Prometheus metrics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	countreporter "github.com/e7canasta/orion-care-sensor/modules/count-reporter"
)

// Source provides the reporter snapshot the readiness check is built from.
type Source interface {
	Stats() countreporter.Stats
}

// Status represents the health state of the reporter
type Status struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	InstanceID    string `json:"instance_id,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	MQTTConnected bool   `json:"mqtt_connected"`
	MQTTState     string `json:"mqtt_state"`
	Endpoint      string `json:"endpoint,omitempty"`
	Total         uint64 `json:"total"`
	Stored        int    `json:"stored"`
	Capacity      int    `json:"capacity"`
	Saturated     bool   `json:"saturated"`
	Published     uint64 `json:"published"`
	NotConnected  uint64 `json:"not_connected"`
	Failures      uint64 `json:"failures"`
}

// Server exposes /health, /readiness and /metrics.
type Server struct {
	instanceID string
	source     Source
	gatherer   prometheus.Gatherer
	started    time.Time
	logger     *slog.Logger
	server     *http.Server
}

// NewServer creates a health server. gatherer may be nil, in which case
// /metrics is not registered.
func NewServer(instanceID string, source Source, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		instanceID: instanceID,
		source:     source,
		gatherer:   gatherer,
		started:    time.Now(),
		logger:     logger.With("component", "health"),
	}
}

// Check returns the current health status.
//
// Counting never stops, so a lost connection only degrades the reporter. It
// is unhealthy once the connection has been destroyed.
func (s *Server) Check() Status {
	stats := s.source.Stats()

	status := Status{
		Status:        "healthy",
		InstanceID:    s.instanceID,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		MQTTConnected: stats.Guard.Connected,
		MQTTState:     stats.Guard.State.String(),
		Total:         stats.Counter.Total,
		Stored:        stats.Counter.Stored,
		Capacity:      stats.Counter.Capacity,
		Saturated:     stats.Counter.Saturated,
		Published:     stats.Guard.Published,
		NotConnected:  stats.Guard.NotConnected,
		Failures:      stats.Guard.Failures,
	}
	if stats.Guard.Endpoint.Host != "" {
		status.Endpoint = stats.Guard.Endpoint.String()
	}

	switch {
	case stats.Guard.State == countreporter.StateDestroyed:
		status.Status = "unhealthy"
	case !stats.Guard.Connected || stats.Counter.Saturated:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health: 200 while the process is alive.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// ReadinessHandler handles /readiness. Degraded is still ready.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status := s.Check()

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves on the given port in a separate goroutine and does not block.
func (s *Server) Start(port string) {
	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health check server failed", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start. No-op if it was never started.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
