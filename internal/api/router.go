package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// Liveness for orchestrators: reflects the broker session only.
	r.Get("/healthz", s.handleHealthz)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Method(http.MethodGet, s.wsPath(), s.hub)
	})

	return r
}

// wsPath returns the configured WebSocket path under /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth runs every dependency check and returns 503 when any fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"checks":         checks,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleHealthz returns 200 while connected to the broker and 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if !s.status.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "mqtt not connected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Connected     bool   `json:"connected"`
	State         string `json:"state"`
	Broker        string `json:"broker,omitempty"`
	LWTTopic      string `json:"lwt_topic,omitempty"`
	DelayMS       int64  `json:"reconnect_delay_ms"`
	Attempts      int    `json:"reconnect_attempts"`
	LastAttempt   string `json:"last_attempt"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleStatus returns the supervisor's connection and backoff state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	broker := s.status.Broker()

	resp := StatusResponse{
		Connected:     s.status.IsConnected(),
		State:         string(s.status.State()),
		LWTTopic:      broker.LWTTopic,
		DelayMS:       s.status.Delay().Milliseconds(),
		Attempts:      s.status.Attempts(),
		LastAttempt:   s.status.LastAttempt().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	if broker.Server != "" {
		resp.Broker = broker.Address()
	}

	writeJSON(w, http.StatusOK, resp)
}
