package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/scripts", func(r chi.Router) {
			r.Get("/", s.handleListScripts)
			r.Post("/execute", s.handleExecuteScript)
		})

		r.Get("/engine/stats", s.handleEngineStats)
		r.Post("/sessions/check", s.handleCheckSession)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Put("/", s.handlePutDevice)
				r.Delete("/", s.handleDeleteDevice)
			})
		})
	})

	r.Get(s.eventsPath(), s.handleEvents)

	r.Handle("/web/*", http.HandlerFunc(s.handleWeb))
	r.Handle("/web", http.RedirectHandler("/web/", http.StatusMovedPermanently))

	return r
}

// eventsPath is the WebSocket endpoint, configurable for reverse proxies.
func (s *Server) eventsPath() string {
	if s.wsCfg.Path != "" {
		return s.wsCfg.Path
	}
	return "/api/v1/events"
}

// handleHealth reports server health. It answers 503 while the engine is
// shutting down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()

	mqttStatus := "disabled"
	if s.mqtt != nil {
		mqttStatus = "connected"
		if err := s.mqtt.HealthCheck(r.Context()); err != nil {
			mqttStatus = "disconnected"
		}
	}

	status, code := "ok", http.StatusOK
	if stats.ShuttingDown {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"mqtt":    mqttStatus,
	})
}
