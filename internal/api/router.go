package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleDeviceStats)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.deviceIDMiddleware)

				r.Get("/", s.handleGetDevice)
				r.Post("/", s.handleRegisterDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Post("/restore", s.handleRestoreDevice)

				// Board commands
				r.Post("/configure", s.handleConfigureDevice)
				r.Post("/values", s.handleSetDeviceValues)
				r.Post("/disconnect", s.handleDisconnectDevice)

				r.Route("/simulation", func(r chi.Router) {
					r.Get("/", s.handleGetSimulation)
					r.Post("/enable", s.handleEnableSimulation)
					r.Post("/disable", s.handleDisableSimulation)
					r.Put("/target", s.handleSetSimulationTarget)
				})
			})
		})

		r.Get("/tombstones", s.handleListTombstones)
		r.Post("/tombstones/clear", s.handleClearTombstones)

		r.Get(s.webSocketPath(), s.handleWebSocket)
	})

	return r
}

// webSocketPath returns the push channel route under /api/v1.
func (s *Server) webSocketPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports broker connectivity and registry size.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"mqtt_connected": s.bridge.IsConnected(),
		"version":        s.version,
		"devices":        s.registry.Count(),
		"clients":        s.hub.ClientCount(),
	})
}
