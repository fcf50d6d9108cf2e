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

		r.Get("/mqtt", s.handleGetBroker)
		r.Post("/mqtt", s.handleSetBroker)

		r.Get("/devices", s.handleListDevices)
		r.Post("/devices", s.handleSyncAllDevices)
		r.Post("/device/{mac}", s.handleSyncDevice)
		r.Put("/device/{mac}/un-sync", s.handleUnsyncDevice)
		r.Put("/auto-sync", s.handleSetAutoSync)

		// Called by the gateway for mirrored devices.
		r.Post("/open/device/{mac}", s.handleOpenControl)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server and broker status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"mqtt":    s.bridge.ConnectionState().String(),
		"devices": s.registry.Count(),
	})
}
