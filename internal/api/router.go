package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// defaultWSPath serves the WebSocket when none is configured.
const defaultWSPath = "/api/v1/ws"

// Handler builds the HTTP router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.readOnlyMiddleware)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.GetHead)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/events", s.handleDeviceEvents)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{run_id}", s.handleGetRun)
		})
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}
	r.Get(wsPath, s.handleWebSocket)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})

	return r
}
