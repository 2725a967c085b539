package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ipx800-bridge/internal/bridge"
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

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/endpoints", s.handleListEndpoints)

			r.Route("/endpoints/{endpoint}", func(r chi.Router) {
				r.Use(s.endpointMiddleware)

				r.Get("/", s.handleGetEndpoint)
				r.Get("/snapshot", s.handleGetSnapshot)
				r.Post("/push", s.handlePush)
				r.Put("/outputs", s.handleSetOutputs)

				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.handleListDevices)
					r.Post("/", s.handleCreateDevice)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetDevice)
						r.Patch("/", s.handleRenameDevice)
						r.Delete("/", s.handleDeleteDevice)
						r.Put("/state", s.handleSetDeviceState)
						r.Get("/history", s.handleDeviceHistory)
					})
				})

				// WebSocket consumer channel
				r.Get("/ws", s.handleWebSocket)
			})
		})
	})

	return r
}

// ctxKeyBridge is the context key for the endpoint resolved from the URL.
const ctxKeyBridge contextKey = "bridge"

// endpointMiddleware resolves {endpoint} to its bridge, or answers 404.
func (s *Server) endpointMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := s.lookupBridge(chi.URLParam(r, "endpoint"))
		if !ok {
			writeNotFound(w, "endpoint not found")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyBridge, b)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bridgeFromContext returns the bridge stored by endpointMiddleware.
func bridgeFromContext(ctx context.Context) *bridge.Bridge {
	b, _ := ctx.Value(ctxKeyBridge).(*bridge.Bridge) //nolint:errcheck // set by endpointMiddleware
	return b
}

// handleHealth returns the server health and the polling status of every endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	endpoints := make([]bridge.Health, 0, len(s.order))
	for _, id := range s.order {
		h := s.bridges[id].Health()
		if !h.Healthy() {
			status = "degraded"
		}
		endpoints = append(endpoints, h)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"version":   s.version,
		"endpoints": endpoints,
	})
}
