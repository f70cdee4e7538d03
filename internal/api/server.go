// Package api exposes the session operations over HTTP: start/resume,
// action relay, page HTML, manual mode, close, and the scheduler event
// feed. The websocket control channel is mounted here as well.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/talonhq/linkpilot/internal/ratelimit"
	"github.com/talonhq/linkpilot/internal/transport"
)

// SetupRoutes builds the router.
func (h *Handler) SetupRoutes(hub *transport.Hub, limiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// Session lifecycle is rate limited: each create may launch Chrome.
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(limiter))
	limited.HandleFunc("/sessions", h.StartSession).Methods("POST")
	limited.HandleFunc("/sessions/{userId}", h.DeleteSession).Methods("DELETE")

	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{userId}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{userId}/actions", h.RelayAction).Methods("POST")
	api.HandleFunc("/sessions/{userId}/html", h.GetPageHTML).Methods("GET")
	api.HandleFunc("/sessions/{userId}/manual-mode", h.EnableManualMode).Methods("POST")

	// Remote-control websocket; frequent, never rate limited.
	api.HandleFunc("/sessions/{userId}/control", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeControl(w, r, mux.Vars(r)["userId"])
	}).Methods("GET")

	// Scheduler long-poll for login-completed / session-closed signals.
	api.HandleFunc("/events", h.PollEvents).Methods("GET")

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	r.Use(corsMiddleware)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
