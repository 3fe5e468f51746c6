package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/coachsync/cmd/desktop/handlers"
	"github.com/kimhsiao/coachsync/internal/app"
)

// NewRouter wires the REST API, the WebSocket endpoint and health check.
func NewRouter(a *app.App, hub *WSHub) http.Handler {
	origins := a.Config.Server.AllowedOrigins

	syncHandler := handlers.NewSyncHandler(a.Coordinator, a.Queue)
	syncHandler.SetWebSocketHub(hub)
	documentHandler := handlers.NewDocumentHandler(a.Coordinator, a.Store)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(origins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"coachsync-desktop"}`))
	})
	r.Get("/ws", HandleWebSocket(hub, NewUpgrader(origins)))

	r.Route("/api/v1", func(r chi.Router) {
		syncHandler.Register(r)
		documentHandler.Register(r)
	})

	return r
}

// corsMiddleware echoes allowed origins back and answers preflight requests.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !originAllowed(origin, origins) {
					http.Error(w, "origin not allowed", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
