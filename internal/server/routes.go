package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes configures and returns the gateway router: health check,
// WebSocket endpoint, stats, metrics and the test page.
func (s *Server) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.Get("/stats", s.StatsHandler)
	mux.Get("/metrics", s.MetricsHandler)
	mux.Get("/test", TestPageHandler)
	return mux
}
