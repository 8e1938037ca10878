package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rosoideae/weave/internal/access"
	"github.com/rosoideae/weave/internal/graph"
	"github.com/rosoideae/weave/internal/hub"
)

type Server struct {
	router *chi.Mux
	port   int
	graph  *graph.Graph
	hub    *hub.Hub
	auth   access.Authorizer
	logger *slog.Logger
}

// NewServer wires the REST surface and the WebSocket mount. wsHandler may be
// nil when no gateway is running (tests).
func NewServer(port int, apiToken string, g *graph.Graph, h *hub.Hub, auth access.Authorizer, wsHandler http.HandlerFunc, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		graph:  g,
		hub:    h,
		auth:   auth,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/weave/status", s.status)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/contributions", s.insertContribution)
		r.Patch("/contributions/{id}", s.editContribution)
		r.Get("/contributions/{id}/ancestors", s.ancestors)
		r.Get("/graph/velocity", s.velocity)
		r.Get("/channels/{key}/metrics", s.channelMetrics)
		r.Get("/channels/{key}/subscribers", s.channelSubscribers)
	})

	if wsHandler != nil {
		router.Get("/ws", wsHandler)
	}

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// BearerAuthMiddleware rejects requests without the configured token. An
// empty token disables the check (local development).
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if got != token {
					writeError(w, http.StatusUnauthorized, "missing or invalid token")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	conns, channels := s.hub.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     "weave",
		"status":      "ok",
		"nodes":       s.graph.Len(),
		"connections": conns,
		"channels":    channels,
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
