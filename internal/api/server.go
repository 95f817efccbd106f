// Package api exposes the controller over HTTP: challenge intake and
// inspection, manual execution triggers, knowledge sharing, health, and a
// websocket event feed.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanhubbard/mend/internal/controller"
	"github.com/jordanhubbard/mend/internal/events"
	"github.com/jordanhubbard/mend/internal/repository"
)

// Server represents the HTTP API server
type Server struct {
	ctrl *controller.Controller
	repo *repository.Repository
	bus  *events.Bus
	auth *Auth
}

// NewServer creates a new API server. An empty jwtSecret disables
// authentication.
func NewServer(ctrl *controller.Controller, repo *repository.Repository, bus *events.Bus, jwtSecret string) *Server {
	return &Server{
		ctrl: ctrl,
		repo: repo,
		bus:  bus,
		auth: NewAuth(jwtSecret),
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	// Challenges
	mux.HandleFunc("/api/v1/challenges", s.handleChallenges)
	mux.HandleFunc("/api/v1/challenges/", s.handleChallenge)

	// Learnings and patterns
	mux.HandleFunc("/api/v1/learnings", s.handleLearnings)
	mux.HandleFunc("/api/v1/patterns", s.handlePatterns)

	// Knowledge sharing
	mux.HandleFunc("/api/v1/share", s.handleShare)

	// Events (websocket feed)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	handler := s.loggingMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.authMiddleware(handler)

	return handler
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respondJSON(w, http.StatusOK, s.ctrl.GetSystemHealth())
}

// Middleware

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[API] %s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates bearer tokens on mutating endpoints. Read
// endpoints and the health check stay open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() || r.Method == http.MethodGet || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			s.respondError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		if _, err := s.auth.ValidateToken(token); err != nil {
			s.respondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses JSON request body
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractID extracts the path segment after a prefix, ignoring sub-paths.
func (s *Server) extractID(path, prefix string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) > 1 {
		action = parts[1]
	}
	return id, action
}
