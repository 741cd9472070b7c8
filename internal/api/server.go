// Package api implements the HTTP API: five bearer authenticated endpoints
// (plus the open /health) in front of the Job Queue and Result Cache.
// Routing is go-chi, with route groups and middleware trimmed down to the
// handful of routes this service needs: no CORS, no Swagger, no
// Prometheus scrape endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/riverbend/watchlistd/internal"
)

// userIDPattern is the userID shape: "ur" followed by digits.
var userIDPattern = regexp.MustCompile(`^ur\d+$`)

// HealthChecker reports the dependencies /health summarizes.
type HealthChecker interface {
	PingRedis(ctx context.Context) error
	QueueDepth(ctx context.Context) (int, error)
}

// Server wires the HTTP API to the Job Queue and Result Cache. It holds no
// business logic of its own; every handler delegates to the JobQueue or
// ResultCache interfaces.
type Server struct {
	jobs        internal.JobQueue
	resultCache internal.ResultCache
	health      HealthChecker
	secret      string
	startedAt   time.Time
	syncWait    time.Duration

	router chi.Router
}

// New builds the HTTP API. secret is the bearer token every route but
// /health requires; syncWait bounds POST /scrape-sync's blocking poll.
func New(jobs internal.JobQueue, resultCache internal.ResultCache, health HealthChecker, secret string, syncWait time.Duration) *Server {
	if syncWait <= 0 {
		syncWait = 90 * time.Second
	}
	s := &Server{
		jobs:        jobs,
		resultCache: resultCache,
		health:      health,
		secret:      secret,
		startedAt:   time.Now(),
		syncWait:    syncWait,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(120 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/cache/{userID}", s.handleGetCache)
		r.Post("/scrape-sync", s.handleScrapeSync)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the JSON error shape:
// {error: <kind>, message: <string>, details?: ...}.
type errorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind internal.ErrorKind, message string) {
	writeJSON(w, status, errorResponse{Error: string(kind), Message: message})
}

// statusForKind maps an ErrorKind to the HTTP status it should produce.
func statusForKind(kind internal.ErrorKind) int {
	switch kind {
	case internal.ErrValidation:
		return http.StatusBadRequest
	case internal.ErrAuth:
		return http.StatusUnauthorized
	case internal.ErrNotFound:
		return http.StatusNotFound
	case internal.ErrUpstreamPrivate, internal.ErrUpstreamNotFound:
		return http.StatusUnprocessableEntity
	case internal.ErrCacheBackend:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
