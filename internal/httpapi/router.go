package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/auth"
	"github.com/pocketbrain/pocketbrain-sync/internal/maintenance"
	"github.com/pocketbrain/pocketbrain-sync/internal/realtime"
	"github.com/pocketbrain/pocketbrain-sync/internal/service/syncservice"
	"github.com/pocketbrain/pocketbrain-sync/internal/ticket"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	DB      *pgxpool.Pool
	Auth    auth.Config
	Sync    *syncservice.Service
	Hub     *realtime.Hub
	Tickets *ticket.Service
	Maint   *maintenance.Loop

	// Redis is consulted by /ready; nil when the deployment runs without it.
	Redis *redis.Client

	BatchLimit           int
	PullLimit            int
	HeartbeatInterval    time.Duration
	CORSOrigin           string
	RequireRedisForReady bool
	RateLimit            RateLimitInfo
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) heartbeat() time.Duration {
	if s.HeartbeatInterval > 0 {
		return s.HeartbeatInterval
	}
	return 20 * time.Second
}

func (s *Server) rateLimitConfig() RateLimitInfo {
	if s.RateLimit.MaxRequests > 0 {
		return s.RateLimit
	}
	return DefaultRateLimitConfig
}

// Routes creates the HTTP router with all sync endpoints
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(correlationMiddleware)
	r.Use(recoverMiddleware)

	origin := s.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "x-request-id", "x-device-id", "x-dev-user-id"},
		ExposedHeaders:   []string{"x-request-id", "x-device-id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: origin != "*",
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, apiError{Code: CodeNotFound, Message: "unknown route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, apiError{Code: CodeBadRequest, Message: "method not allowed"})
	})

	// Probes and metrics (unauthenticated)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v2", func(r chi.Router) {
		// The event stream authenticates with a one-shot ticket cookie
		// instead of a bearer; EventSource cannot set headers.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.requireIdentity)
			r.Use(RateLimitMiddleware(s.rateLimitConfig()))

			r.Get("/notes", s.handleSnapshot)

			r.Get("/sync/pull", s.handlePull)
			r.Post("/sync/push", s.handlePush)
			r.Post("/sync/bootstrap", s.handleBootstrap)
			r.Get("/sync/info", s.handleSyncInfo)

			r.Get("/devices", s.handleDevices)
			r.Post("/devices/{deviceID}/revoke", s.handleRevokeDevice)

			r.Post("/events/ticket", s.handleIssueTicket)
		})
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
