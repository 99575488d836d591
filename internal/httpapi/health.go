package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/maintenance"
	"github.com/pocketbrain/pocketbrain-sync/internal/metrics"
	"github.com/pocketbrain/pocketbrain-sync/internal/realtime"
	"github.com/pocketbrain/pocketbrain-sync/internal/ticket"
)

const readyCheckTimeout = 1500 * time.Millisecond

// handleHealth handles GET /health (liveness, no dependency calls)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type dependencyCheck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type readyResponse struct {
	Status string `json:"status"`
	Checks struct {
		Database dependencyCheck  `json:"database"`
		Redis    *dependencyCheck `json:"redis,omitempty"`
	} `json:"checks"`
	Fanout        realtime.Status          `json:"fanout"`
	StreamTickets ticket.TelemetrySnapshot `json:"streamTickets"`
	Maintenance   maintenance.Health       `json:"maintenance"`
	Time          string                   `json:"time"`
}

// handleReady handles GET /ready
// Pings the database (and redis when configured) under a bounded timeout and
// aggregates dependency state. Failures produce 503 only in strict mode;
// otherwise the instance stays ready and reports a degraded descriptor.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	var resp readyResponse

	resp.Checks.Database.OK = true
	if err := s.DB.Ping(ctx); err != nil {
		resp.Checks.Database = dependencyCheck{OK: false, Error: err.Error()}
		metrics.M.ReadinessFailures.WithLabelValues("database").Inc()
		log.Ctx(r.Context()).Warn().Err(err).Msg("readiness database ping failed")
	}

	redisOK := true
	if s.Redis != nil {
		check := dependencyCheck{OK: true}
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			check = dependencyCheck{OK: false, Error: err.Error()}
			redisOK = false
			metrics.M.ReadinessFailures.WithLabelValues("redis").Inc()
			log.Ctx(r.Context()).Warn().Err(err).Msg("readiness redis ping failed")
		}
		resp.Checks.Redis = &check
	} else if s.RequireRedisForReady {
		redisOK = false
		resp.Checks.Redis = &dependencyCheck{OK: false, Error: "redis not configured"}
		metrics.M.ReadinessFailures.WithLabelValues("redis").Inc()
	}

	resp.Fanout = s.Hub.Status()
	resp.StreamTickets = s.Tickets.Telemetry()
	if s.Maint != nil {
		resp.Maintenance = s.Maint.Health()
	}
	resp.Time = time.Now().UTC().Format(time.RFC3339)

	ready := resp.Checks.Database.OK && (!s.RequireRedisForReady || redisOK)
	// Local fan-out is only a degradation when redis was configured at all.
	degraded := !ready ||
		(resp.Checks.Redis != nil && !resp.Checks.Redis.OK) ||
		(s.Redis != nil && resp.Fanout.Mode == realtime.ModeLocalFallback)

	if degraded {
		resp.Status = "degraded"
	} else {
		resp.Status = "ready"
	}

	status := http.StatusOK
	if !ready && s.RequireRedisForReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
