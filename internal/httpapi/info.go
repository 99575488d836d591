package httpapi

import (
	"net/http"
	"time"
)

// ServerInfo represents the server's capabilities and configuration
type ServerInfo struct {
	APIVersion       string         `json:"apiVersion"`
	ServerTime       string         `json:"serverTime"`
	Limits           SyncLimits     `json:"limits"`
	HeartbeatSeconds int            `json:"heartbeatSeconds"`
	RateLimit        *RateLimitInfo `json:"rateLimit,omitempty"`
	Hints            *SyncHints     `json:"hints,omitempty"`
}

// SyncLimits describes the hard caps push/pull/bootstrap enforce.
type SyncLimits struct {
	MaxBatchOperations int `json:"maxBatchOperations"`
	MaxPullChanges     int `json:"maxPullChanges"`
	MaxBootstrapNotes  int `json:"maxBootstrapNotes"`
	MinRequestIDLength int `json:"minRequestIdLength"`
}

// SyncHints provides recommendations for client behavior
type SyncHints struct {
	RecommendedBatch int `json:"recommendedBatch"` // safe batch size
	BackoffMsOn429   int `json:"backoffMsOn429"`   // default backoff if Retry-After missing
}

// handleSyncInfo handles GET /api/v2/sync/info
// Returns server limits and capabilities so clients can self-configure.
func (s *Server) handleSyncInfo(w http.ResponseWriter, r *http.Request) {
	pullLimit := s.PullLimit
	if pullLimit <= 0 {
		pullLimit = 500
	}
	rl := s.rateLimitConfig()

	info := ServerInfo{
		APIVersion: "2.0",
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		Limits: SyncLimits{
			MaxBatchOperations: s.batchLimit(),
			MaxPullChanges:     pullLimit,
			MaxBootstrapNotes:  maxBootstrapNotes,
			MinRequestIDLength: minRequestIDLen,
		},
		HeartbeatSeconds: int(s.heartbeat().Seconds()),
		RateLimit:        &rl,
		Hints: &SyncHints{
			RecommendedBatch: s.batchLimit(),
			BackoffMsOn429:   1500,
		},
	}

	writeJSON(w, http.StatusOK, info)
}
