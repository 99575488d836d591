package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/auth"
	"github.com/pocketbrain/pocketbrain-sync/internal/service/syncservice"
	"github.com/pocketbrain/pocketbrain-sync/internal/syncx"
)

const (
	minRequestIDLen       = 8
	maxClientFieldsPerOp  = 32
	maxBootstrapNotes     = 5000
	defaultSyncBatchLimit = 100
)

// pushRequest is the request body for push. Early clients sent the batch
// under "ops"; both spellings are accepted, "operations" wins when both
// are present.
type pushRequest struct {
	Operations []syncservice.PushOp `json:"operations"`
	Ops        []syncservice.PushOp `json:"ops"`
}

func (p *pushRequest) batch() []syncservice.PushOp {
	if len(p.Operations) > 0 {
		return p.Operations
	}
	return p.Ops
}

func (s *Server) batchLimit() int {
	if s.BatchLimit > 0 {
		return s.BatchLimit
	}
	return defaultSyncBatchLimit
}

// handlePush handles POST /api/v2/sync/push
// Applies a batch of client operations with optimistic concurrency control;
// each operation commits independently and is idempotent by requestId.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)
	deviceID := auth.DeviceID(ctx)

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("invalid push request body")
		badRequest(w, r, "invalid json body")
		return
	}

	ops := req.batch()
	if len(ops) > s.batchLimit() {
		badRequest(w, r, fmt.Sprintf("batch exceeds limit of %d operations", s.batchLimit()))
		return
	}
	for i, op := range ops {
		if msg := validatePushOp(op); msg != "" {
			badRequest(w, r, fmt.Sprintf("operations[%d]: %s", i, msg))
			return
		}
	}

	res, err := s.Sync.Push(ctx, userID, deviceID, ops)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func validatePushOp(op syncservice.PushOp) string {
	if len(op.RequestID) < minRequestIDLen {
		return fmt.Sprintf("requestId must be at least %d characters", minRequestIDLen)
	}
	if op.NoteID == "" {
		return "noteId is required"
	}
	if op.BaseVersion < 0 {
		return "baseVersion must be non-negative"
	}
	switch op.Op {
	case syncservice.OpUpsert:
		if op.Note == nil {
			return "upsert requires a note"
		}
	case syncservice.OpDelete:
	default:
		return fmt.Sprintf("op must be %q or %q", syncservice.OpUpsert, syncservice.OpDelete)
	}
	if len(op.ClientChangedFields) > maxClientFieldsPerOp {
		return fmt.Sprintf("clientChangedFields exceeds %d entries", maxClientFieldsPerOp)
	}
	return ""
}

// handlePull handles GET /api/v2/sync/pull?cursor=<seq>
// Returns ordered changes after the cursor, or a reset directive when the
// cursor predates the retained window.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	cursor, err := syncx.ParseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	res, err := s.Sync.Pull(ctx, userID, cursor)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSnapshot handles GET /api/v2/notes?includeDeleted=<bool>
// Returns the full current state plus the cursor to resume pulling from.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	includeDeleted := false
	if q := r.URL.Query().Get("includeDeleted"); q != "" {
		b, err := strconv.ParseBool(q)
		if err != nil {
			badRequest(w, r, "includeDeleted must be a boolean")
			return
		}
		includeDeleted = b
	}

	snap, err := s.Sync.Snapshot(ctx, userID, includeDeleted)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// bootstrapRequest is the request body for the one-shot import.
type bootstrapRequest struct {
	Notes             []syncx.Note `json:"notes"`
	SourceFingerprint string       `json:"sourceFingerprint"`
}

// handleBootstrap handles POST /api/v2/sync/bootstrap
// Imports a pre-sync local corpus exactly once per user.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)
	deviceID := auth.DeviceID(ctx)

	var req bootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("invalid bootstrap request body")
		badRequest(w, r, "invalid json body")
		return
	}
	if len(req.Notes) > maxBootstrapNotes {
		badRequest(w, r, fmt.Sprintf("bootstrap exceeds limit of %d notes", maxBootstrapNotes))
		return
	}

	res, err := s.Sync.Bootstrap(ctx, userID, deviceID, req.Notes, req.SourceFingerprint)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
