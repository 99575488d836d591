package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/auth"
	"github.com/pocketbrain/pocketbrain-sync/internal/syncx"
	"github.com/pocketbrain/pocketbrain-sync/internal/ticket"
)

type readyFrame struct {
	ConnectedAt int64 `json:"connectedAt"`
}

type heartbeatFrame struct {
	Ts int64 `json:"ts"`
}

type syncFrame struct {
	Cursor int64 `json:"cursor"`
	Ts     int64 `json:"ts"`
}

// handleEvents handles GET /api/v2/events
// Long-lived SSE stream authenticated by a single-use ticket cookie. Emits
// a ready frame on connect, heartbeats on an interval, and a sync frame for
// every committed cursor belonging to the user.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie(ticket.CookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, r, http.StatusUnauthorized, apiError{
			Code:    CodeStreamTicketRequired,
			Message: "stream ticket cookie is required",
		})
		return
	}

	claims, err := s.Tickets.Consume(ctx, cookie.Value)
	if err != nil {
		s.writeTicketError(w, r, err)
		return
	}

	userID, err := auth.EnsureUser(ctx, s.DB, claims.Subject)
	if err != nil {
		internalError(w, r, err)
		return
	}
	deviceID, _ := auth.AdoptDeviceID(claims.DeviceID)
	if err := auth.TouchDevice(ctx, s.DB, userID, deviceID, r.UserAgent()); err != nil {
		if errors.Is(err, auth.ErrDeviceRevoked) {
			writeError(w, r, http.StatusForbidden, apiError{
				Code:    CodeDeviceRevoked,
				Message: "this device has been revoked",
			})
			return
		}
		internalError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		internalError(w, r, errors.New("response writer does not support streaming"))
		return
	}

	logger := log.Ctx(ctx).With().Str("userId", userID).Str("deviceId", deviceID).Logger()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("x-device-id", deviceID)
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, flusher, "ready", readyFrame{ConnectedAt: syncx.NowMs()}); err != nil {
		return
	}

	events, cancel := s.Hub.Subscribe(userID)
	defer cancel()

	heartbeat := time.NewTicker(s.heartbeat())
	defer heartbeat.Stop()

	logger.Info().Msg("event stream connected")
	defer logger.Info().Msg("event stream closed")

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := writeSSE(w, flusher, "heartbeat", heartbeatFrame{Ts: syncx.NowMs()}); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, flusher, "sync", syncFrame{Cursor: ev.Cursor, Ts: syncx.NowMs()}); err != nil {
				return
			}
		}
	}
}

// writeTicketError maps ticket consumption failures onto the wire taxonomy.
func (s *Server) writeTicketError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ticket.ErrTicketExpired):
		writeError(w, r, http.StatusUnauthorized, apiError{
			Code:    CodeStreamTicketExpired,
			Message: "stream ticket has expired",
		})
	case errors.Is(err, ticket.ErrTicketReplayed):
		writeError(w, r, http.StatusUnauthorized, apiError{
			Code:    CodeStreamTicketReplayed,
			Message: "stream ticket has already been used",
		})
	case errors.Is(err, ticket.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, apiError{
			Code:         CodeStreamTicketStorage,
			Message:      "ticket verification is temporarily unavailable",
			Retryable:    true,
			RetryAfterMs: 1000,
		})
	default:
		writeError(w, r, http.StatusUnauthorized, apiError{
			Code:    CodeStreamTicketInvalid,
			Message: "stream ticket is invalid",
		})
	}
}

func writeSSE(w http.ResponseWriter, f http.Flusher, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	f.Flush()
	return nil
}
