package httpapi

import (
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/auth"
	"github.com/pocketbrain/pocketbrain-sync/internal/ticket"
)

type ticketResponse struct {
	OK        bool  `json:"ok"`
	ExpiresAt int64 `json:"expiresAt"`
}

// handleIssueTicket handles POST /api/v2/events/ticket
// Trades the caller's bearer for a single-use cookie scoped to the event
// stream route. The cookie is the only credential the stream accepts.
func (s *Server) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, expiresAt, err := s.Tickets.Mint(auth.ExternalID(ctx), auth.DeviceID(ctx))
	if err != nil {
		internalError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ticket.CookieName,
		Value:    token,
		Path:     "/api/v2/events",
		MaxAge:   int(s.Tickets.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isLoopbackHost(r.Host),
	})

	log.Ctx(ctx).Debug().Time("expiresAt", expiresAt).Msg("stream ticket issued")
	writeJSON(w, http.StatusOK, ticketResponse{OK: true, ExpiresAt: expiresAt.UnixMilli()})
}

// isLoopbackHost reports whether the request host is local. Secure cookies
// would be dropped by browsers on plain-http localhost during development.
func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
