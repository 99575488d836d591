package httpapi

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Error codes carried by the error envelope.
const (
	CodeAuthRequired         = "AUTH_REQUIRED"
	CodeDeviceRevoked        = "DEVICE_REVOKED"
	CodeStreamTicketRequired = "STREAM_TICKET_REQUIRED"
	CodeStreamTicketInvalid  = "STREAM_TICKET_INVALID"
	CodeStreamTicketExpired  = "STREAM_TICKET_EXPIRED"
	CodeStreamTicketReplayed = "STREAM_TICKET_REPLAYED"
	CodeStreamTicketStorage  = "STREAM_TICKET_STORAGE_UNAVAILABLE"
	CodeBadRequest           = "BAD_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimited          = "RATE_LIMITED"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// apiError is the wire form of a failure. Cause and the retry hints are
// optional and only set for upstream-origin or transient failures.
type apiError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	Retryable         bool   `json:"retryable"`
	Cause             string `json:"cause,omitempty"`
	RetryAfterMs      int64  `json:"retryAfterMs,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// writeError emits the error envelope. A Retry-After header accompanies any
// retry hint so plain HTTP clients honor it too.
func writeError(w http.ResponseWriter, r *http.Request, status int, e apiError) {
	if e.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfterSeconds))
	} else if e.RetryAfterMs > 0 {
		secs := int(e.RetryAfterMs / 1000)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().
			Int("status", status).
			Str("code", e.Code).
			Str("message", e.Message).
			Msg("request failed")
	}
	writeJSON(w, status, errorEnvelope{Error: e})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusBadRequest, apiError{Code: CodeBadRequest, Message: msg})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	log.Ctx(r.Context()).Error().Err(err).Msg("handler error")
	writeError(w, r, http.StatusInternalServerError, apiError{
		Code:    CodeInternalError,
		Message: "internal server error",
	})
}
