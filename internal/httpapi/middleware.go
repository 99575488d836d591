package httpapi

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/auth"
)

// correlationMiddleware reads x-request-id (minting one when absent), echoes
// it back, and threads a request-scoped logger through the context so every
// log line in the request carries the id.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("x-request-id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("x-request-id", requestID)

		logger := log.With().Str("requestId", requestID).Logger()
		ctx := logger.WithContext(r.Context())

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverMiddleware converts a handler panic into an INTERNAL_ERROR envelope
// instead of tearing down the connection with no body.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Ctx(r.Context()).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panic")
				writeError(w, r, http.StatusInternalServerError, apiError{
					Code:    CodeInternalError,
					Message: "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireIdentity is the gate in front of every /api/v2 route except SSE.
// It resolves the external identity from the bearer credential (or the dev
// override), maps it to an internal user, adopts a device id, and refuses
// revoked devices. The adopted id is echoed on x-device-id so clients can
// persist a server-minted one.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		externalID, err := auth.ResolveExternalID(r, s.Auth)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, apiError{
				Code:    CodeAuthRequired,
				Message: "missing or invalid credentials",
			})
			return
		}

		userID, err := auth.EnsureUser(ctx, s.DB, externalID)
		if err != nil {
			internalError(w, r, err)
			return
		}

		deviceID, _ := auth.AdoptDeviceID(r.Header.Get("x-device-id"))
		w.Header().Set("x-device-id", deviceID)

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

		ctx = auth.WithIdentity(ctx, userID, externalID, deviceID)
		logger := log.Ctx(ctx).With().
			Str("userId", userID).
			Str("deviceId", deviceID).
			Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))
	})
}
