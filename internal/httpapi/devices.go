package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/auth"
	"github.com/pocketbrain/pocketbrain-sync/internal/service/syncservice"
)

type devicesResponse struct {
	Devices         []syncservice.Device `json:"devices"`
	CurrentDeviceID string               `json:"currentDeviceId"`
}

// handleDevices handles GET /api/v2/devices
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devices, err := s.Sync.Devices(ctx, auth.UserID(ctx))
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devicesResponse{
		Devices:         devices,
		CurrentDeviceID: auth.DeviceID(ctx),
	})
}

type revokeResponse struct {
	OK              bool   `json:"ok"`
	RevokedDeviceID string `json:"revokedDeviceId"`
}

// handleRevokeDevice handles POST /api/v2/devices/{deviceID}/revoke
// Revoking a device is permanent; its next authenticated request gets 403.
func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	deviceID := chi.URLParam(r, "deviceID")
	if _, err := uuid.Parse(deviceID); err != nil {
		writeError(w, r, http.StatusNotFound, apiError{Code: CodeNotFound, Message: "unknown device"})
		return
	}

	revoked, err := s.Sync.RevokeDevice(ctx, userID, deviceID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if !revoked {
		writeError(w, r, http.StatusNotFound, apiError{Code: CodeNotFound, Message: "unknown device"})
		return
	}

	log.Ctx(ctx).Info().Str("revokedDeviceId", deviceID).Msg("device revoked")
	writeJSON(w, http.StatusOK, revokeResponse{OK: true, RevokedDeviceID: deviceID})
}
