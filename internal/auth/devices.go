package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDeviceRevoked is returned when a revoked device presents itself.
var ErrDeviceRevoked = errors.New("device revoked")

// AdoptDeviceID parses the client-supplied device id, minting a fresh one
// when the header is absent or not a UUID. The second return reports whether
// the client's id was usable as sent.
func AdoptDeviceID(header string) (string, bool) {
	if header != "" {
		if id, err := uuid.Parse(header); err == nil {
			return id.String(), true
		}
	}
	return uuid.NewString(), false
}

// TouchDevice registers or refreshes the device row for this request. New
// devices get a label and platform guessed from the User-Agent. Revoked
// devices are left untouched and reported via ErrDeviceRevoked.
func TouchDevice(ctx context.Context, db *pgxpool.Pool, userID, deviceID, userAgent string) error {
	label, platform := describeDevice(userAgent)

	var revoked bool
	err := db.QueryRow(ctx,
		`INSERT INTO devices (id, user_id, label, platform)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, id) DO UPDATE
		 SET last_seen_at = CASE
		     WHEN devices.revoked_at IS NULL THEN now()
		     ELSE devices.last_seen_at
		 END
		 RETURNING revoked_at IS NOT NULL`,
		deviceID, userID, label, platform).Scan(&revoked)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	if revoked {
		return ErrDeviceRevoked
	}
	return nil
}

// describeDevice guesses a human label and platform tag from a User-Agent.
func describeDevice(ua string) (label, platform string) {
	l := strings.ToLower(ua)
	switch {
	case strings.Contains(l, "iphone"), strings.Contains(l, "ipad"):
		return "iPhone", "ios"
	case strings.Contains(l, "android"):
		return "Android device", "android"
	case strings.Contains(l, "electron"):
		return "Desktop app", "desktop"
	case strings.Contains(l, "macintosh"), strings.Contains(l, "mac os"):
		return "Mac", "macos"
	case strings.Contains(l, "windows"):
		return "Windows PC", "windows"
	case strings.Contains(l, "linux"):
		return "Linux", "linux"
	default:
		return "Web client", "web"
	}
}
