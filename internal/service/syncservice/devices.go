package syncservice

import (
	"context"
)

// Devices lists the user's known devices, most recently seen first.
func (s *Service) Devices(ctx context.Context, userID string) ([]Device, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, label, platform, created_at, last_seen_at, revoked_at
		FROM devices
		WHERE user_id = $1
		ORDER BY last_seen_at DESC, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := make([]Device, 0, 8)
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Label, &d.Platform, &d.CreatedAt, &d.LastSeenAt, &d.RevokedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}

// RevokeDevice stamps revokedAt on a live device. Returns false when the
// device is unknown or already revoked; revocation is never undone here.
func (s *Service) RevokeDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE devices SET revoked_at = now()
		WHERE user_id = $1 AND id = $2 AND revoked_at IS NULL
	`, userID, deviceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
