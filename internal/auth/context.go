package auth

import "context"

type ctxKey string

const (
	ctxUserID     ctxKey = "uid"
	ctxExternalID ctxKey = "ext"
	ctxDeviceID   ctxKey = "did"
)

// WithIdentity stores the resolved identity triple on the request context.
func WithIdentity(ctx context.Context, userID, externalID, deviceID string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxExternalID, externalID)
	return context.WithValue(ctx, ctxDeviceID, deviceID)
}

// UserID returns the internal user id set by the gate, or "".
func UserID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxUserID).(string); ok {
		return s
	}
	return ""
}

// ExternalID returns the identity-provider subject set by the gate, or "".
func ExternalID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxExternalID).(string); ok {
		return s
	}
	return ""
}

// DeviceID returns the adopted device id set by the gate, or "".
func DeviceID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxDeviceID).(string); ok {
		return s
	}
	return ""
}
