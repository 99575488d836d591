package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Config holds identity verification settings.
type Config struct {
	// IDPSecret verifies HS256 bearer tokens minted by the identity provider.
	IDPSecret string
	// DevAuth allows the insecure identity override. Never true in production.
	DevAuth bool
	// DevUserID is the fallback override identity when no header is sent.
	DevUserID string
}

var (
	ErrNoToken      = errors.New("no bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// VerifyBearer validates the Authorization header and returns the token
// subject, the external user identity.
func VerifyBearer(r *http.Request, cfg Config) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", ErrNoToken
	}
	tok := strings.TrimPrefix(h, "Bearer ")

	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.IDPSecret), nil
	})
	if err != nil || !t.Valid {
		log.Ctx(r.Context()).Warn().Err(err).Msg("bearer validation failed")
		return "", ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// ResolveExternalID determines the caller's external identity. A presented
// bearer must verify; the dev override is consulted only when no bearer was
// sent and the insecure override is enabled.
func ResolveExternalID(r *http.Request, cfg Config) (string, error) {
	sub, err := VerifyBearer(r, cfg)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrNoToken) {
		return "", err
	}

	if cfg.DevAuth {
		if v := r.Header.Get("x-dev-user-id"); v != "" {
			log.Ctx(r.Context()).Debug().Str("sub", v).Msg("using dev identity override header")
			return v, nil
		}
		if cfg.DevUserID != "" {
			return cfg.DevUserID, nil
		}
	}
	return "", ErrNoToken
}
