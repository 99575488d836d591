// Package ticket issues and redeems the single-use credentials that guard the
// event-stream handshake. Browsers cannot attach Authorization headers to an
// EventSource, so clients trade their bearer for a short-lived cookie ticket.
package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/metrics"
)

// CookieName carries the ticket between the issue call and the handshake.
const CookieName = "pb_stream_ticket"

// TypePBST is the token type in the signed header. Rejecting plain "JWT"
// keeps bearer tokens from doubling as stream tickets.
const TypePBST = "PBST"

var (
	ErrTicketInvalid    = errors.New("stream ticket invalid")
	ErrTicketExpired    = errors.New("stream ticket expired")
	ErrTicketReplayed   = errors.New("stream ticket already used")
	ErrStoreUnavailable = errors.New("ticket replay store unavailable")
)

// Claims carried by a stream ticket.
type Claims struct {
	DeviceID string `json:"deviceId"`
	jwt.RegisteredClaims
}

// Service mints and redeems stream tickets.
type Service struct {
	secret []byte
	ttl    time.Duration
	store  ReplayStore
	// strict rejects handshakes when the replay store is down; best-effort
	// admits them and counts the bypass.
	strict bool
	tel    Telemetry
}

// NewService builds the ticket service. strict should be true in production.
func NewService(secret string, ttl time.Duration, store ReplayStore, strict bool) *Service {
	s := &Service{secret: []byte(secret), ttl: ttl, store: store, strict: strict}
	if strict {
		metrics.M.TicketStrictMode.Set(1)
	} else {
		metrics.M.TicketStrictMode.Set(0)
	}
	if store.Mode() == ModeRedis {
		metrics.M.ReplayStoreRedis.Set(1)
	} else {
		metrics.M.ReplayStoreRedis.Set(0)
	}
	return s
}

// TTL returns the configured ticket lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Strict reports whether replay-store outages fail closed.
func (s *Service) Strict() bool { return s.strict }

// StoreMode names the replay store backend.
func (s *Service) StoreMode() string { return s.store.Mode() }

// Mint signs a fresh single-use ticket for the identity and device.
func (s *Service) Mint(externalID, deviceID string) (token string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(s.ttl)

	claims := &Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   externalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["typ"] = TypePBST

	token, err = tok.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	metrics.M.TicketsIssued.Inc()
	return token, expiresAt, nil
}

// Consume validates a ticket and burns its jti. Exactly one Consume per
// minted ticket succeeds while the replay store is reachable.
func (s *Service) Consume(ctx context.Context, token string) (*Claims, error) {
	s.tel.attempt()

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			metrics.M.TicketConsume.WithLabelValues("expired").Inc()
			return nil, ErrTicketExpired
		}
		metrics.M.TicketConsume.WithLabelValues("invalid").Inc()
		return nil, ErrTicketInvalid
	}

	if typ, _ := tok.Header["typ"].(string); typ != TypePBST {
		metrics.M.TicketConsume.WithLabelValues("invalid").Inc()
		return nil, ErrTicketInvalid
	}
	if claims.Subject == "" || claims.ID == "" || claims.ExpiresAt == nil {
		metrics.M.TicketConsume.WithLabelValues("invalid").Inc()
		return nil, ErrTicketInvalid
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		metrics.M.TicketConsume.WithLabelValues("expired").Inc()
		return nil, ErrTicketExpired
	}

	fresh, err := s.store.MarkUsed(ctx, claims.ID, remaining)
	if err != nil {
		s.tel.storageError()
		metrics.M.TicketStorageErrors.Inc()
		log.Ctx(ctx).Error().Err(err).Str("mode", s.store.Mode()).Msg("ticket replay store failure")
		if s.strict {
			metrics.M.TicketConsume.WithLabelValues("storage_error").Inc()
			return nil, ErrStoreUnavailable
		}
		s.tel.failOpen()
		metrics.M.TicketFailOpenPasses.Inc()
		metrics.M.TicketConsume.WithLabelValues("fail_open").Inc()
		s.tel.success()
		return claims, nil
	}
	s.tel.storeOK()
	if !fresh {
		s.tel.replayReject()
		metrics.M.TicketConsume.WithLabelValues("replayed").Inc()
		return nil, ErrTicketReplayed
	}

	s.tel.success()
	metrics.M.TicketConsume.WithLabelValues("ok").Inc()
	return claims, nil
}

// Telemetry returns counters for the readiness report.
func (s *Service) Telemetry() TelemetrySnapshot {
	return s.tel.snapshot(s.store.Mode(), s.strict)
}
