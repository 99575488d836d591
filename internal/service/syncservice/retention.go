package syncservice

import (
	"context"
	"time"

	"github.com/pocketbrain/pocketbrain-sync/internal/syncx"
)

// PruneTombstones hard-deletes notes whose tombstone is older than the
// retention window. A negative retention sweeps every tombstone.
func (s *Service) PruneTombstones(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := syncx.NowMs() - retention.Milliseconds()
	tag, err := s.DB.Exec(ctx,
		`DELETE FROM notes WHERE deleted_at_ms IS NOT NULL AND deleted_at_ms < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneChanges drops change-log rows older than the retention window.
// Pullers parked on a cursor older than what survives will be told to
// reset, so this window must exceed the longest expected offline period.
func (s *Service) PruneChanges(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := s.DB.Exec(ctx,
		`DELETE FROM note_changes WHERE created_at < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneIdempotency removes idempotency entries past their expiry.
func (s *Service) PruneIdempotency(ctx context.Context) (int64, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
