package syncservice

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/syncx"
)

// Bootstrap imports a client's pre-existing local notes exactly once per
// user. A second call, from any device, returns the original outcome and
// mutates nothing. The whole import commits atomically; real-time events
// follow the commit.
func (s *Service) Bootstrap(ctx context.Context, userID, deviceID string, notes []syncx.Note, sourceFingerprint string) (*BootstrapResult, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		prior       int
		priorCursor int64
	)
	err = tx.QueryRow(ctx,
		`SELECT imported_count, cursor_after_import FROM sync_bootstrap WHERE user_id = $1`,
		userID).Scan(&prior, &priorCursor)
	if err == nil {
		return &BootstrapResult{Imported: prior, AlreadyBootstrapped: true, Cursor: priorCursor}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var cursor int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM note_changes WHERE user_id = $1`,
		userID).Scan(&cursor); err != nil {
		return nil, err
	}

	sorted := make([]syncx.Note, len(notes))
	copy(sorted, notes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt < sorted[j].CreatedAt
	})

	now := syncx.NowMs()
	imported := 0
	var seqs []int64
	for i := range sorted {
		n := sorted[i].Clone()
		if n.ID == "" {
			log.Ctx(ctx).Warn().Msg("bootstrap note without id skipped")
			continue
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM notes WHERE user_id = $1 AND id = $2)`,
			userID, n.ID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		switch n.Type {
		case syncx.TypeNote, syncx.TypeTask, syncx.TypeIdea:
		default:
			n.Type = syncx.TypeNote
		}
		if len(n.Tags) > syncx.MaxTags {
			n.Tags = n.Tags[:syncx.MaxTags]
		}
		if n.CreatedAt <= 0 {
			n.CreatedAt = now
		}
		if n.UpdatedAt <= 0 {
			n.UpdatedAt = n.CreatedAt
		}
		if n.Version < 1 {
			n.Version = 1
		}
		n.LastModifiedByDeviceID = deviceID

		if err := persistNote(ctx, tx, userID, n); err != nil {
			return nil, err
		}

		opType := OpUpsert
		if n.Deleted() {
			opType = OpDelete
		}
		seq, err := AppendChange(ctx, tx, userID, n.ID, opType, "bootstrap-"+uuid.NewString(), deviceID, 0, n.Version, n)
		if err != nil {
			return nil, err
		}
		imported++
		cursor = seq
		seqs = append(seqs, seq)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sync_bootstrap (user_id, imported_count, source_fingerprint, cursor_after_import)
		VALUES ($1, $2, $3, $4)
	`, userID, imported, sourceFingerprint, cursor)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent bootstrap won; report its outcome.
			return s.priorBootstrap(ctx, userID)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Int("imported", imported).
		Int("received", len(notes)).
		Int64("cursor", cursor).
		Msg("bootstrap import complete")
	for _, seq := range seqs {
		s.publish(ctx, userID, seq)
	}

	return &BootstrapResult{Imported: imported, AlreadyBootstrapped: false, Cursor: cursor}, nil
}

func (s *Service) priorBootstrap(ctx context.Context, userID string) (*BootstrapResult, error) {
	var (
		prior       int
		priorCursor int64
	)
	err := s.DB.QueryRow(ctx,
		`SELECT imported_count, cursor_after_import FROM sync_bootstrap WHERE user_id = $1`,
		userID).Scan(&prior, &priorCursor)
	if err != nil {
		return nil, err
	}
	return &BootstrapResult{Imported: prior, AlreadyBootstrapped: true, Cursor: priorCursor}, nil
}
