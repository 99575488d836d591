package syncservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/metrics"
	"github.com/pocketbrain/pocketbrain-sync/internal/syncx"
)

// Pull streams changes after the caller's cursor, oldest first, capped at
// PullLimit. A cursor older than the retained window short-circuits into a
// reset directive; the client must re-snapshot and resume from latest.
func (s *Service) Pull(ctx context.Context, userID string, cursor int64) (*PullResult, error) {
	metrics.M.PullRequests.Inc()

	oldest, latest, err := s.CursorWindow(ctx, userID)
	if err != nil {
		return nil, err
	}
	if oldest > 0 && cursor < oldest-1 {
		metrics.M.CursorResets.Inc()
		log.Ctx(ctx).Warn().
			Int64("cursor", cursor).
			Int64("oldest", oldest).
			Int64("latest", latest).
			Msg("pull cursor predates retained window")
		return &PullResult{
			Changes:               []Change{},
			NextCursor:            latest,
			ResetRequired:         true,
			ResetReason:           ResetReasonCursorTooOld,
			OldestAvailableCursor: oldest,
			LatestCursor:          latest,
		}, nil
	}

	rows, err := s.DB.Query(ctx, `
		SELECT seq, op_type, payload, request_id
		FROM note_changes
		WHERE user_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`, userID, cursor, s.PullLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := make([]Change, 0, 16)
	next := cursor
	for rows.Next() {
		var (
			seq               int64
			opType, requestID string
			raw               []byte
		)
		if err := rows.Scan(&seq, &opType, &raw, &requestID); err != nil {
			return nil, err
		}
		var payload changePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode change %d: %w", seq, err)
		}
		changes = append(changes, Change{
			Cursor:    seq,
			Op:        opType,
			Note:      payload.Note,
			RequestID: requestID,
		})
		next = seq
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PullResult{Changes: changes, NextCursor: next}, nil
}

// Snapshot returns every live note for the user plus the cursor to pull
// from afterwards. The cursor is read first so a commit landing between the
// two reads is re-delivered by the next pull rather than lost.
func (s *Service) Snapshot(ctx context.Context, userID string, includeDeleted bool) (*Snapshot, error) {
	cursor, err := s.CurrentCursor(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + noteColumns + ` FROM notes WHERE user_id = $1`
	if !includeDeleted {
		query += ` AND deleted_at_ms IS NULL`
	}
	query += ` ORDER BY updated_at_ms, id`

	rows, err := s.DB.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := make([]syncx.Note, 0, 64)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Snapshot{Notes: notes, Cursor: cursor}, nil
}
