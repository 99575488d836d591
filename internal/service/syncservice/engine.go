package syncservice

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pocketbrain/pocketbrain-sync/internal/syncx"
)

// Publisher announces committed cursors to live listeners. The real-time
// hub satisfies this; tests substitute a recorder.
type Publisher interface {
	PublishSync(ctx context.Context, userID string, cursor int64)
}

// Service owns the durable sync state: notes, the per-user change log,
// idempotency entries, devices, and the bootstrap flag.
type Service struct {
	DB     *pgxpool.Pool
	Events Publisher

	// PullLimit caps changes returned per pull.
	PullLimit int
}

// New wires the service. events may be nil, silencing real-time fan-out.
func New(db *pgxpool.Pool, events Publisher, pullLimit int) *Service {
	return &Service{DB: db, Events: events, PullLimit: pullLimit}
}

func (s *Service) publish(ctx context.Context, userID string, cursor int64) {
	if s.Events != nil {
		s.Events.PublishSync(ctx, userID, cursor)
	}
}

// CurrentCursor returns the largest committed seq for the user, or 0.
func (s *Service) CurrentCursor(ctx context.Context, userID string) (int64, error) {
	var cur int64
	err := s.DB.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM note_changes WHERE user_id = $1`,
		userID).Scan(&cur)
	return cur, err
}

// CursorWindow returns the oldest and latest retained seq for the user.
// Both are 0 when the change log is empty.
func (s *Service) CursorWindow(ctx context.Context, userID string) (oldest, latest int64, err error) {
	err = s.DB.QueryRow(ctx,
		`SELECT COALESCE(MIN(seq), 0), COALESCE(MAX(seq), 0) FROM note_changes WHERE user_id = $1`,
		userID).Scan(&oldest, &latest)
	return oldest, latest, err
}

const noteColumns = `id, content, title, tags, note_type, is_processed, is_completed,
	is_archived, is_pinned, due_date_ms, priority, analysis_state,
	analysis_version, content_hash, created_at_ms, updated_at_ms,
	version, deleted_at_ms, last_device_id`

func scanNote(row pgx.Row) (*syncx.Note, error) {
	var n syncx.Note
	err := row.Scan(
		&n.ID, &n.Content, &n.Title, &n.Tags, &n.Type, &n.IsProcessed,
		&n.IsCompleted, &n.IsArchived, &n.IsPinned, &n.DueDate, &n.Priority,
		&n.AnalysisState, &n.AnalysisVersion, &n.ContentHash, &n.CreatedAt,
		&n.UpdatedAt, &n.Version, &n.DeletedAt, &n.LastModifiedByDeviceID,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// noteForUpdate reads the current row under a row lock so concurrent
// writers to the same note serialize. Returns nil when the note is absent.
func noteForUpdate(ctx context.Context, tx pgx.Tx, userID, noteID string) (*syncx.Note, error) {
	n, err := scanNote(tx.QueryRow(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = $1 AND id = $2 FOR UPDATE`,
		userID, noteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func persistNote(ctx context.Context, tx pgx.Tx, userID string, n *syncx.Note) error {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO notes (user_id, id, content, title, tags, note_type, is_processed,
			is_completed, is_archived, is_pinned, due_date_ms, priority, analysis_state,
			analysis_version, content_hash, created_at_ms, updated_at_ms, version,
			deleted_at_ms, last_device_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (user_id, id) DO UPDATE SET
			content          = EXCLUDED.content,
			title            = EXCLUDED.title,
			tags             = EXCLUDED.tags,
			note_type        = EXCLUDED.note_type,
			is_processed     = EXCLUDED.is_processed,
			is_completed     = EXCLUDED.is_completed,
			is_archived      = EXCLUDED.is_archived,
			is_pinned        = EXCLUDED.is_pinned,
			due_date_ms      = EXCLUDED.due_date_ms,
			priority         = EXCLUDED.priority,
			analysis_state   = EXCLUDED.analysis_state,
			analysis_version = EXCLUDED.analysis_version,
			content_hash     = EXCLUDED.content_hash,
			updated_at_ms    = EXCLUDED.updated_at_ms,
			version          = EXCLUDED.version,
			deleted_at_ms    = EXCLUDED.deleted_at_ms,
			last_device_id   = EXCLUDED.last_device_id
	`, userID, n.ID, n.Content, n.Title, tags, n.Type, n.IsProcessed,
		n.IsCompleted, n.IsArchived, n.IsPinned, n.DueDate, n.Priority,
		n.AnalysisState, n.AnalysisVersion, n.ContentHash, n.CreatedAt,
		n.UpdatedAt, n.Version, n.DeletedAt, n.LastModifiedByDeviceID)
	return err
}

// AppendChange inserts a Change row and returns the assigned seq. The seq
// allocation shares the caller's transaction, which is what makes per-user
// cursor order match commit order.
func AppendChange(ctx context.Context, tx pgx.Tx, userID, noteID, opType, requestID, deviceID string, baseVersion, newVersion int64, note *syncx.Note) (int64, error) {
	payload, err := json.Marshal(changePayload{Note: note})
	if err != nil {
		return 0, err
	}
	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO note_changes (user_id, note_id, op_type, payload, base_version, new_version, request_id, device_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`, userID, noteID, opType, payload, baseVersion, newVersion, requestID, deviceID).Scan(&seq)
	return seq, err
}

func conflictOutcome(op PushOp, current *syncx.Note) opOutcome {
	var currentVersion int64
	server := current.Clone()
	if server != nil {
		currentVersion = server.Version
	}
	fields := syncx.ConflictFields(op.BaseNote, server, op.ClientChangedFields)
	if fields == nil {
		fields = []string{}
	}
	return opOutcome{conflict: &ConflictRecord{
		RequestID:      op.RequestID,
		NoteID:         op.NoteID,
		BaseVersion:    op.BaseVersion,
		CurrentVersion: currentVersion,
		ServerNote:     server,
		ChangedFields:  fields,
	}}
}

// applyUpsert commits one upsert inside tx, or reports a conflict when the
// client's baseVersion no longer matches the stored version.
func applyUpsert(ctx context.Context, tx pgx.Tx, userID, deviceID string, op PushOp, current *syncx.Note) (opOutcome, error) {
	var currentVersion int64
	if current != nil {
		currentVersion = current.Version
	}
	if op.BaseVersion != currentVersion {
		return conflictOutcome(op, current), nil
	}

	next := op.Note.Clone()
	if next == nil {
		next = &syncx.Note{}
	}
	next.ID = op.NoteID
	syncx.Normalize(next, current, deviceID, syncx.NowMs())
	next.Version = currentVersion + 1

	if err := persistNote(ctx, tx, userID, next); err != nil {
		return opOutcome{}, err
	}
	seq, err := AppendChange(ctx, tx, userID, op.NoteID, OpUpsert, op.RequestID, deviceID, op.BaseVersion, next.Version, next)
	if err != nil {
		return opOutcome{}, err
	}
	return opOutcome{applied: &AppliedRecord{
		RequestID: op.RequestID,
		NoteID:    op.NoteID,
		Cursor:    seq,
		Note:      next,
	}}, nil
}

// applyDelete commits one delete inside tx. Deleting an unknown id writes a
// synthetic tombstone so repeated deletes stay deterministic.
func applyDelete(ctx context.Context, tx pgx.Tx, userID, deviceID string, op PushOp, current *syncx.Note) (opOutcome, error) {
	now := syncx.NowMs()

	var next *syncx.Note
	if current == nil {
		next = &syncx.Note{
			ID:                     op.NoteID,
			Type:                   syncx.TypeNote,
			CreatedAt:              now,
			UpdatedAt:              now,
			Version:                1,
			DeletedAt:              &now,
			LastModifiedByDeviceID: deviceID,
		}
	} else {
		if op.BaseVersion != current.Version {
			return conflictOutcome(op, current), nil
		}
		next = current.Clone()
		next.UpdatedAt = now
		next.DeletedAt = &now
		next.Version = current.Version + 1
		next.LastModifiedByDeviceID = deviceID
	}

	if err := persistNote(ctx, tx, userID, next); err != nil {
		return opOutcome{}, err
	}
	seq, err := AppendChange(ctx, tx, userID, op.NoteID, OpDelete, op.RequestID, deviceID, op.BaseVersion, next.Version, next)
	if err != nil {
		return opOutcome{}, err
	}
	return opOutcome{applied: &AppliedRecord{
		RequestID: op.RequestID,
		NoteID:    op.NoteID,
		Cursor:    seq,
		Note:      next,
	}}, nil
}
