package syncservice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketbrain/pocketbrain-sync/internal/syncx"
)

// Operation kinds accepted by push.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// ResetReasonCursorTooOld is returned when a pull cursor predates the
// retained change window and the client must re-snapshot.
const ResetReasonCursorTooOld = "CURSOR_TOO_OLD"

// PushOp is a single client operation inside a push batch.
type PushOp struct {
	RequestID           string      `json:"requestId"`
	Op                  string      `json:"op"`
	NoteID              string      `json:"noteId"`
	BaseVersion         int64       `json:"baseVersion"`
	Note                *syncx.Note `json:"note,omitempty"`
	BaseNote            *syncx.Note `json:"baseNote,omitempty"`
	ClientChangedFields []string    `json:"clientChangedFields,omitempty"`
	AutoMergeAttempted  bool        `json:"autoMergeAttempted,omitempty"`
}

// AppliedRecord acknowledges one committed operation. Cursor is the seq of
// the Change row the commit produced; Note is the persisted server state.
type AppliedRecord struct {
	RequestID string      `json:"requestId"`
	NoteID    string      `json:"noteId"`
	Cursor    int64       `json:"cursor"`
	Note      *syncx.Note `json:"note"`
}

// ConflictRecord rejects one operation whose baseVersion lost the race.
// ServerNote is nil when the note does not exist at all.
type ConflictRecord struct {
	RequestID      string      `json:"requestId"`
	NoteID         string      `json:"noteId"`
	BaseVersion    int64       `json:"baseVersion"`
	CurrentVersion int64       `json:"currentVersion"`
	ServerNote     *syncx.Note `json:"serverNote"`
	ChangedFields  []string    `json:"changedFields"`
}

// PushResult is the batch outcome. NextCursor is the highest seq observed
// across applied operations, or the pre-batch cursor when nothing applied.
type PushResult struct {
	Applied    []AppliedRecord  `json:"applied"`
	Conflicts  []ConflictRecord `json:"conflicts"`
	NextCursor int64            `json:"nextCursor"`
}

// Change is one replayable entry from the per-user change log.
type Change struct {
	Cursor    int64       `json:"cursor"`
	Op        string      `json:"op"`
	Note      *syncx.Note `json:"note"`
	RequestID string      `json:"requestId"`
}

// PullResult carries changes after the caller's cursor, or a reset
// directive when that cursor fell out of the retained window.
type PullResult struct {
	Changes               []Change `json:"changes"`
	NextCursor            int64    `json:"nextCursor"`
	ResetRequired         bool     `json:"resetRequired,omitempty"`
	ResetReason           string   `json:"resetReason,omitempty"`
	OldestAvailableCursor int64    `json:"oldestAvailableCursor,omitempty"`
	LatestCursor          int64    `json:"latestCursor,omitempty"`
}

// Snapshot is the full-state hydrate payload.
type Snapshot struct {
	Notes  []syncx.Note `json:"notes"`
	Cursor int64        `json:"cursor"`
}

// BootstrapResult reports a one-shot import. A repeat call returns the
// outcome of the original import with AlreadyBootstrapped set.
type BootstrapResult struct {
	Imported            int   `json:"imported"`
	AlreadyBootstrapped bool  `json:"alreadyBootstrapped"`
	Cursor              int64 `json:"cursor"`
}

// Device is one known client device for a user.
type Device struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Platform   string     `json:"platform"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Idempotency record kinds.
const (
	recordKindApplied  = "applied"
	recordKindConflict = "conflict"
)

// opRecord is the kind-tagged response stored for replay. Re-marshaling the
// same struct yields byte-identical JSON, so replays match the original
// response exactly.
type opRecord struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// opOutcome is the two-variant result of one operation; exactly one side
// is set.
type opOutcome struct {
	applied  *AppliedRecord
	conflict *ConflictRecord
}

func encodeRecord(out opOutcome) ([]byte, error) {
	var (
		kind    string
		payload any
	)
	switch {
	case out.applied != nil:
		kind, payload = recordKindApplied, out.applied
	case out.conflict != nil:
		kind, payload = recordKindConflict, out.conflict
	default:
		return nil, fmt.Errorf("empty operation outcome")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(opRecord{Kind: kind, Payload: raw})
}

// changePayload is the JSONB body of a Change row.
type changePayload struct {
	Note *syncx.Note `json:"note"`
}
