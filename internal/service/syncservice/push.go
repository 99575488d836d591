package syncservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/pocketbrain/pocketbrain-sync/internal/metrics"
)

// idempotencyTTL is how long a stored push response stays replayable.
const idempotencyTTL = 24 * time.Hour

// Push applies a batch of operations for one user, in input order. Each
// operation commits in its own transaction; a batch is not atomic. Replayed
// request ids return their stored response without touching the note.
func (s *Service) Push(ctx context.Context, userID, deviceID string, ops []PushOp) (*PushResult, error) {
	preBatch, err := s.CurrentCursor(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &PushResult{
		Applied:   []AppliedRecord{},
		Conflicts: []ConflictRecord{},
	}
	var maxSeq int64

	for _, op := range ops {
		stored, err := s.lookupIdempotency(ctx, userID, op.RequestID)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			if err := appendStored(res, stored, &maxSeq); err != nil {
				return nil, err
			}
			metrics.M.PushOperations.WithLabelValues("replayed").Inc()
			continue
		}

		out, err := s.applyOp(ctx, userID, deviceID, op)
		if err != nil {
			if isUniqueViolation(err) {
				// A concurrent peer committed this request first; its
				// stored response is now authoritative.
				stored, rerr := s.lookupIdempotency(ctx, userID, op.RequestID)
				if rerr == nil && stored != nil {
					if aerr := appendStored(res, stored, &maxSeq); aerr != nil {
						return nil, aerr
					}
					metrics.M.PushOperations.WithLabelValues("replayed").Inc()
					continue
				}
			}
			metrics.M.WriteFailures.Inc()
			log.Ctx(ctx).Error().Err(err).
				Str("requestId", op.RequestID).
				Str("noteId", op.NoteID).
				Msg("push operation failed")
			return nil, err
		}

		switch {
		case out.applied != nil:
			res.Applied = append(res.Applied, *out.applied)
			if out.applied.Cursor > maxSeq {
				maxSeq = out.applied.Cursor
			}
			metrics.M.PushOperations.WithLabelValues("applied").Inc()
			s.publish(ctx, userID, out.applied.Cursor)
		case out.conflict != nil:
			res.Conflicts = append(res.Conflicts, *out.conflict)
			metrics.M.PushOperations.WithLabelValues("conflict").Inc()
			log.Ctx(ctx).Debug().
				Str("requestId", op.RequestID).
				Str("noteId", op.NoteID).
				Int64("baseVersion", op.BaseVersion).
				Int64("currentVersion", out.conflict.CurrentVersion).
				Msg("push conflict")
		}
	}

	if maxSeq > 0 {
		res.NextCursor = maxSeq
	} else {
		res.NextCursor = preBatch
	}
	return res, nil
}

// applyOp runs one operation in its own transaction: lock the row, dispatch,
// store the idempotency entry, commit.
func (s *Service) applyOp(ctx context.Context, userID, deviceID string, op PushOp) (opOutcome, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return opOutcome{}, err
	}
	defer tx.Rollback(ctx)

	current, err := noteForUpdate(ctx, tx, userID, op.NoteID)
	if err != nil {
		return opOutcome{}, err
	}

	var out opOutcome
	switch op.Op {
	case OpUpsert:
		out, err = applyUpsert(ctx, tx, userID, deviceID, op, current)
	case OpDelete:
		out, err = applyDelete(ctx, tx, userID, deviceID, op, current)
	default:
		err = fmt.Errorf("unknown op %q", op.Op)
	}
	if err != nil {
		return opOutcome{}, err
	}

	if err := writeIdempotency(ctx, tx, userID, op.RequestID, out); err != nil {
		return opOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return opOutcome{}, err
	}
	return out, nil
}

// lookupIdempotency returns the stored response for (userID, requestID).
// Expiry is enforced here; a lapsed entry reads as absent even before
// maintenance prunes it.
func (s *Service) lookupIdempotency(ctx context.Context, userID, requestID string) (*opRecord, error) {
	var raw []byte
	err := s.DB.QueryRow(ctx, `
		SELECT response FROM idempotency_keys
		WHERE user_id = $1 AND request_id = $2 AND expires_at > now()
	`, userID, requestID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec opRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

// writeIdempotency stores the outcome under (userID, requestID). First writer
// wins: a plain INSERT makes a racing duplicate fail with 23505 so its whole
// transaction rolls back and the caller replays the committed response. This
// matters when the loser saw a moved version and computed a conflict the
// winner never returned.
func writeIdempotency(ctx context.Context, tx pgx.Tx, userID, requestID string, out opOutcome) error {
	raw, err := encodeRecord(out)
	if err != nil {
		return err
	}
	// A lapsed entry reads as absent, so the key is reusable; clear it before
	// inserting or the stale row would shadow the new response.
	if _, err := tx.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE user_id = $1 AND request_id = $2 AND expires_at <= now()
	`, userID, requestID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO idempotency_keys (user_id, request_id, response, expires_at)
		VALUES ($1, $2, $3, $4)
	`, userID, requestID, raw, time.Now().Add(idempotencyTTL))
	return err
}

func appendStored(res *PushResult, rec *opRecord, maxSeq *int64) error {
	switch rec.Kind {
	case recordKindApplied:
		var a AppliedRecord
		if err := json.Unmarshal(rec.Payload, &a); err != nil {
			return fmt.Errorf("decode applied record: %w", err)
		}
		res.Applied = append(res.Applied, a)
		if a.Cursor > *maxSeq {
			*maxSeq = a.Cursor
		}
	case recordKindConflict:
		var c ConflictRecord
		if err := json.Unmarshal(rec.Payload, &c); err != nil {
			return fmt.Errorf("decode conflict record: %w", err)
		}
		res.Conflicts = append(res.Conflicts, c)
	default:
		return fmt.Errorf("unknown idempotency record kind %q", rec.Kind)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
