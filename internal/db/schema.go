package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ddl is the authoritative schema, applied idempotently at startup.
// Statements must stay additive; destructive changes need an operator migration.
const ddl = `
CREATE TABLE IF NOT EXISTS users (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    external_id TEXT NOT NULL UNIQUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS devices (
    id           UUID NOT NULL,
    user_id      UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    label        TEXT NOT NULL DEFAULT '',
    platform     TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    revoked_at   TIMESTAMPTZ,
    PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS notes (
    user_id          UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    id               TEXT NOT NULL,
    content          TEXT NOT NULL DEFAULT '',
    title            TEXT,
    tags             TEXT[] NOT NULL DEFAULT '{}',
    note_type        TEXT NOT NULL DEFAULT 'NOTE',
    is_processed     BOOLEAN NOT NULL DEFAULT FALSE,
    is_completed     BOOLEAN NOT NULL DEFAULT FALSE,
    is_archived      BOOLEAN NOT NULL DEFAULT FALSE,
    is_pinned        BOOLEAN NOT NULL DEFAULT FALSE,
    due_date_ms      BIGINT,
    priority         TEXT,
    analysis_state   TEXT,
    analysis_version INTEGER,
    content_hash     TEXT,
    created_at_ms    BIGINT NOT NULL,
    updated_at_ms    BIGINT NOT NULL,
    version          BIGINT NOT NULL DEFAULT 1,
    deleted_at_ms    BIGINT,
    last_device_id   TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (user_id, id)
);

CREATE INDEX IF NOT EXISTS idx_notes_user_updated ON notes (user_id, updated_at_ms);
CREATE INDEX IF NOT EXISTS idx_notes_user_deleted ON notes (user_id, deleted_at_ms);

CREATE TABLE IF NOT EXISTS note_changes (
    seq          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    user_id      UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    note_id      TEXT NOT NULL,
    op_type      TEXT NOT NULL CHECK (op_type IN ('upsert', 'delete')),
    payload      JSONB NOT NULL,
    base_version BIGINT NOT NULL,
    new_version  BIGINT NOT NULL,
    request_id   TEXT NOT NULL,
    device_id    TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT note_changes_user_request UNIQUE (user_id, request_id)
);

CREATE INDEX IF NOT EXISTS idx_note_changes_user_seq ON note_changes (user_id, seq);

CREATE TABLE IF NOT EXISTS idempotency_keys (
    user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    request_id TEXT NOT NULL,
    response   JSONB NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, request_id)
);

CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_keys (expires_at);

CREATE TABLE IF NOT EXISTS ai_provider_keys (
    user_id       UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    encrypted_key TEXT NOT NULL,
    key_version   TEXT NOT NULL DEFAULT 'v1',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sync_bootstrap (
    user_id             UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    imported_count      INTEGER NOT NULL,
    source_fingerprint  TEXT NOT NULL DEFAULT '',
    cursor_after_import BIGINT NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema applies the embedded DDL. Safe to run on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	log.Debug().Msg("schema ensured")
	return nil
}
