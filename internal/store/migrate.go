package store

import (
	"context"
	"fmt"
)

// schema is applied on startup; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id             TEXT PRIMARY KEY,
		username       TEXT NOT NULL DEFAULT '',
		email          TEXT NOT NULL UNIQUE,
		name           TEXT NOT NULL DEFAULT '',
		image          TEXT NOT NULL DEFAULT '',
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id                TEXT PRIMARY KEY,
		latest_message_id TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		id                      TEXT PRIMARY KEY,
		conversation_id         TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id                 TEXT NOT NULL REFERENCES users(id),
		has_seen_latest_message BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (conversation_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id       TEXT NOT NULL REFERENCES users(id),
		body            TEXT NOT NULL DEFAULT '',
		type            TEXT NOT NULL,
		file_uri        TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_user ON participants (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages (conversation_id, created_at)`,
}

// Migrate creates the schema when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
