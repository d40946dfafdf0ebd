package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "chat_message_inserts"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id           TEXT PRIMARY KEY,
		listing_id   TEXT,
		listing_kind TEXT CHECK (listing_kind IN ('food_experience', 'stay')),
		title        TEXT,
		status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived')),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_participants (
		seq             BIGSERIAL PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		user_id         TEXT NOT NULL,
		UNIQUE (conversation_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants (user_id, seq)`,
	`CREATE TABLE IF NOT EXISTS messages (
		seq             BIGSERIAL PRIMARY KEY,
		id              TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_id       TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, seq DESC)`,
	// The payload carries ids only; pg_notify payloads are capped at 8000 bytes.
	`CREATE OR REPLACE FUNCTION notify_chat_message_insert() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + notifyChannel + `', json_build_object('id', NEW.id, 'conversation_id', NEW.conversation_id)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS chat_message_inserted ON messages`,
	`CREATE TRIGGER chat_message_inserted AFTER INSERT ON messages
		FOR EACH ROW EXECUTE FUNCTION notify_chat_message_insert()`,
}

// EnsureSchema creates tables, indexes and the insert trigger if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
	}
	return nil
}
