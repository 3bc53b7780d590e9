package postgres

import (
	"context"
	"fmt"
)

// schema is applied on connect. Statements are idempotent so repeated
// startups are safe; schema evolution happens by appending statements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		id      text PRIMARY KEY,
		crm_id  text NOT NULL DEFAULT '',
		name    text NOT NULL DEFAULT '',
		email   text NOT NULL DEFAULT '',
		company text NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS meetings (
		id                text PRIMARY KEY,
		calendar_event_id text NOT NULL DEFAULT '',
		lead_id           text NOT NULL DEFAULT '',
		title             text NOT NULL DEFAULT '',
		start_time        timestamptz,
		end_time          timestamptz,
		attendees         jsonb NOT NULL DEFAULT '[]',
		status            text NOT NULL DEFAULT 'scheduled'
	)`,
	`CREATE TABLE IF NOT EXISTS bot_sessions (
		id                 text PRIMARY KEY,
		meeting_id         text NOT NULL,
		bot_session_id     text NOT NULL DEFAULT '',
		platform           text NOT NULL DEFAULT '',
		join_time          timestamptz,
		leave_time         timestamptz,
		connection_status  text NOT NULL DEFAULT 'connecting',
		raw_transcript     text NOT NULL DEFAULT '',
		speaker_mapping    jsonb NOT NULL DEFAULT '{}',
		audio_quality      text NOT NULL DEFAULT 'unknown',
		reconnect_attempts int NOT NULL DEFAULT 0,
		error_message      text NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS transcript_chunks (
		session_id text NOT NULL,
		chunk_id   int NOT NULL,
		text       text NOT NULL DEFAULT '',
		speaker_id text NOT NULL DEFAULT '',
		start_time timestamptz,
		end_time   timestamptz,
		confidence float8 NOT NULL DEFAULT 0,
		is_final   boolean NOT NULL DEFAULT true,
		language   text NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, chunk_id)
	)`,
	`CREATE TABLE IF NOT EXISTS speakers (
		session_id      text NOT NULL,
		speaker_id      text NOT NULL,
		name            text NOT NULL DEFAULT '',
		role            text NOT NULL DEFAULT 'unknown',
		confidence      float8 NOT NULL DEFAULT 0,
		voice_signature text NOT NULL DEFAULT '',
		position        int NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, speaker_id)
	)`,
	`CREATE TABLE IF NOT EXISTS draft_summaries (
		id                    text PRIMARY KEY,
		bot_session_id        text NOT NULL UNIQUE,
		summary_text          text NOT NULL DEFAULT '',
		key_points            jsonb NOT NULL DEFAULT '[]',
		action_items          jsonb NOT NULL DEFAULT '[]',
		decisions             jsonb NOT NULL DEFAULT '[]',
		next_steps            jsonb NOT NULL DEFAULT '[]',
		suggested_crm_updates jsonb NOT NULL DEFAULT '{}',
		confidence_score      float8 NOT NULL DEFAULT 0,
		processing_ms         bigint NOT NULL DEFAULT 0,
		created_at            timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS validation_sessions (
		id                   text PRIMARY KEY,
		draft_summary_id     text NOT NULL,
		validator_identity   text NOT NULL DEFAULT '',
		status               text NOT NULL DEFAULT 'pending',
		questions            jsonb NOT NULL DEFAULT '[]',
		responses            jsonb NOT NULL DEFAULT '{}',
		started_at           timestamptz,
		completed_at         timestamptz,
		expires_at           timestamptz,
		validated_summary    text NOT NULL DEFAULT '',
		approved_crm_updates jsonb NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS validation_sessions_draft_idx
		ON validation_sessions (draft_summary_id)`,
	`CREATE TABLE IF NOT EXISTS crm_sync_records (
		validation_session_id text NOT NULL,
		crm_system            text NOT NULL,
		sync_status           text NOT NULL DEFAULT 'pending',
		crm_record_id         text NOT NULL DEFAULT '',
		attempts              int NOT NULL DEFAULT 0,
		last_error            text NOT NULL DEFAULT '',
		synced_at             timestamptz,
		PRIMARY KEY (validation_session_id, crm_system)
	)`,
}

// migrate applies the schema statements in order.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: apply schema: %w", err)
		}
	}
	return nil
}
