// Package postgres implements [store.Store] on PostgreSQL via pgx.
//
// Scalar fields map to columns; nested collections (attendees, questions,
// responses, CRM updates) are stored as jsonb. All writes are upserts, and
// transcript chunks are insert-only to keep the raw transcript append-only
// at the storage layer too.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/store"
)

// Ensure Store implements the full store contract.
var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against dsn, verifies connectivity, and applies the
// schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// fromNull maps SQL NULL back to the zero time.
func fromNull(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func notFound(entity, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, entity, id)
	}
	return fmt.Errorf("postgres: load %s %s: %w", entity, id, err)
}

// SaveLead implements [store.MeetingStore].
func (s *Store) SaveLead(ctx context.Context, l *domain.Lead) error {
	const q = `INSERT INTO leads (id, crm_id, name, email, company)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			crm_id = EXCLUDED.crm_id, name = EXCLUDED.name,
			email = EXCLUDED.email, company = EXCLUDED.company`
	if _, err := s.pool.Exec(ctx, q, l.ID, l.CRMID, l.Name, l.Email, l.Company); err != nil {
		return fmt.Errorf("postgres: save lead %s: %w", l.ID, err)
	}
	return nil
}

// LeadByID implements [store.MeetingStore].
func (s *Store) LeadByID(ctx context.Context, id string) (*domain.Lead, error) {
	const q = `SELECT id, crm_id, name, email, company FROM leads WHERE id = $1`
	var l domain.Lead
	err := s.pool.QueryRow(ctx, q, id).Scan(&l.ID, &l.CRMID, &l.Name, &l.Email, &l.Company)
	if err != nil {
		return nil, notFound("lead", id, err)
	}
	return &l, nil
}

// SaveMeeting implements [store.MeetingStore].
func (s *Store) SaveMeeting(ctx context.Context, m *domain.Meeting) error {
	attendees, err := json.Marshal(m.Attendees)
	if err != nil {
		return fmt.Errorf("postgres: marshal attendees: %w", err)
	}
	const q = `INSERT INTO meetings
		(id, calendar_event_id, lead_id, title, start_time, end_time, attendees, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			calendar_event_id = EXCLUDED.calendar_event_id,
			lead_id = EXCLUDED.lead_id, title = EXCLUDED.title,
			start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time,
			attendees = EXCLUDED.attendees, status = EXCLUDED.status`
	_, err = s.pool.Exec(ctx, q, m.ID, m.CalendarEventID, m.LeadID, m.Title,
		nullTime(m.StartTime), nullTime(m.EndTime), attendees, string(m.Status))
	if err != nil {
		return fmt.Errorf("postgres: save meeting %s: %w", m.ID, err)
	}
	return nil
}

// MeetingByID implements [store.MeetingStore].
func (s *Store) MeetingByID(ctx context.Context, id string) (*domain.Meeting, error) {
	const q = `SELECT id, calendar_event_id, lead_id, title, start_time, end_time, attendees, status
		FROM meetings WHERE id = $1`
	var (
		m          domain.Meeting
		start, end *time.Time
		attendees  []byte
		status     string
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.CalendarEventID, &m.LeadID,
		&m.Title, &start, &end, &attendees, &status)
	if err != nil {
		return nil, notFound("meeting", id, err)
	}
	if err := json.Unmarshal(attendees, &m.Attendees); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal attendees: %w", err)
	}
	m.StartTime, m.EndTime = fromNull(start), fromNull(end)
	m.Status = domain.MeetingStatus(status)
	return &m, nil
}

// SaveSession implements [store.SessionStore].
func (s *Store) SaveSession(ctx context.Context, cs *domain.CallBotSession) error {
	mapping, err := json.Marshal(cs.SpeakerMapping)
	if err != nil {
		return fmt.Errorf("postgres: marshal speaker mapping: %w", err)
	}
	const q = `INSERT INTO bot_sessions
		(id, meeting_id, bot_session_id, platform, join_time, leave_time,
		 connection_status, raw_transcript, speaker_mapping, audio_quality,
		 reconnect_attempts, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			meeting_id = EXCLUDED.meeting_id,
			bot_session_id = EXCLUDED.bot_session_id,
			platform = EXCLUDED.platform,
			join_time = EXCLUDED.join_time, leave_time = EXCLUDED.leave_time,
			connection_status = EXCLUDED.connection_status,
			raw_transcript = EXCLUDED.raw_transcript,
			speaker_mapping = EXCLUDED.speaker_mapping,
			audio_quality = EXCLUDED.audio_quality,
			reconnect_attempts = EXCLUDED.reconnect_attempts,
			error_message = EXCLUDED.error_message`
	_, err = s.pool.Exec(ctx, q, cs.ID, cs.MeetingID, cs.BotSessionID, cs.Platform,
		nullTime(cs.JoinTime), nullTime(cs.LeaveTime), string(cs.ConnectionStatus),
		cs.RawTranscript, mapping, string(cs.AudioQuality),
		cs.ReconnectAttempts, cs.ErrorMessage)
	if err != nil {
		return fmt.Errorf("postgres: save session %s: %w", cs.ID, err)
	}
	return nil
}

const sessionColumns = `id, meeting_id, bot_session_id, platform, join_time, leave_time,
	connection_status, raw_transcript, speaker_mapping, audio_quality,
	reconnect_attempts, error_message`

func scanSession(row pgx.Row) (*domain.CallBotSession, error) {
	var (
		cs           domain.CallBotSession
		join, leave  *time.Time
		conn, qual   string
		mapping      []byte
	)
	err := row.Scan(&cs.ID, &cs.MeetingID, &cs.BotSessionID, &cs.Platform,
		&join, &leave, &conn, &cs.RawTranscript, &mapping, &qual,
		&cs.ReconnectAttempts, &cs.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(mapping, &cs.SpeakerMapping); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal speaker mapping: %w", err)
	}
	cs.JoinTime, cs.LeaveTime = fromNull(join), fromNull(leave)
	cs.ConnectionStatus = domain.ConnectionStatus(conn)
	cs.AudioQuality = domain.AudioQuality(qual)
	return &cs, nil
}

// SessionByID implements [store.SessionStore].
func (s *Store) SessionByID(ctx context.Context, id string) (*domain.CallBotSession, error) {
	cs, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("session", id, err)
	}
	return cs, nil
}

// ListSessions implements [store.SessionStore].
func (s *Store) ListSessions(ctx context.Context) ([]*domain.CallBotSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.CallBotSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// AppendChunks implements [store.TranscriptStore]. Existing chunk ids are
// left untouched: a chunk observed as final is never rewritten.
func (s *Store) AppendChunks(ctx context.Context, sessionID string, chunks []domain.TranscriptChunk) error {
	const q = `INSERT INTO transcript_chunks
		(session_id, chunk_id, text, speaker_id, start_time, end_time, confidence, is_final, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, chunk_id) DO NOTHING`
	for _, c := range chunks {
		_, err := s.pool.Exec(ctx, q, sessionID, c.ChunkID, c.Text, c.SpeakerID,
			nullTime(c.StartTime), nullTime(c.EndTime), c.Confidence, c.IsFinal, c.Language)
		if err != nil {
			return fmt.Errorf("postgres: append chunk %d: %w", c.ChunkID, err)
		}
	}
	return nil
}

// ChunksBySession implements [store.TranscriptStore].
func (s *Store) ChunksBySession(ctx context.Context, sessionID string, sinceChunkID int) ([]domain.TranscriptChunk, error) {
	const q = `SELECT chunk_id, text, speaker_id, start_time, end_time, confidence, is_final, language
		FROM transcript_chunks
		WHERE session_id = $1 AND chunk_id > $2
		ORDER BY chunk_id`
	rows, err := s.pool.Query(ctx, q, sessionID, sinceChunkID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.TranscriptChunk
	for rows.Next() {
		var (
			c          domain.TranscriptChunk
			start, end *time.Time
		)
		if err := rows.Scan(&c.ChunkID, &c.Text, &c.SpeakerID, &start, &end,
			&c.Confidence, &c.IsFinal, &c.Language); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		c.StartTime, c.EndTime = fromNull(start), fromNull(end)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveSpeakers implements [store.TranscriptStore].
func (s *Store) SaveSpeakers(ctx context.Context, sessionID string, speakers []domain.Speaker) error {
	const q = `INSERT INTO speakers
		(session_id, speaker_id, name, role, confidence, voice_signature, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, speaker_id) DO UPDATE SET
			name = EXCLUDED.name, role = EXCLUDED.role,
			confidence = EXCLUDED.confidence,
			voice_signature = EXCLUDED.voice_signature,
			position = EXCLUDED.position`
	for i, sp := range speakers {
		_, err := s.pool.Exec(ctx, q, sessionID, sp.SpeakerID, sp.Name,
			string(sp.Role), sp.Confidence, sp.VoiceSignature, i)
		if err != nil {
			return fmt.Errorf("postgres: save speaker %s: %w", sp.SpeakerID, err)
		}
	}
	return nil
}

// SpeakersBySession implements [store.TranscriptStore].
func (s *Store) SpeakersBySession(ctx context.Context, sessionID string) ([]domain.Speaker, error) {
	const q = `SELECT speaker_id, name, role, confidence, voice_signature
		FROM speakers WHERE session_id = $1 ORDER BY position`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load speakers: %w", err)
	}
	defer rows.Close()

	var out []domain.Speaker
	for rows.Next() {
		var (
			sp   domain.Speaker
			role string
		)
		if err := rows.Scan(&sp.SpeakerID, &sp.Name, &role, &sp.Confidence, &sp.VoiceSignature); err != nil {
			return nil, fmt.Errorf("postgres: scan speaker: %w", err)
		}
		sp.Role = domain.SpeakerRole(role)
		out = append(out, sp)
	}
	return out, rows.Err()
}

// SaveDraftSummary implements [store.DraftSummaryStore].
func (s *Store) SaveDraftSummary(ctx context.Context, d *domain.DraftSummary) error {
	keyPoints, err := json.Marshal(d.KeyPoints)
	if err != nil {
		return fmt.Errorf("postgres: marshal key points: %w", err)
	}
	items, err := json.Marshal(d.ActionItems)
	if err != nil {
		return fmt.Errorf("postgres: marshal action items: %w", err)
	}
	decisions, err := json.Marshal(d.Decisions)
	if err != nil {
		return fmt.Errorf("postgres: marshal decisions: %w", err)
	}
	steps, err := json.Marshal(d.NextSteps)
	if err != nil {
		return fmt.Errorf("postgres: marshal next steps: %w", err)
	}
	updates, err := json.Marshal(d.SuggestedCRMUpdates)
	if err != nil {
		return fmt.Errorf("postgres: marshal crm updates: %w", err)
	}
	const q = `INSERT INTO draft_summaries
		(id, bot_session_id, summary_text, key_points, action_items, decisions,
		 next_steps, suggested_crm_updates, confidence_score, processing_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			summary_text = EXCLUDED.summary_text,
			key_points = EXCLUDED.key_points,
			action_items = EXCLUDED.action_items,
			decisions = EXCLUDED.decisions,
			next_steps = EXCLUDED.next_steps,
			suggested_crm_updates = EXCLUDED.suggested_crm_updates,
			confidence_score = EXCLUDED.confidence_score,
			processing_ms = EXCLUDED.processing_ms`
	_, err = s.pool.Exec(ctx, q, d.ID, d.BotSessionID, d.SummaryText, keyPoints,
		items, decisions, steps, updates, d.ConfidenceScore,
		d.ProcessingTime.Milliseconds(), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save draft %s: %w", d.ID, err)
	}
	return nil
}

const draftColumns = `id, bot_session_id, summary_text, key_points, action_items,
	decisions, next_steps, suggested_crm_updates, confidence_score, processing_ms, created_at`

func scanDraft(row pgx.Row) (*domain.DraftSummary, error) {
	var (
		d                                        domain.DraftSummary
		keyPoints, items, decisions, steps, upds []byte
		processingMS                             int64
	)
	err := row.Scan(&d.ID, &d.BotSessionID, &d.SummaryText, &keyPoints, &items,
		&decisions, &steps, &upds, &d.ConfidenceScore, &processingMS, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw  []byte
		dest any
	}{
		{keyPoints, &d.KeyPoints},
		{items, &d.ActionItems},
		{decisions, &d.Decisions},
		{steps, &d.NextSteps},
		{upds, &d.SuggestedCRMUpdates},
	} {
		if err := json.Unmarshal(pair.raw, pair.dest); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal draft field: %w", err)
		}
	}
	d.ProcessingTime = time.Duration(processingMS) * time.Millisecond
	return &d, nil
}

// DraftSummaryByID implements [store.DraftSummaryStore].
func (s *Store) DraftSummaryByID(ctx context.Context, id string) (*domain.DraftSummary, error) {
	d, err := scanDraft(s.pool.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM draft_summaries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("draft summary", id, err)
	}
	return d, nil
}

// DraftSummaryByBotSession implements [store.DraftSummaryStore].
func (s *Store) DraftSummaryByBotSession(ctx context.Context, botSessionID string) (*domain.DraftSummary, error) {
	d, err := scanDraft(s.pool.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM draft_summaries WHERE bot_session_id = $1`, botSessionID))
	if err != nil {
		return nil, notFound("draft summary for session", botSessionID, err)
	}
	return d, nil
}

// SaveValidationSession implements [store.ValidationStore].
func (s *Store) SaveValidationSession(ctx context.Context, vs *domain.ValidationSession) error {
	questions, err := json.Marshal(vs.Questions)
	if err != nil {
		return fmt.Errorf("postgres: marshal questions: %w", err)
	}
	responses, err := json.Marshal(vs.Responses)
	if err != nil {
		return fmt.Errorf("postgres: marshal responses: %w", err)
	}
	updates, err := json.Marshal(vs.ApprovedCRMUpdates)
	if err != nil {
		return fmt.Errorf("postgres: marshal approved updates: %w", err)
	}
	const q = `INSERT INTO validation_sessions
		(id, draft_summary_id, validator_identity, status, questions, responses,
		 started_at, completed_at, expires_at, validated_summary, approved_crm_updates)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			questions = EXCLUDED.questions,
			responses = EXCLUDED.responses,
			completed_at = EXCLUDED.completed_at,
			validated_summary = EXCLUDED.validated_summary,
			approved_crm_updates = EXCLUDED.approved_crm_updates`
	_, err = s.pool.Exec(ctx, q, vs.ID, vs.DraftSummaryID, vs.ValidatorIdentity,
		string(vs.Status), questions, responses, nullTime(vs.StartedAt),
		nullTime(vs.CompletedAt), nullTime(vs.ExpiresAt), vs.ValidatedSummary, updates)
	if err != nil {
		return fmt.Errorf("postgres: save validation session %s: %w", vs.ID, err)
	}
	return nil
}

const validationColumns = `id, draft_summary_id, validator_identity, status, questions,
	responses, started_at, completed_at, expires_at, validated_summary, approved_crm_updates`

func scanValidation(row pgx.Row) (*domain.ValidationSession, error) {
	var (
		vs                        domain.ValidationSession
		status                    string
		questions, responses, upd []byte
		started, completed, expir *time.Time
	)
	err := row.Scan(&vs.ID, &vs.DraftSummaryID, &vs.ValidatorIdentity, &status,
		&questions, &responses, &started, &completed, &expir,
		&vs.ValidatedSummary, &upd)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(questions, &vs.Questions); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal questions: %w", err)
	}
	if err := json.Unmarshal(responses, &vs.Responses); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal responses: %w", err)
	}
	if err := json.Unmarshal(upd, &vs.ApprovedCRMUpdates); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal approved updates: %w", err)
	}
	vs.Status = domain.ValidationStatus(status)
	vs.StartedAt = fromNull(started)
	vs.CompletedAt = fromNull(completed)
	vs.ExpiresAt = fromNull(expir)
	return &vs, nil
}

// ValidationSessionByID implements [store.ValidationStore].
func (s *Store) ValidationSessionByID(ctx context.Context, id string) (*domain.ValidationSession, error) {
	vs, err := scanValidation(s.pool.QueryRow(ctx,
		`SELECT `+validationColumns+` FROM validation_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("validation session", id, err)
	}
	return vs, nil
}

// ValidationSessionsByDraft implements [store.ValidationStore].
func (s *Store) ValidationSessionsByDraft(ctx context.Context, draftSummaryID string) ([]*domain.ValidationSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+validationColumns+` FROM validation_sessions WHERE draft_summary_id = $1 ORDER BY id`,
		draftSummaryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load validation sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ValidationSession
	for rows.Next() {
		vs, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan validation session: %w", err)
		}
		out = append(out, vs)
	}
	return out, rows.Err()
}

// SaveSyncRecord implements [store.SyncRecordStore].
func (s *Store) SaveSyncRecord(ctx context.Context, r *domain.CRMSyncRecord) error {
	const q = `INSERT INTO crm_sync_records
		(validation_session_id, crm_system, sync_status, crm_record_id, attempts, last_error, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (validation_session_id, crm_system) DO UPDATE SET
			sync_status = EXCLUDED.sync_status,
			crm_record_id = EXCLUDED.crm_record_id,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			synced_at = EXCLUDED.synced_at`
	_, err := s.pool.Exec(ctx, q, r.ValidationSessionID, r.CRMSystem,
		string(r.SyncStatus), r.CRMRecordID, r.Attempts, r.LastError, nullTime(r.SyncedAt))
	if err != nil {
		return fmt.Errorf("postgres: save sync record %s/%s: %w", r.ValidationSessionID, r.CRMSystem, err)
	}
	return nil
}

const syncColumns = `validation_session_id, crm_system, sync_status, crm_record_id, attempts, last_error, synced_at`

func scanSyncRecord(row pgx.Row) (*domain.CRMSyncRecord, error) {
	var (
		r      domain.CRMSyncRecord
		status string
		synced *time.Time
	)
	err := row.Scan(&r.ValidationSessionID, &r.CRMSystem, &status,
		&r.CRMRecordID, &r.Attempts, &r.LastError, &synced)
	if err != nil {
		return nil, err
	}
	r.SyncStatus = domain.SyncStatus(status)
	r.SyncedAt = fromNull(synced)
	return &r, nil
}

// SyncRecordByTarget implements [store.SyncRecordStore].
func (s *Store) SyncRecordByTarget(ctx context.Context, validationSessionID, crmSystem string) (*domain.CRMSyncRecord, error) {
	r, err := scanSyncRecord(s.pool.QueryRow(ctx,
		`SELECT `+syncColumns+` FROM crm_sync_records
		 WHERE validation_session_id = $1 AND crm_system = $2`,
		validationSessionID, crmSystem))
	if err != nil {
		return nil, notFound("sync record", validationSessionID+"/"+crmSystem, err)
	}
	return r, nil
}

// SyncRecordsByValidation implements [store.SyncRecordStore].
func (s *Store) SyncRecordsByValidation(ctx context.Context, validationSessionID string) ([]*domain.CRMSyncRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+syncColumns+` FROM crm_sync_records WHERE validation_session_id = $1 ORDER BY crm_system`,
		validationSessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load sync records: %w", err)
	}
	defer rows.Close()

	var out []*domain.CRMSyncRecord
	for rows.Next() {
		r, err := scanSyncRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sync record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
