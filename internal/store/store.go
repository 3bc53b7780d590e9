// Package store defines the persistence contracts for Wren's entities.
//
// Two implementations ship: memstore (in-process, used by tests and by
// default) and postgres (pgx-backed). Consumers depend on the narrow
// per-entity interfaces rather than the combined [Store] where possible.
package store

import (
	"context"
	"errors"

	"github.com/meetwren/wren/internal/domain"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// MeetingStore persists meetings and their leads.
type MeetingStore interface {
	SaveMeeting(ctx context.Context, m *domain.Meeting) error
	MeetingByID(ctx context.Context, id string) (*domain.Meeting, error)
	SaveLead(ctx context.Context, l *domain.Lead) error
	LeadByID(ctx context.Context, id string) (*domain.Lead, error)
}

// SessionStore persists call bot sessions.
type SessionStore interface {
	SaveSession(ctx context.Context, s *domain.CallBotSession) error
	SessionByID(ctx context.Context, id string) (*domain.CallBotSession, error)
	ListSessions(ctx context.Context) ([]*domain.CallBotSession, error)
}

// TranscriptStore persists transcript chunks per session. AppendChunks is
// append-only; implementations must never rewrite previously stored chunks.
type TranscriptStore interface {
	AppendChunks(ctx context.Context, sessionID string, chunks []domain.TranscriptChunk) error
	ChunksBySession(ctx context.Context, sessionID string, sinceChunkID int) ([]domain.TranscriptChunk, error)
	SaveSpeakers(ctx context.Context, sessionID string, speakers []domain.Speaker) error
	SpeakersBySession(ctx context.Context, sessionID string) ([]domain.Speaker, error)
}

// DraftSummaryStore persists draft summaries.
type DraftSummaryStore interface {
	SaveDraftSummary(ctx context.Context, d *domain.DraftSummary) error
	DraftSummaryByID(ctx context.Context, id string) (*domain.DraftSummary, error)
	// DraftSummaryByBotSession returns the draft for a bot session, or
	// ErrNotFound. At most one draft exists per session.
	DraftSummaryByBotSession(ctx context.Context, botSessionID string) (*domain.DraftSummary, error)
}

// ValidationStore persists validation sessions.
type ValidationStore interface {
	SaveValidationSession(ctx context.Context, v *domain.ValidationSession) error
	ValidationSessionByID(ctx context.Context, id string) (*domain.ValidationSession, error)
	ValidationSessionsByDraft(ctx context.Context, draftSummaryID string) ([]*domain.ValidationSession, error)
}

// SyncRecordStore persists CRM sync records, keyed by the
// (validation session, CRM system) pair. At most one record exists per pair.
type SyncRecordStore interface {
	SaveSyncRecord(ctx context.Context, r *domain.CRMSyncRecord) error
	SyncRecordByTarget(ctx context.Context, validationSessionID, system string) (*domain.CRMSyncRecord, error)
	SyncRecordsByValidation(ctx context.Context, validationSessionID string) ([]*domain.CRMSyncRecord, error)
}

// Store is the combined persistence interface the application wires.
type Store interface {
	MeetingStore
	SessionStore
	TranscriptStore
	DraftSummaryStore
	ValidationStore
	SyncRecordStore

	Close() error
}
