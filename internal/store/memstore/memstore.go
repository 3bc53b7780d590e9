// Package memstore is the in-process implementation of the store
// interfaces. It backs tests and single-node evaluation runs where no
// PostgreSQL instance is configured.
//
// All values are copied on the way in and out, so callers can mutate their
// own structs without corrupting stored state.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/store"
)

// Ensure Store implements the combined interface.
var _ store.Store = (*Store)(nil)

// Store is the in-memory store. The zero value is not usable; call [New].
type Store struct {
	mu           sync.RWMutex
	meetings     map[string]domain.Meeting
	leads        map[string]domain.Lead
	sessions     map[string]domain.CallBotSession
	chunks       map[string][]domain.TranscriptChunk
	speakers     map[string][]domain.Speaker
	drafts       map[string]domain.DraftSummary
	draftBySess  map[string]string // botSessionID → draft id
	validations  map[string]domain.ValidationSession
	valsByDraft  map[string][]string
	syncRecords  map[string]domain.CRMSyncRecord // key: vsID + "/" + system
	syncsByValID map[string][]string
}

// New returns an empty memory store.
func New() *Store {
	return &Store{
		meetings:     make(map[string]domain.Meeting),
		leads:        make(map[string]domain.Lead),
		sessions:     make(map[string]domain.CallBotSession),
		chunks:       make(map[string][]domain.TranscriptChunk),
		speakers:     make(map[string][]domain.Speaker),
		drafts:       make(map[string]domain.DraftSummary),
		draftBySess:  make(map[string]string),
		validations:  make(map[string]domain.ValidationSession),
		valsByDraft:  make(map[string][]string),
		syncRecords:  make(map[string]domain.CRMSyncRecord),
		syncsByValID: make(map[string][]string),
	}
}

// SaveMeeting implements store.MeetingStore.
func (s *Store) SaveMeeting(_ context.Context, m *domain.Meeting) error {
	if m.ID == "" {
		return fmt.Errorf("memstore: meeting id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings[m.ID] = *m
	return nil
}

// MeetingByID implements store.MeetingStore.
func (s *Store) MeetingByID(_ context.Context, id string) (*domain.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("memstore: meeting %q: %w", id, store.ErrNotFound)
	}
	out := m
	return &out, nil
}

// SaveLead implements store.MeetingStore.
func (s *Store) SaveLead(_ context.Context, l *domain.Lead) error {
	if l.ID == "" {
		return fmt.Errorf("memstore: lead id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = *l
	return nil
}

// LeadByID implements store.MeetingStore.
func (s *Store) LeadByID(_ context.Context, id string) (*domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, fmt.Errorf("memstore: lead %q: %w", id, store.ErrNotFound)
	}
	out := l
	return &out, nil
}

// SaveSession implements store.SessionStore.
func (s *Store) SaveSession(_ context.Context, sess *domain.CallBotSession) error {
	if sess.ID == "" {
		return fmt.Errorf("memstore: session id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

// SessionByID implements store.SessionStore.
func (s *Store) SessionByID(_ context.Context, id string) (*domain.CallBotSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("memstore: session %q: %w", id, store.ErrNotFound)
	}
	out := sess
	return &out, nil
}

// ListSessions implements store.SessionStore. Sessions are returned in
// stable id order.
func (s *Store) ListSessions(_ context.Context) ([]*domain.CallBotSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.CallBotSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		c := sess
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AppendChunks implements store.TranscriptStore.
func (s *Store) AppendChunks(_ context.Context, sessionID string, chunks []domain.TranscriptChunk) error {
	if sessionID == "" {
		return fmt.Errorf("memstore: session id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[sessionID] = append(s.chunks[sessionID], chunks...)
	return nil
}

// ChunksBySession implements store.TranscriptStore.
func (s *Store) ChunksBySession(_ context.Context, sessionID string, sinceChunkID int) ([]domain.TranscriptChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TranscriptChunk
	for _, c := range s.chunks[sessionID] {
		if c.ChunkID > sinceChunkID {
			out = append(out, c)
		}
	}
	return out, nil
}

// SaveSpeakers implements store.TranscriptStore.
func (s *Store) SaveSpeakers(_ context.Context, sessionID string, speakers []domain.Speaker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speakers[sessionID] = append([]domain.Speaker(nil), speakers...)
	return nil
}

// SpeakersBySession implements store.TranscriptStore.
func (s *Store) SpeakersBySession(_ context.Context, sessionID string) ([]domain.Speaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Speaker(nil), s.speakers[sessionID]...), nil
}

// SaveDraftSummary implements store.DraftSummaryStore.
func (s *Store) SaveDraftSummary(_ context.Context, d *domain.DraftSummary) error {
	if d.ID == "" {
		return fmt.Errorf("memstore: draft summary id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[d.ID] = *d
	if d.BotSessionID != "" {
		s.draftBySess[d.BotSessionID] = d.ID
	}
	return nil
}

// DraftSummaryByID implements store.DraftSummaryStore.
func (s *Store) DraftSummaryByID(_ context.Context, id string) (*domain.DraftSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, fmt.Errorf("memstore: draft summary %q: %w", id, store.ErrNotFound)
	}
	out := d
	return &out, nil
}

// DraftSummaryByBotSession implements store.DraftSummaryStore.
func (s *Store) DraftSummaryByBotSession(_ context.Context, botSessionID string) (*domain.DraftSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.draftBySess[botSessionID]
	if !ok {
		return nil, fmt.Errorf("memstore: draft for session %q: %w", botSessionID, store.ErrNotFound)
	}
	d := s.drafts[id]
	return &d, nil
}

// SaveValidationSession implements store.ValidationStore.
func (s *Store) SaveValidationSession(_ context.Context, v *domain.ValidationSession) error {
	if v.ID == "" {
		return fmt.Errorf("memstore: validation session id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.validations[v.ID]; !seen {
		s.valsByDraft[v.DraftSummaryID] = append(s.valsByDraft[v.DraftSummaryID], v.ID)
	}
	s.validations[v.ID] = *v
	return nil
}

// ValidationSessionByID implements store.ValidationStore.
func (s *Store) ValidationSessionByID(_ context.Context, id string) (*domain.ValidationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.validations[id]
	if !ok {
		return nil, fmt.Errorf("memstore: validation session %q: %w", id, store.ErrNotFound)
	}
	out := v
	return &out, nil
}

// ValidationSessionsByDraft implements store.ValidationStore.
func (s *Store) ValidationSessionsByDraft(_ context.Context, draftSummaryID string) ([]*domain.ValidationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.valsByDraft[draftSummaryID]
	out := make([]*domain.ValidationSession, 0, len(ids))
	for _, id := range ids {
		v := s.validations[id]
		out = append(out, &v)
	}
	return out, nil
}

// syncKey builds the composite key for a sync record.
func syncKey(validationSessionID, system string) string {
	return validationSessionID + "/" + system
}

// SaveSyncRecord implements store.SyncRecordStore.
func (s *Store) SaveSyncRecord(_ context.Context, r *domain.CRMSyncRecord) error {
	if r.ValidationSessionID == "" || r.CRMSystem == "" {
		return fmt.Errorf("memstore: sync record requires validation session id and crm system")
	}
	key := syncKey(r.ValidationSessionID, r.CRMSystem)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.syncRecords[key]; !seen {
		s.syncsByValID[r.ValidationSessionID] = append(s.syncsByValID[r.ValidationSessionID], key)
	}
	s.syncRecords[key] = *r
	return nil
}

// SyncRecordByTarget implements store.SyncRecordStore.
func (s *Store) SyncRecordByTarget(_ context.Context, validationSessionID, system string) (*domain.CRMSyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.syncRecords[syncKey(validationSessionID, system)]
	if !ok {
		return nil, fmt.Errorf("memstore: sync record %s/%s: %w", validationSessionID, system, store.ErrNotFound)
	}
	out := r
	return &out, nil
}

// SyncRecordsByValidation implements store.SyncRecordStore.
func (s *Store) SyncRecordsByValidation(_ context.Context, validationSessionID string) ([]*domain.CRMSyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.syncsByValID[validationSessionID]
	out := make([]*domain.CRMSyncRecord, 0, len(keys))
	for _, key := range keys {
		r := s.syncRecords[key]
		out = append(out, &r)
	}
	return out, nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }
