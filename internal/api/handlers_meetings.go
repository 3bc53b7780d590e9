package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/session"
	"github.com/meetwren/wren/internal/store"
)

type startRequest struct {
	MeetingURL   string `json:"meeting_url"`
	Platform     string `json:"platform,omitempty"`
	BotSessionID string `json:"bot_session_id,omitempty"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.MeetingURL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "meeting_url is required")
		return
	}

	snap, err := s.manager.Start(r.Context(), session.StartRequest{
		MeetingID:    r.PathValue("id"),
		MeetingURL:   req.MeetingURL,
		Platform:     req.Platform,
		BotSessionID: req.BotSessionID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{
		SessionID: snap.SessionID,
		Status:    string(snap.State),
	})
}

// transcriptChunkDTO is an already-transcribed chunk pushed by a producer.
type transcriptChunkDTO struct {
	Text       string    `json:"text"`
	SpeakerID  string    `json:"speaker_id,omitempty"`
	StartTime  time.Time `json:"start_time,omitzero"`
	EndTime    time.Time `json:"end_time,omitzero"`
	Confidence float64   `json:"confidence,omitempty"`
	Language   string    `json:"language,omitempty"`
}

// transcriptRequest carries a producer push: either a transcript chunk that
// skips the engine, or a raw audio chunk (data is base64 in JSON) that goes
// through transcription.
type transcriptRequest struct {
	TranscriptChunk *transcriptChunkDTO `json:"transcript_chunk,omitempty"`
	Data            []byte              `json:"data,omitempty"`
	Timestamp       time.Time           `json:"timestamp,omitempty"`
	DurationMS      int                 `json:"duration_ms,omitempty"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	if req.TranscriptChunk != nil {
		tc := req.TranscriptChunk
		if tc.Text == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "transcript_chunk.text is required")
			return
		}
		err := s.manager.InjectTranscript(r.PathValue("id"), domain.TranscriptChunk{
			Text:       tc.Text,
			SpeakerID:  tc.SpeakerID,
			StartTime:  tc.StartTime,
			EndTime:    tc.EndTime,
			Confidence: tc.Confidence,
			Language:   tc.Language,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "transcript_chunk or data is required")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	duration := time.Duration(req.DurationMS) * time.Millisecond
	if duration <= 0 {
		duration = s.chunkDuration
	}

	err := s.manager.ProcessAudioChunk(r.PathValue("id"), req.Data, req.Timestamp, duration)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// endRequest optionally hands over the producer's own final transcript,
// which is appended before the summary is generated. MeetingDuration is the
// caller's view of the call length in seconds; it is accepted for
// compatibility but the session clock is authoritative.
type endRequest struct {
	FinalTranscript string  `json:"final_transcript,omitempty"`
	MeetingDuration float64 `json:"meeting_duration,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

type endResponse struct {
	SessionID string `json:"session_id"`
	SummaryID string `json:"summary_id,omitempty"`
	State     string `json:"state"`
	Reason    string `json:"reason"`
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	// The body is optional here; every field has a default.
	var req endRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "requested"
	}

	meetingID := r.PathValue("id")
	sessionID, ok := s.sessionForMeeting(meetingID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no active session for meeting "+meetingID)
		return
	}

	if req.FinalTranscript != "" {
		err := s.manager.InjectTranscript(sessionID, domain.TranscriptChunk{Text: req.FinalTranscript})
		if err != nil {
			// A deactivated pipeline cannot take the hand-off; the summary
			// falls back to what was transcribed live.
			slog.Warn("final transcript not appended",
				"session_id", sessionID, "error", err)
		}
	}

	sum, err := s.manager.Stop(r.Context(), sessionID, req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := endResponse{
		SessionID: sum.SessionID,
		State:     string(sum.State),
		Reason:    sum.Reason,
	}
	if sum.Draft != nil {
		resp.SummaryID = sum.Draft.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Retry(id); err != nil {
		respondError(w, r, err)
		return
	}
	snap, err := s.manager.Status(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Status(r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	snaps := s.manager.Snapshots()
	if snaps == nil {
		snaps = []session.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// sessionForMeeting finds the live session attached to a meeting.
func (s *Server) sessionForMeeting(meetingID string) (string, bool) {
	for _, snap := range s.manager.Snapshots() {
		if snap.MeetingID == meetingID && !snap.State.Terminal() {
			return snap.SessionID, true
		}
	}
	return "", false
}

type syncRecordDTO struct {
	CRMSystem   string    `json:"crm_system"`
	Status      string    `json:"status"`
	CRMRecordID string    `json:"crm_record_id,omitempty"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	SyncedAt    time.Time `json:"synced_at,omitzero"`
}

type syncResponse struct {
	ValidationSessionID string          `json:"validation_session_id"`
	Records             []syncRecordDTO `json:"records"`
}

func (s *Server) handleSyncCRM(w http.ResponseWriter, r *http.Request) {
	meetingID := r.PathValue("id")

	vsID, err := s.validationForMeeting(r, meetingID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	records, err := s.syncer.Sync(r.Context(), vsID)
	if err != nil && len(records) == 0 {
		respondError(w, r, err)
		return
	}

	resp := syncResponse{ValidationSessionID: vsID, Records: make([]syncRecordDTO, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, syncRecordDTO{
			CRMSystem:   rec.CRMSystem,
			Status:      string(rec.SyncStatus),
			CRMRecordID: rec.CRMRecordID,
			Attempts:    rec.Attempts,
			LastError:   rec.LastError,
			SyncedAt:    rec.SyncedAt,
		})
	}
	status := http.StatusOK
	if err != nil {
		// Partial failure: some systems synced, some did not.
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

// validationForMeeting walks meeting → bot session → draft → validation
// session, preferring a completed validation when several exist.
func (s *Server) validationForMeeting(r *http.Request, meetingID string) (string, error) {
	ctx := r.Context()
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return "", err
	}

	for _, cs := range sessions {
		if cs.MeetingID != meetingID {
			continue
		}
		draft, err := s.store.DraftSummaryByBotSession(ctx, cs.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}

		vss, err := s.store.ValidationSessionsByDraft(ctx, draft.ID)
		if err != nil {
			return "", err
		}
		if len(vss) == 0 {
			continue
		}
		for _, vs := range vss {
			if vs.Status == domain.ValidationCompleted {
				return vs.ID, nil
			}
		}
		// No completed validation; let the syncer report the gate.
		return vss[len(vss)-1].ID, nil
	}
	return "", fmt.Errorf("%w: validation session for meeting %s", store.ErrNotFound, meetingID)
}
