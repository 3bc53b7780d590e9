package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meetwren/wren/internal/callbot"
	"github.com/meetwren/wren/internal/crmsync"
	"github.com/meetwren/wren/internal/domain"
	enginemock "github.com/meetwren/wren/internal/engine/mock"
	"github.com/meetwren/wren/internal/session"
	"github.com/meetwren/wren/internal/store/memstore"
	"github.com/meetwren/wren/internal/summary"
	"github.com/meetwren/wren/internal/validation"
	"github.com/meetwren/wren/pkg/crm"
	crmmock "github.com/meetwren/wren/pkg/crm/mock"
	"github.com/meetwren/wren/pkg/platform"
	platformmock "github.com/meetwren/wren/pkg/platform/mock"
)

const testToken = "wren-test-token"

type apiRig struct {
	handler http.Handler
	manager *session.Manager
	store   *memstore.Store
	crm     *crmmock.Adapter
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	st := memstore.New()
	meeting := &domain.Meeting{
		ID:        "meeting-1",
		Title:     "Quarterly sync",
		Attendees: []string{"Dana Reyes", "Sam Okafor"},
		Status:    domain.MeetingScheduled,
	}
	if err := st.SaveMeeting(context.Background(), meeting); err != nil {
		t.Fatalf("SaveMeeting: %v", err)
	}

	adapter := platformmock.New()
	adapter.PlatformName = "meet"
	eng := enginemock.New()
	bots := callbot.NewService(map[string]platform.Adapter{"meet": adapter})
	gen := summary.NewGenerator(eng, st)
	mgr := session.NewManager(bots, eng, gen, st, session.Config{
		PersistInterval:    20 * time.Millisecond,
		ReconnectDelayBase: 5 * time.Millisecond,
		QualityInterval:    25 * time.Millisecond,
	})

	crmAdapter := crmmock.New()
	syncer := crmsync.New(map[string]crm.Adapter{"mock": crmAdapter}, st)
	wf := validation.New(st)

	srv := New(mgr, wf, syncer, st, nil, testToken)
	return &apiRig{
		handler: srv.Routes(),
		manager: mgr,
		store:   st,
		crm:     crmAdapter,
	}
}

// do performs an authenticated request against the route tree.
func (rig *apiRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// waitForState polls the status endpoint until the session reaches want.
func (rig *apiRig) waitForState(t *testing.T, sessionID string, want string) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := rig.do(t, "GET", "/meetings/sessions/"+sessionID, nil)
		if rec.Code == http.StatusOK {
			snap := decodeBody[session.Snapshot](t, rec)
			if string(snap.State) == want {
				return snap
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached state %q", sessionID, want)
	return session.Snapshot{}
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	rig := newAPIRig(t)

	req := httptest.NewRequest("GET", "/meetings/sessions", nil)
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/meetings/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "unauthorized" {
		t.Errorf("error code = %q, want %q", body.Error.Code, "unauthorized")
	}
}

func TestAuthFailsClosedWithoutConfiguredToken(t *testing.T) {
	rig := newAPIRig(t)
	srv := New(rig.manager, nil, nil, rig.store, nil, "")
	handler := srv.Routes()

	req := httptest.NewRequest("GET", "/meetings/sessions", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestStartSessionLifecycle(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "POST", "/meetings/meeting-1/start", startRequest{
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: status = %d, body %s", rec.Code, rec.Body.String())
	}
	started := decodeBody[startResponse](t, rec)
	if started.SessionID == "" {
		t.Fatal("start returned empty session_id")
	}

	snap := rig.waitForState(t, started.SessionID, "transcribing")
	if snap.Platform != "meet" {
		t.Errorf("platform = %q, want %q", snap.Platform, "meet")
	}

	// A second start for the same meeting conflicts while the first lives.
	rec = rig.do(t, "POST", "/meetings/meeting-1/start", startRequest{
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate start: status = %d, want 409", rec.Code)
	}

	rec = rig.do(t, "GET", "/meetings/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	snaps := decodeBody[[]session.Snapshot](t, rec)
	if len(snaps) != 1 {
		t.Errorf("session count = %d, want 1", len(snaps))
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "POST", "/meetings/meeting-1/start", startRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d, want 400", rec.Code)
	}

	rec = rig.do(t, "POST", "/meetings/nope/start", startRequest{
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown meeting: status = %d, want 404", rec.Code)
	}

	// Platform detection happens in the session worker; an undetectable
	// URL is accepted here and fails the session shortly after.
	rec = rig.do(t, "POST", "/meetings/meeting-1/start", startRequest{
		MeetingURL: "https://example.com/not-a-conference",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("undetectable platform: status = %d, want 202", rec.Code)
	}
	started := decodeBody[startResponse](t, rec)
	snap := rig.waitForState(t, started.SessionID, "failed")
	if snap.ErrorMessage == "" {
		t.Error("failed session carries no error message")
	}
}

func TestTranscriptPushAndEnd(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "POST", "/meetings/meeting-1/start", startRequest{
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	started := decodeBody[startResponse](t, rec)
	rig.waitForState(t, started.SessionID, "transcribing")

	audio := bytes.Repeat([]byte{0x7f}, 640)
	rec = rig.do(t, "POST", "/meetings/sessions/"+started.SessionID+"/transcript",
		transcriptRequest{Data: audio})
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript push: status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Wait until the chunk made it through the pipeline before ending.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = rig.do(t, "GET", "/meetings/sessions/"+started.SessionID, nil)
		if snap := decodeBody[session.Snapshot](t, rec); snap.ChunkCount >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = rig.do(t, "POST", "/meetings/meeting-1/end", endRequest{Reason: "done"})
	if rec.Code != http.StatusOK {
		t.Fatalf("end: status = %d, body %s", rec.Code, rec.Body.String())
	}
	ended := decodeBody[endResponse](t, rec)
	if ended.State != "completed" {
		t.Errorf("state = %q, want %q", ended.State, "completed")
	}
	if ended.Reason != "done" {
		t.Errorf("reason = %q, want %q", ended.Reason, "done")
	}
	if ended.SummaryID == "" {
		t.Error("end returned no summary_id despite transcribed chunks")
	}

	// The meeting is free again, but ending it twice finds no live session.
	rec = rig.do(t, "POST", "/meetings/meeting-1/end", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second end: status = %d, want 404", rec.Code)
	}
}

func TestTranscriptPushUnknownSession(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "POST", "/meetings/sessions/ghost/transcript",
		transcriptRequest{Data: []byte{1, 2, 3}})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTranscriptChunkPushSkipsEngine(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "POST", "/meetings/meeting-1/start", startRequest{
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	started := decodeBody[startResponse](t, rec)
	rig.waitForState(t, started.SessionID, "transcribing")

	rec = rig.do(t, "POST", "/meetings/sessions/"+started.SessionID+"/transcript",
		transcriptRequest{TranscriptChunk: &transcriptChunkDTO{
			Text:       "we agreed on net sixty payment terms",
			SpeakerID:  "speaker-2",
			Confidence: 0.95,
		}})
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript chunk push: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = rig.do(t, "GET", "/meetings/sessions/"+started.SessionID, nil)
	if snap := decodeBody[session.Snapshot](t, rec); snap.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1 immediately after an injected chunk", snap.ChunkCount)
	}

	// An empty chunk is rejected before it reaches the session.
	rec = rig.do(t, "POST", "/meetings/sessions/"+started.SessionID+"/transcript",
		transcriptRequest{TranscriptChunk: &transcriptChunkDTO{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty transcript_chunk: status = %d, want 400", rec.Code)
	}

	rig.do(t, "POST", "/meetings/meeting-1/end", endRequest{Reason: "done"})
}

func TestEndWithFinalTranscript(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "POST", "/meetings/meeting-1/start", startRequest{
		MeetingURL: "https://meet.google.com/abc-defg-hij",
	})
	started := decodeBody[startResponse](t, rec)
	rig.waitForState(t, started.SessionID, "transcribing")

	rec = rig.do(t, "POST", "/meetings/meeting-1/end", endRequest{
		FinalTranscript: "closing recap: contract signed, onboarding starts Monday",
		MeetingDuration: 1800,
		Reason:          "done",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("end: status = %d, body %s", rec.Code, rec.Body.String())
	}
	ended := decodeBody[endResponse](t, rec)
	if ended.State != "completed" {
		t.Errorf("state = %q, want %q", ended.State, "completed")
	}
	if ended.SummaryID == "" {
		t.Error("end returned no summary_id despite the final transcript")
	}

	chunks, err := rig.store.ChunksBySession(context.Background(), started.SessionID, -1)
	if err != nil {
		t.Fatalf("ChunksBySession: %v", err)
	}
	found := false
	for _, c := range chunks {
		if c.Text == "closing recap: contract signed, onboarding starts Monday" {
			found = true
		}
	}
	if !found {
		t.Errorf("final transcript missing from persisted chunks: %+v", chunks)
	}
}

// seedDraft stores a draft summary ready for validation.
func seedDraft(t *testing.T, st *memstore.Store, botSessionID string) *domain.DraftSummary {
	t.Helper()
	draft := &domain.DraftSummary{
		ID:           "draft-" + botSessionID,
		BotSessionID: botSessionID,
		SummaryText:  "Discussed rollout timeline and agreed on next steps.",
		KeyPoints:    []string{"Rollout starts in October"},
		ActionItems: []domain.ActionItem{
			{Description: "Send revised proposal", Assignee: "Dana Reyes", Priority: domain.PriorityHigh, Confidence: 0.9},
		},
		SuggestedCRMUpdates: map[string]domain.CRMUpdate{
			"mock": {System: "mock", Stage: "Proposal/Price Quote", Notes: "Discussed rollout timeline and agreed on next steps."},
		},
		ConfidenceScore: 0.8,
		CreatedAt:       time.Now(),
	}
	if err := st.SaveDraftSummary(context.Background(), draft); err != nil {
		t.Fatalf("SaveDraftSummary: %v", err)
	}
	return draft
}

func TestValidationFlow(t *testing.T) {
	rig := newAPIRig(t)
	draft := seedDraft(t, rig.store, "sess-1")

	rec := rig.do(t, "POST", "/validation/sessions", createValidationRequest{
		DraftSummaryID: draft.ID,
		Validator:      "dana@example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}
	vs := decodeBody[validationSessionDTO](t, rec)
	if vs.Status != "pending" {
		t.Errorf("status = %q, want %q", vs.Status, "pending")
	}
	if len(vs.Questions) != 3 {
		t.Fatalf("question count = %d, want 3", len(vs.Questions))
	}

	rec = rig.do(t, "GET", "/validation/sessions/"+vs.ID+"/questions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("questions: status = %d", rec.Code)
	}
	questions := decodeBody[[]questionDTO](t, rec)

	// Completing before answering the required questions is rejected.
	rec = rig.do(t, "POST", "/validation/sessions/"+vs.ID+"/complete", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("premature complete: status = %d, want 422", rec.Code)
	}

	for _, q := range questions {
		rec = rig.do(t, "POST", "/validation/sessions/"+vs.ID+"/responses", responseRequest{
			QuestionID: q.ID,
			Approved:   true,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("response to %s: status = %d, body %s", q.ID, rec.Code, rec.Body.String())
		}
	}

	rec = rig.do(t, "POST", "/validation/sessions/"+vs.ID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status = %d, body %s", rec.Code, rec.Body.String())
	}
	done := decodeBody[validationSessionDTO](t, rec)
	if done.Status != "completed" {
		t.Errorf("status = %q, want %q", done.Status, "completed")
	}
	if done.ValidatedSummary != draft.SummaryText {
		t.Errorf("validated summary = %q, want draft text", done.ValidatedSummary)
	}
	if _, ok := done.ApprovedCRMUpdates["mock"]; !ok {
		t.Error("approved updates missing the mock system")
	}
}

func TestValidationRejectsUnknownQuestion(t *testing.T) {
	rig := newAPIRig(t)
	draft := seedDraft(t, rig.store, "sess-1")

	rec := rig.do(t, "POST", "/validation/sessions", createValidationRequest{
		DraftSummaryID: draft.ID,
		Validator:      "dana@example.com",
	})
	vs := decodeBody[validationSessionDTO](t, rec)

	rec = rig.do(t, "POST", "/validation/sessions/"+vs.ID+"/responses", responseRequest{
		QuestionID: "ghost",
		Approved:   true,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// seedValidated stores the full meeting → session → draft → completed
// validation chain that the sync trigger walks.
func seedValidated(t *testing.T, st *memstore.Store, status domain.ValidationStatus) *domain.ValidationSession {
	t.Helper()
	ctx := context.Background()

	cs := &domain.CallBotSession{
		ID:           "sess-1",
		MeetingID:    "meeting-1",
		BotSessionID: "bot-1",
		Platform:     "meet",
	}
	if err := st.SaveSession(ctx, cs); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	draft := seedDraft(t, st, cs.ID)

	vs := &domain.ValidationSession{
		ID:                "val-1",
		DraftSummaryID:    draft.ID,
		ValidatorIdentity: "dana@example.com",
		Status:            status,
		StartedAt:         time.Now(),
		ExpiresAt:         time.Now().Add(30 * time.Minute),
		ValidatedSummary:  draft.SummaryText,
		ApprovedCRMUpdates: map[string]domain.CRMUpdate{
			"mock": {System: "mock", Stage: "Proposal/Price Quote", Notes: draft.SummaryText},
		},
	}
	if status == domain.ValidationCompleted {
		vs.CompletedAt = time.Now()
	}
	if err := st.SaveValidationSession(ctx, vs); err != nil {
		t.Fatalf("SaveValidationSession: %v", err)
	}
	return vs
}

func TestSyncCRM(t *testing.T) {
	rig := newAPIRig(t)
	seedValidated(t, rig.store, domain.ValidationCompleted)

	rec := rig.do(t, "POST", "/meetings/meeting-1/sync-crm", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[syncResponse](t, rec)
	if resp.ValidationSessionID != "val-1" {
		t.Errorf("validation session = %q, want %q", resp.ValidationSessionID, "val-1")
	}
	if len(resp.Records) != 1 {
		t.Fatalf("record count = %d, want 1", len(resp.Records))
	}
	if resp.Records[0].Status != "completed" {
		t.Errorf("record status = %q, want %q", resp.Records[0].Status, "completed")
	}
	if rig.crm.PushCount() != 1 {
		t.Errorf("push count = %d, want 1", rig.crm.PushCount())
	}

	// Triggering again is idempotent.
	rec = rig.do(t, "POST", "/meetings/meeting-1/sync-crm", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second sync: status = %d", rec.Code)
	}
	if rig.crm.PushCount() != 1 {
		t.Errorf("push count after resync = %d, want 1", rig.crm.PushCount())
	}
}

func TestSyncCRMGatedOnValidation(t *testing.T) {
	rig := newAPIRig(t)
	seedValidated(t, rig.store, domain.ValidationPending)

	rec := rig.do(t, "POST", "/meetings/meeting-1/sync-crm", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestSyncCRMNoValidation(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "POST", "/meetings/meeting-1/sync-crm", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
