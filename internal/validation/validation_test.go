package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/store/memstore"
)

func testDraft(t *testing.T, st *memstore.Store) *domain.DraftSummary {
	t.Helper()
	draft := &domain.DraftSummary{
		ID:           "draft-1",
		BotSessionID: "sess-1",
		SummaryText:  "Discussed rollout timeline and pricing.",
		KeyPoints:    []string{"rollout", "pricing"},
		ActionItems: []domain.ActionItem{
			{Description: "Send revised quote", Priority: domain.PriorityHigh, Confidence: 0.9},
			{Description: "Book follow-up call", Priority: domain.PriorityMedium, Confidence: 0.8},
		},
		SuggestedCRMUpdates: map[string]domain.CRMUpdate{
			"salesforce": {System: "salesforce", Stage: "Proposal/Price Quote"},
			"hubspot":    {System: "hubspot", Stage: "presentationscheduled"},
		},
		ConfidenceScore: 0.9,
		CreatedAt:       time.Now(),
	}
	if err := st.SaveDraftSummary(context.Background(), draft); err != nil {
		t.Fatalf("SaveDraftSummary: %v", err)
	}
	return draft
}

func questionsByType(vs *domain.ValidationSession, typ domain.QuestionType) []domain.Question {
	var out []domain.Question
	for _, q := range vs.Questions {
		if q.Type == typ {
			out = append(out, q)
		}
	}
	return out
}

// answerRequired approves the confirmation and every action-item question.
func answerRequired(t *testing.T, w *Workflow, vs *domain.ValidationSession) {
	t.Helper()
	for _, q := range vs.Questions {
		if !q.Required {
			continue
		}
		err := w.SubmitResponse(context.Background(), vs.ID, domain.Response{
			QuestionID: q.ID,
			Approved:   true,
		})
		if err != nil {
			t.Fatalf("SubmitResponse(%s): %v", q.Type, err)
		}
	}
}

func TestCreateSessionGeneratesQuestions(t *testing.T) {
	st := memstore.New()
	draft := testDraft(t, st)
	w := New(st)

	vs, err := w.CreateSession(context.Background(), draft.ID, "dana@example.com")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if vs.Status != domain.ValidationPending {
		t.Errorf("status = %s, want pending", vs.Status)
	}
	if got := len(questionsByType(vs, domain.QuestionConfirmation)); got != 1 {
		t.Errorf("%d confirmation questions, want 1", got)
	}
	if got := len(questionsByType(vs, domain.QuestionActionItem)); got != 2 {
		t.Errorf("%d action-item questions, want 2", got)
	}
	crmQs := questionsByType(vs, domain.QuestionCRMApproval)
	if len(crmQs) != 2 {
		t.Fatalf("%d CRM questions, want 2", len(crmQs))
	}
	// Deterministic system order.
	if crmQs[0].Subject != "hubspot" || crmQs[1].Subject != "salesforce" {
		t.Errorf("CRM question subjects = %q, %q", crmQs[0].Subject, crmQs[1].Subject)
	}
	if vs.ExpiresAt.Sub(vs.StartedAt) != DefaultExpiry {
		t.Errorf("expiry window = %v, want %v", vs.ExpiresAt.Sub(vs.StartedAt), DefaultExpiry)
	}
}

func TestFirstResponseStartsProgress(t *testing.T) {
	st := memstore.New()
	draft := testDraft(t, st)
	w := New(st)

	vs, err := w.CreateSession(context.Background(), draft.ID, "dana@example.com")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	err = w.SubmitResponse(context.Background(), vs.ID, domain.Response{
		QuestionID: vs.Questions[0].ID,
		Approved:   true,
	})
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}

	got, err := w.Session(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != domain.ValidationInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
}

func TestSubmitResponseRejectsBadInput(t *testing.T) {
	st := memstore.New()
	draft := testDraft(t, st)
	w := New(st)

	vs, err := w.CreateSession(context.Background(), draft.ID, "dana@example.com")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	err = w.SubmitResponse(context.Background(), vs.ID, domain.Response{QuestionID: "nope", Approved: true})
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("unknown question err = %v, want ErrUnknownQuestion", err)
	}

	// Rejecting the summary without a correction is ill-formed.
	err = w.SubmitResponse(context.Background(), vs.ID, domain.Response{
		QuestionID: vs.Questions[0].ID,
		Approved:   false,
	})
	if !errors.Is(err, ErrResponseShape) {
		t.Errorf("bare rejection err = %v, want ErrResponseShape", err)
	}

	// CRM approvals carry no edited text.
	crmQ := questionsByType(vs, domain.QuestionCRMApproval)[0]
	err = w.SubmitResponse(context.Background(), vs.ID, domain.Response{
		QuestionID: crmQ.ID,
		Approved:   true,
		EditedText: "free text",
	})
	if !errors.Is(err, ErrResponseShape) {
		t.Errorf("CRM edited text err = %v, want ErrResponseShape", err)
	}
}

func TestCompleteRequiresAllRequiredAnswers(t *testing.T) {
	st := memstore.New()
	draft := testDraft(t, st)
	w := New(st)

	vs, err := w.CreateSession(context.Background(), draft.ID, "dana@example.com")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := w.Complete(context.Background(), vs.ID); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("premature Complete err = %v, want ErrIncomplete", err)
	}

	answerRequired(t, w, vs)

	done, err := w.Complete(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != domain.ValidationCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.ValidatedSummary != draft.SummaryText {
		t.Errorf("validated summary = %q, want the draft text", done.ValidatedSummary)
	}
	// No CRM approvals were answered, so nothing is cleared for sync.
	if len(done.ApprovedCRMUpdates) != 0 {
		t.Errorf("approved updates = %v, want none", done.ApprovedCRMUpdates)
	}
	if done.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
}

func TestCompleteComposesApprovals(t *testing.T) {
	st := memstore.New()
	draft := testDraft(t, st)
	w := New(st)

	vs, err := w.CreateSession(context.Background(), draft.ID, "dana@example.com")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Correct the summary while confirming it.
	err = w.SubmitResponse(context.Background(), vs.ID, domain.Response{
		QuestionID: vs.Questions[0].ID,
		Approved:   false,
		EditedText: "Agreed on Q4 rollout; quote to follow this week.",
	})
	if err != nil {
		t.Fatalf("confirmation response: %v", err)
	}
	for _, q := range questionsByType(vs, domain.QuestionActionItem) {
		if err := w.SubmitResponse(context.Background(), vs.ID, domain.Response{QuestionID: q.ID, Approved: true}); err != nil {
			t.Fatalf("action item response: %v", err)
		}
	}
	// Approve salesforce only.
	for _, q := range questionsByType(vs, domain.QuestionCRMApproval) {
		if err := w.SubmitResponse(context.Background(), vs.ID, domain.Response{
			QuestionID: q.ID,
			Approved:   q.Subject == "salesforce",
		}); err != nil {
			t.Fatalf("CRM response: %v", err)
		}
	}

	done, err := w.Complete(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if done.ValidatedSummary != "Agreed on Q4 rollout; quote to follow this week." {
		t.Errorf("validated summary = %q", done.ValidatedSummary)
	}
	if len(done.ApprovedCRMUpdates) != 1 {
		t.Fatalf("approved updates = %v, want salesforce only", done.ApprovedCRMUpdates)
	}
	update, ok := done.ApprovedCRMUpdates["salesforce"]
	if !ok {
		t.Fatal("salesforce update missing")
	}
	if update.Stage != "Proposal/Price Quote" {
		t.Errorf("stage = %q", update.Stage)
	}
	if update.Notes != done.ValidatedSummary {
		t.Error("approved update notes should carry the validated summary")
	}

	// Completing again is a no-op returning the same session.
	again, err := w.Complete(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if again.Status != domain.ValidationCompleted {
		t.Errorf("second Complete status = %s", again.Status)
	}
}

func TestExpiryIsIrreversible(t *testing.T) {
	st := memstore.New()
	draft := testDraft(t, st)

	current := time.Unix(1700000000, 0)
	w := New(st, WithClock(func() time.Time { return current }))

	vs, err := w.CreateSession(context.Background(), draft.ID, "dana@example.com")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	current = current.Add(DefaultExpiry + time.Minute)

	got, err := w.Session(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != domain.ValidationExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}

	err = w.SubmitResponse(context.Background(), vs.ID, domain.Response{
		QuestionID: vs.Questions[0].ID,
		Approved:   true,
	})
	if !errors.Is(err, ErrExpired) {
		t.Errorf("response after expiry err = %v, want ErrExpired", err)
	}
	if _, err := w.Complete(context.Background(), vs.ID); !errors.Is(err, ErrExpired) {
		t.Errorf("Complete after expiry err = %v, want ErrExpired", err)
	}

	// Turning back the clock does not resurrect the session.
	current = current.Add(-2 * DefaultExpiry)
	got, err = w.Session(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != domain.ValidationExpired {
		t.Errorf("status after clock rollback = %s, want expired", got.Status)
	}
}

func TestCompletedSessionNeverExpires(t *testing.T) {
	st := memstore.New()
	draft := testDraft(t, st)

	current := time.Unix(1700000000, 0)
	w := New(st, WithClock(func() time.Time { return current }))

	vs, err := w.CreateSession(context.Background(), draft.ID, "dana@example.com")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	answerRequired(t, w, vs)
	if _, err := w.Complete(context.Background(), vs.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	current = current.Add(DefaultExpiry * 3)

	got, err := w.Session(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != domain.ValidationCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}
