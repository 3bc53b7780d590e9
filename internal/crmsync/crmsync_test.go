package crmsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/store/memstore"
	"github.com/meetwren/wren/pkg/crm"
	crmmock "github.com/meetwren/wren/pkg/crm/mock"
)

// fixture seeds a draft and a validation session approving the given
// systems, completed unless status overrides it.
func fixture(t *testing.T, st *memstore.Store, status domain.ValidationStatus, systems ...string) *domain.ValidationSession {
	t.Helper()
	ctx := context.Background()

	draft := &domain.DraftSummary{
		ID:           "draft-1",
		BotSessionID: "sess-1",
		SummaryText:  "Pricing agreed; contract review next.",
		ActionItems: []domain.ActionItem{
			{Description: "Send contract draft", Priority: domain.PriorityHigh, Confidence: 0.9},
		},
		NextSteps: []string{"Schedule contract review"},
	}
	if err := st.SaveDraftSummary(ctx, draft); err != nil {
		t.Fatalf("SaveDraftSummary: %v", err)
	}

	approved := make(map[string]domain.CRMUpdate, len(systems))
	for _, system := range systems {
		approved[system] = domain.CRMUpdate{
			System: system,
			Stage:  "Proposal/Price Quote",
			Notes:  draft.SummaryText,
		}
	}
	vs := &domain.ValidationSession{
		ID:                 "val-1",
		DraftSummaryID:     draft.ID,
		ValidatorIdentity:  "dana@example.com",
		Status:             status,
		Responses:          map[string]domain.Response{},
		StartedAt:          time.Now(),
		ExpiresAt:          time.Now().Add(time.Hour),
		ValidatedSummary:   draft.SummaryText,
		ApprovedCRMUpdates: approved,
	}
	if status == domain.ValidationCompleted {
		vs.CompletedAt = time.Now()
	}
	if err := st.SaveValidationSession(ctx, vs); err != nil {
		t.Fatalf("SaveValidationSession: %v", err)
	}
	return vs
}

func TestSyncRefusesIncompleteValidation(t *testing.T) {
	st := memstore.New()
	vs := fixture(t, st, domain.ValidationPending, "mock")
	adapter := crmmock.New()
	syncer := New(map[string]crm.Adapter{"mock": adapter}, st)

	_, err := syncer.Sync(context.Background(), vs.ID)
	if !errors.Is(err, ErrValidationGate) {
		t.Fatalf("err = %v, want ErrValidationGate", err)
	}

	// The gate leaves no record behind.
	if _, err := st.SyncRecordByTarget(context.Background(), vs.ID, "mock"); err == nil {
		t.Error("sync record exists for a pending validation session")
	}
	if adapter.PushCount() != 0 {
		t.Errorf("adapter pushed %d times, want 0", adapter.PushCount())
	}
}

func TestSyncHappyPath(t *testing.T) {
	st := memstore.New()
	vs := fixture(t, st, domain.ValidationCompleted, "mock")
	adapter := crmmock.New()
	syncer := New(map[string]crm.Adapter{"mock": adapter}, st)

	records, err := syncer.Sync(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rec := records[0]
	if rec.SyncStatus != domain.SyncCompleted {
		t.Errorf("status = %s, want completed", rec.SyncStatus)
	}
	if rec.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", rec.Attempts)
	}
	if rec.CRMRecordID == "" {
		t.Error("no CRM record id stored")
	}
	if rec.SyncedAt.IsZero() {
		t.Error("SyncedAt not set")
	}
}

func TestSyncRetriesTransientFailure(t *testing.T) {
	st := memstore.New()
	vs := fixture(t, st, domain.ValidationCompleted, "mock")
	adapter := crmmock.New()
	adapter.PushErrs = []error{
		&crm.APIError{System: "mock", StatusCode: 503, Body: "service unavailable"},
	}
	syncer := New(map[string]crm.Adapter{"mock": adapter}, st,
		WithRetryPolicy(3, time.Millisecond))

	records, err := syncer.Sync(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	rec := records[0]
	if rec.SyncStatus != domain.SyncCompleted {
		t.Errorf("status = %s, want completed", rec.SyncStatus)
	}
	if rec.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", rec.Attempts)
	}
	// Two pushes, but the dedupe token means exactly one CRM object.
	if adapter.PushCount() != 2 {
		t.Errorf("push count = %d, want 2", adapter.PushCount())
	}
	if adapter.CreateCount() != 1 {
		t.Errorf("create count = %d, want exactly one CRM object", adapter.CreateCount())
	}
}

func TestSyncPermanentFailureDoesNotRetry(t *testing.T) {
	st := memstore.New()
	vs := fixture(t, st, domain.ValidationCompleted, "mock")
	adapter := crmmock.New()
	adapter.PushErrs = []error{
		&crm.APIError{System: "mock", StatusCode: 400, Body: "bad payload"},
	}
	syncer := New(map[string]crm.Adapter{"mock": adapter}, st,
		WithRetryPolicy(3, time.Millisecond))

	records, err := syncer.Sync(context.Background(), vs.ID)
	if err == nil {
		t.Fatal("expected error for 4xx push")
	}
	rec := records[0]
	if rec.SyncStatus != domain.SyncFailed {
		t.Errorf("status = %s, want failed", rec.SyncStatus)
	}
	if rec.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", rec.Attempts)
	}
	if rec.LastError == "" {
		t.Error("LastError not recorded")
	}
	if adapter.PushCount() != 1 {
		t.Errorf("push count = %d, want 1", adapter.PushCount())
	}
}

func TestSyncExhaustsRetryBudget(t *testing.T) {
	st := memstore.New()
	vs := fixture(t, st, domain.ValidationCompleted, "mock")
	adapter := crmmock.New()
	adapter.PushErrs = []error{
		&crm.APIError{System: "mock", StatusCode: 503, Body: "down"},
		&crm.APIError{System: "mock", StatusCode: 503, Body: "down"},
	}
	syncer := New(map[string]crm.Adapter{"mock": adapter}, st,
		WithRetryPolicy(2, time.Millisecond))

	records, err := syncer.Sync(context.Background(), vs.ID)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	rec := records[0]
	if rec.SyncStatus != domain.SyncFailed {
		t.Errorf("status = %s, want failed", rec.SyncStatus)
	}
	if rec.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", rec.Attempts)
	}
}

func TestSyncIsIdempotentAcrossCalls(t *testing.T) {
	st := memstore.New()
	vs := fixture(t, st, domain.ValidationCompleted, "mock")
	adapter := crmmock.New()
	syncer := New(map[string]crm.Adapter{"mock": adapter}, st)

	first, err := syncer.Sync(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	second, err := syncer.Sync(context.Background(), vs.ID)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	if adapter.PushCount() != 1 {
		t.Errorf("push count = %d, want 1 (completed pair never re-pushes)", adapter.PushCount())
	}
	if second[0].CRMRecordID != first[0].CRMRecordID {
		t.Errorf("record id changed across calls: %q vs %q", first[0].CRMRecordID, second[0].CRMRecordID)
	}
	if second[0].Attempts != first[0].Attempts {
		t.Errorf("attempts changed across calls")
	}
}

func TestSyncPerSystemIsolation(t *testing.T) {
	st := memstore.New()
	vs := fixture(t, st, domain.ValidationCompleted, "mock", "ghost")
	adapter := crmmock.New()
	syncer := New(map[string]crm.Adapter{"mock": adapter}, st)

	records, err := syncer.Sync(context.Background(), vs.ID)
	if !errors.Is(err, ErrUnknownCRM) {
		t.Fatalf("err = %v, want ErrUnknownCRM for the ghost system", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	byv := map[string]domain.CRMSyncRecord{}
	for _, rec := range records {
		byv[rec.CRMSystem] = rec
	}
	if byv["mock"].SyncStatus != domain.SyncCompleted {
		t.Errorf("mock status = %s, want completed", byv["mock"].SyncStatus)
	}
	if byv["ghost"].SyncStatus != domain.SyncFailed {
		t.Errorf("ghost status = %s, want failed", byv["ghost"].SyncStatus)
	}
}

func TestSyncNothingApproved(t *testing.T) {
	st := memstore.New()
	vs := fixture(t, st, domain.ValidationCompleted)
	syncer := New(map[string]crm.Adapter{"mock": crmmock.New()}, st)

	_, err := syncer.Sync(context.Background(), vs.ID)
	if !errors.Is(err, ErrNothingToSync) {
		t.Fatalf("err = %v, want ErrNothingToSync", err)
	}
}
