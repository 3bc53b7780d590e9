// Package validation runs the human review gate between a draft summary
// and any CRM mutation.
//
// A validation session carries generated review questions across three
// categories: overall summary confirmation, per-item action review, and
// per-system CRM approval. Responses accumulate until an explicit complete
// call; completion composes the validated summary and the approved CRM
// updates that the sync stage is allowed to write. Sessions expire after a
// fixed window, and expiry is irreversible.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/store"
)

// DefaultExpiry is how long a validator has to finish a session.
const DefaultExpiry = 30 * time.Minute

// Sentinel errors surfaced to callers.
var (
	ErrExpired         = errors.New("validation: session expired")
	ErrAlreadyComplete = errors.New("validation: session already completed")
	ErrUnknownQuestion = errors.New("validation: unknown question id")
	ErrResponseShape   = errors.New("validation: response does not fit the question")
	ErrIncomplete      = errors.New("validation: required questions unanswered")
)

// Store is the persistence surface the workflow needs.
type Store interface {
	store.DraftSummaryStore
	store.ValidationStore
}

// Workflow creates and advances validation sessions.
type Workflow struct {
	store  Store
	expiry time.Duration
	now    func() time.Time
}

// Option customises a [Workflow].
type Option func(*Workflow)

// WithExpiry overrides the session expiry window.
func WithExpiry(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.expiry = d
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// New creates a workflow over st.
func New(st Store, opts ...Option) *Workflow {
	w := &Workflow{store: st, expiry: DefaultExpiry, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateSession opens a validation session for a draft summary, generating
// the question set from the draft's contents.
func (w *Workflow) CreateSession(ctx context.Context, draftSummaryID, validator string) (*domain.ValidationSession, error) {
	draft, err := w.store.DraftSummaryByID(ctx, draftSummaryID)
	if err != nil {
		return nil, fmt.Errorf("validation: create session: %w", err)
	}
	if validator == "" {
		return nil, fmt.Errorf("validation: validator identity must not be empty")
	}

	now := w.now()
	vs := &domain.ValidationSession{
		ID:                uuid.NewString(),
		DraftSummaryID:    draft.ID,
		ValidatorIdentity: validator,
		Status:            domain.ValidationPending,
		Questions:         buildQuestions(draft),
		Responses:         make(map[string]domain.Response),
		StartedAt:         now,
		ExpiresAt:         now.Add(w.expiry),
	}

	if err := w.store.SaveValidationSession(ctx, vs); err != nil {
		return nil, fmt.Errorf("validation: create session: %w", err)
	}
	slog.Info("validation session created",
		"validation_session_id", vs.ID,
		"draft_id", draft.ID,
		"validator", validator,
		"questions", len(vs.Questions))
	return vs, nil
}

// buildQuestions derives the review question set from the draft. The
// summary confirmation and every action-item review are required; CRM
// approvals are optional — an unanswered approval simply withholds that
// system from the sync stage.
func buildQuestions(draft *domain.DraftSummary) []domain.Question {
	questions := []domain.Question{{
		ID:       uuid.NewString(),
		Type:     domain.QuestionConfirmation,
		Prompt:   "Does this summary accurately reflect the meeting?",
		Subject:  draft.SummaryText,
		Required: true,
	}}

	for _, item := range draft.ActionItems {
		questions = append(questions, domain.Question{
			ID:       uuid.NewString(),
			Type:     domain.QuestionActionItem,
			Prompt:   "Approve this action item, or provide a corrected wording.",
			Subject:  item.Description,
			Required: true,
		})
	}

	systems := make([]string, 0, len(draft.SuggestedCRMUpdates))
	for system := range draft.SuggestedCRMUpdates {
		systems = append(systems, system)
	}
	sort.Strings(systems)
	for _, system := range systems {
		update := draft.SuggestedCRMUpdates[system]
		questions = append(questions, domain.Question{
			ID:       uuid.NewString(),
			Type:     domain.QuestionCRMApproval,
			Prompt:   fmt.Sprintf("Approve moving the %s record to stage %q?", system, update.Stage),
			Subject:  system,
			Required: false,
		})
	}
	return questions
}

// Session loads a validation session, applying expiry first: a session
// past its deadline is persisted as expired before being returned.
func (w *Workflow) Session(ctx context.Context, sessionID string) (*domain.ValidationSession, error) {
	vs, err := w.store.ValidationSessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("validation: load session: %w", err)
	}
	if err := w.applyExpiry(ctx, vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// applyExpiry flips a session past its deadline to expired. Completion is
// exempt: a completed session never expires.
func (w *Workflow) applyExpiry(ctx context.Context, vs *domain.ValidationSession) error {
	if vs.Status == domain.ValidationCompleted || vs.Status == domain.ValidationExpired {
		return nil
	}
	if w.now().Before(vs.ExpiresAt) {
		return nil
	}
	vs.Status = domain.ValidationExpired
	if err := w.store.SaveValidationSession(ctx, vs); err != nil {
		return fmt.Errorf("validation: persist expiry: %w", err)
	}
	return nil
}

// Questions returns the session's question set.
func (w *Workflow) Questions(ctx context.Context, sessionID string) ([]domain.Question, error) {
	vs, err := w.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return vs.Questions, nil
}

// SubmitResponse records one answer. The first response moves the session
// from pending to in_progress.
func (w *Workflow) SubmitResponse(ctx context.Context, sessionID string, resp domain.Response) error {
	vs, err := w.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	switch vs.Status {
	case domain.ValidationExpired:
		return fmt.Errorf("%w: %s", ErrExpired, sessionID)
	case domain.ValidationCompleted:
		return fmt.Errorf("%w: %s", ErrAlreadyComplete, sessionID)
	}

	question, ok := findQuestion(vs.Questions, resp.QuestionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, resp.QuestionID)
	}
	if err := checkShape(question, resp); err != nil {
		return err
	}

	if resp.AnsweredAt.IsZero() {
		resp.AnsweredAt = w.now()
	}
	vs.Responses[resp.QuestionID] = resp
	if vs.Status == domain.ValidationPending {
		vs.Status = domain.ValidationInProgress
	}

	if err := w.store.SaveValidationSession(ctx, vs); err != nil {
		return fmt.Errorf("validation: save response: %w", err)
	}
	return nil
}

func findQuestion(questions []domain.Question, id string) (domain.Question, bool) {
	for _, q := range questions {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Question{}, false
}

// checkShape validates a response against its question's expected shape.
// Edited text is meaningful on the confirmation and action-item questions;
// a CRM approval is a plain yes/no.
func checkShape(q domain.Question, resp domain.Response) error {
	if q.Type == domain.QuestionCRMApproval && resp.EditedText != "" {
		return fmt.Errorf("%w: %s questions take no edited text", ErrResponseShape, q.Type)
	}
	if !resp.Approved && resp.EditedText == "" && q.Type == domain.QuestionConfirmation {
		return fmt.Errorf("%w: rejecting the summary requires a corrected text", ErrResponseShape)
	}
	return nil
}

// Complete finalizes the session: all required questions must be answered.
// It composes the validated summary and the approved CRM updates, then
// marks the session completed.
func (w *Workflow) Complete(ctx context.Context, sessionID string) (*domain.ValidationSession, error) {
	vs, err := w.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch vs.Status {
	case domain.ValidationExpired:
		return nil, fmt.Errorf("%w: %s", ErrExpired, sessionID)
	case domain.ValidationCompleted:
		return vs, nil
	}

	var missing []string
	for _, q := range vs.Questions {
		if q.Required {
			if _, answered := vs.Responses[q.ID]; !answered {
				missing = append(missing, q.ID)
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d of %d required", ErrIncomplete, len(missing), requiredCount(vs.Questions))
	}

	draft, err := w.store.DraftSummaryByID(ctx, vs.DraftSummaryID)
	if err != nil {
		return nil, fmt.Errorf("validation: complete: %w", err)
	}

	w.compose(vs, draft)
	vs.Status = domain.ValidationCompleted
	vs.CompletedAt = w.now()

	if err := w.store.SaveValidationSession(ctx, vs); err != nil {
		return nil, fmt.Errorf("validation: complete: %w", err)
	}
	slog.Info("validation session completed",
		"validation_session_id", vs.ID,
		"approved_crm_updates", len(vs.ApprovedCRMUpdates))
	return vs, nil
}

func requiredCount(questions []domain.Question) int {
	n := 0
	for _, q := range questions {
		if q.Required {
			n++
		}
	}
	return n
}

// compose derives the validated summary and the approved CRM update set
// from the recorded responses.
func (w *Workflow) compose(vs *domain.ValidationSession, draft *domain.DraftSummary) {
	vs.ValidatedSummary = draft.SummaryText
	vs.ApprovedCRMUpdates = make(map[string]domain.CRMUpdate)

	for _, q := range vs.Questions {
		resp, answered := vs.Responses[q.ID]
		if !answered {
			continue
		}
		switch q.Type {
		case domain.QuestionConfirmation:
			if resp.EditedText != "" {
				vs.ValidatedSummary = resp.EditedText
			}
		case domain.QuestionCRMApproval:
			if resp.Approved {
				if update, ok := draft.SuggestedCRMUpdates[q.Subject]; ok {
					update.Notes = vs.ValidatedSummary
					vs.ApprovedCRMUpdates[q.Subject] = update
				}
			}
		}
	}
}
