// Package summary turns a finished session's transcript into a
// [domain.DraftSummary]: prose summary, key points, decisions, action
// items, next steps, a derived confidence score, and suggested CRM stage
// updates per system.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/engine"
	"github.com/meetwren/wren/internal/store"
	"github.com/meetwren/wren/internal/transcription"
)

// ErrEmptyTranscript is returned when a summary is requested for a session
// that produced no transcript chunks.
var ErrEmptyTranscript = errors.New("summary: transcript is empty")

// Generator produces draft summaries. Safe for concurrent use.
type Generator struct {
	engine engine.Engine
	drafts store.DraftSummaryStore
}

// NewGenerator creates a generator writing drafts through drafts.
func NewGenerator(eng engine.Engine, drafts store.DraftSummaryStore) *Generator {
	return &Generator{engine: eng, drafts: drafts}
}

// Generate builds the draft summary for a bot session.
//
// Generation is idempotent per session: when a draft already exists for
// botSessionID it is returned unchanged and the engine is not called.
func (g *Generator) Generate(
	ctx context.Context,
	botSessionID string,
	chunks []domain.TranscriptChunk,
	speakers []domain.Speaker,
) (*domain.DraftSummary, error) {
	if existing, err := g.drafts.DraftSummaryByBotSession(ctx, botSessionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("summary: look up existing draft: %w", err)
	}

	if len(chunks) == 0 {
		return nil, ErrEmptyTranscript
	}

	start := time.Now()
	merged := transcription.MergeChunks(chunks, transcription.DefaultMergeGap)
	fullText := transcription.TranscriptText(merged, speakers)

	ms, err := g.engine.GenerateSummary(ctx, fullText, speakers)
	if err != nil {
		return nil, fmt.Errorf("summary: generate: %w", err)
	}

	items, err := g.engine.ExtractActionItems(ctx, fullText)
	if err != nil {
		return nil, fmt.Errorf("summary: extract action items: %w", err)
	}

	steps, err := g.engine.SuggestNextSteps(ctx, fullText, ms.SummaryText)
	if err != nil {
		return nil, fmt.Errorf("summary: suggest next steps: %w", err)
	}

	confidence := deriveConfidence(ms, items, len(fullText))
	stages := suggestStages(ms.SummaryText)

	updates := make(map[string]domain.CRMUpdate, len(stages))
	for system, stage := range stages {
		updates[system] = domain.CRMUpdate{
			System: system,
			Stage:  stage,
			Notes:  ms.SummaryText,
		}
	}

	draft := &domain.DraftSummary{
		ID:                  uuid.NewString(),
		BotSessionID:        botSessionID,
		SummaryText:         ms.SummaryText,
		KeyPoints:           ms.KeyPoints,
		Decisions:           ms.Decisions,
		ActionItems:         items,
		NextSteps:           steps,
		SuggestedCRMUpdates: updates,
		ConfidenceScore:     confidence,
		ProcessingTime:      time.Since(start),
		CreatedAt:           time.Now().UTC(),
	}

	if err := g.drafts.SaveDraftSummary(ctx, draft); err != nil {
		return nil, fmt.Errorf("summary: save draft: %w", err)
	}

	slog.Info("draft summary generated",
		"session_id", botSessionID,
		"draft_id", draft.ID,
		"confidence", confidence,
		"action_items", len(items),
		"processing_time", draft.ProcessingTime)

	return draft, nil
}

// deriveConfidence combines the engine's own confidence with quality
// bonuses: transcript length bands (+0.10 over 1000 chars, +0.05 over 500),
// a tenth of the mean action-item confidence, +0.05 for three or more key
// points, and +0.05 when any decision was captured. Capped at 1.0.
func deriveConfidence(ms engine.MeetingSummary, items []domain.ActionItem, transcriptLen int) float64 {
	bonus := 0.0

	switch {
	case transcriptLen > 1000:
		bonus += 0.10
	case transcriptLen > 500:
		bonus += 0.05
	}

	if len(items) > 0 {
		var sum float64
		for _, it := range items {
			sum += it.Confidence
		}
		bonus += (sum / float64(len(items))) * 0.10
	}

	if len(ms.KeyPoints) >= 3 {
		bonus += 0.05
	}
	if len(ms.Decisions) > 0 {
		bonus += 0.05
	}

	score := ms.Confidence + bonus
	if score > 1.0 {
		score = 1.0
	}
	return score
}
