// Package engine defines the transcription-engine interface and its
// supporting types.
//
// An Engine converts meeting audio into transcript fragments with speaker
// attribution, and later turns the accumulated transcript into summary
// artifacts. Two implementations ship with Wren: a deterministic mock used
// by tests and simulations, and a model-backed engine that calls remote
// speech and language models.
//
// This package lives under internal/ because it encapsulates
// application-private processing logic.
package engine

import (
	"context"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/pkg/platform"
)

// MeetingSummary is the engine's raw summarisation output, before the
// summary generator derives the final confidence score and CRM suggestions.
type MeetingSummary struct {
	// SummaryText is the prose summary of the meeting.
	SummaryText string

	// KeyPoints are the main discussion points, most important first.
	KeyPoints []string

	// Decisions lists decisions the participants explicitly reached.
	Decisions []string

	// Confidence is the engine's own confidence in the summary (0.0–1.0).
	Confidence float64
}

// Engine is the pluggable transcription and summarisation backend.
//
// TranscribeChunk and IdentifySpeaker are called from the per-session
// processing worker; the summary methods run once, after the session ends.
// All methods must be safe for concurrent use across sessions.
type Engine interface {
	// Name returns the stable registry name of the engine ("mock", "model").
	Name() string

	// TranscribeChunk converts one audio chunk into a transcript fragment.
	// ChunkID assignment and ordering are the caller's responsibility; the
	// engine fills text, speaker, timing, confidence, and language.
	TranscribeChunk(ctx context.Context, chunk platform.AudioChunk) (domain.TranscriptChunk, error)

	// IdentifySpeaker attributes the chunk's audio to a speaker. The same
	// audio characteristics must map to the same speaker id within a session.
	IdentifySpeaker(ctx context.Context, chunk platform.AudioChunk) (domain.Speaker, error)

	// GenerateSummary produces the meeting summary from the full transcript
	// text and the identified speakers.
	GenerateSummary(ctx context.Context, fullText string, speakers []domain.Speaker) (MeetingSummary, error)

	// ExtractActionItems pulls follow-up tasks out of the transcript.
	ExtractActionItems(ctx context.Context, fullText string) ([]domain.ActionItem, error)

	// SuggestNextSteps proposes next steps given the transcript and its summary.
	SuggestNextSteps(ctx context.Context, fullText, summaryText string) ([]string, error)

	// Close releases engine resources. Safe to call more than once.
	Close() error
}
