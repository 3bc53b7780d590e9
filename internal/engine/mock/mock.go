// Package mock provides a deterministic [engine.Engine] for tests, load
// generation, and capacity verification.
//
// Transcription output is a pure function of the chunk's audio bytes:
// the same chunk always yields the same text, speaker, and confidence.
// Speaker identity derives from a signature over the audio, so chunks with
// identical audio characteristics attribute to the same speaker — unlike a
// naive stub that mints a new speaker per call.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/engine"
	"github.com/meetwren/wren/pkg/platform"
)

// Ensure Engine implements the engine.Engine interface.
var _ engine.Engine = (*Engine)(nil)

// Engine is the deterministic mock engine.
// All methods are safe for concurrent use.
type Engine struct {
	// Confidence is the confidence reported on every transcript chunk.
	// Defaults to 0.9.
	Confidence float64

	mu            sync.Mutex
	transcribeErr error
	summaryErr    error
	speakers      map[string]int // signature → speaker ordinal
	calls         map[string]int
}

// New returns a mock engine with default confidence 0.9.
func New() *Engine {
	return &Engine{
		Confidence: 0.9,
		speakers:   make(map[string]int),
		calls:      make(map[string]int),
	}
}

// Name implements [engine.Engine].
func (e *Engine) Name() string { return "mock" }

// TranscribeChunk implements [engine.Engine]. Text is derived from the
// audio signature so repeated transcription of the same chunk is stable.
func (e *Engine) TranscribeChunk(_ context.Context, chunk platform.AudioChunk) (domain.TranscriptChunk, error) {
	e.count("TranscribeChunk")
	if err := e.failure(&e.transcribeErr); err != nil {
		return domain.TranscriptChunk{}, err
	}

	sig := signature(chunk.Data)
	speaker := e.speakerFor(sig)

	return domain.TranscriptChunk{
		Text:       fmt.Sprintf("utterance %s covering %d bytes of audio", sig[:8], len(chunk.Data)),
		SpeakerID:  speaker.SpeakerID,
		StartTime:  chunk.Timestamp,
		EndTime:    chunk.Timestamp.Add(chunk.Duration),
		Confidence: e.Confidence,
		IsFinal:    true,
		Language:   "en",
	}, nil
}

// IdentifySpeaker implements [engine.Engine].
func (e *Engine) IdentifySpeaker(_ context.Context, chunk platform.AudioChunk) (domain.Speaker, error) {
	e.count("IdentifySpeaker")
	return e.speakerFor(signature(chunk.Data)), nil
}

// speakerFor maps an audio signature to a stable per-engine speaker.
func (e *Engine) speakerFor(sig string) domain.Speaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	ord, ok := e.speakers[sig]
	if !ok {
		ord = len(e.speakers)
		e.speakers[sig] = ord
	}
	role := domain.RoleParticipant
	if ord == 0 {
		role = domain.RoleHost
	}
	return domain.Speaker{
		SpeakerID:      fmt.Sprintf("speaker-%d", ord),
		Role:           role,
		Confidence:     e.Confidence,
		VoiceSignature: sig,
	}
}

// GenerateSummary implements [engine.Engine]. The output is deterministic
// in the transcript text so assertions on exact content are possible.
func (e *Engine) GenerateSummary(_ context.Context, fullText string, speakers []domain.Speaker) (engine.MeetingSummary, error) {
	e.count("GenerateSummary")
	if err := e.failure(&e.summaryErr); err != nil {
		return engine.MeetingSummary{}, err
	}

	words := len(strings.Fields(fullText))
	return engine.MeetingSummary{
		SummaryText: fmt.Sprintf("Meeting with %d speakers produced %d transcript words.", len(speakers), words),
		KeyPoints: []string{
			fmt.Sprintf("%d participants spoke", len(speakers)),
			fmt.Sprintf("%d words transcribed", words),
			"transcript processed by mock engine",
		},
		Decisions:  nil,
		Confidence: e.Confidence,
	}, nil
}

// ExtractActionItems implements [engine.Engine]. Lines containing "action:"
// become action items, so tests can seed them via the transcript.
func (e *Engine) ExtractActionItems(_ context.Context, fullText string) ([]domain.ActionItem, error) {
	e.count("ExtractActionItems")
	var items []domain.ActionItem
	for _, line := range strings.Split(fullText, "\n") {
		lower := strings.ToLower(line)
		idx := strings.Index(lower, "action:")
		if idx < 0 {
			continue
		}
		items = append(items, domain.ActionItem{
			Description: strings.TrimSpace(line[idx+len("action:"):]),
			Priority:    domain.PriorityMedium,
			Confidence:  e.Confidence,
			SourceText:  strings.TrimSpace(line),
		})
	}
	return items, nil
}

// SuggestNextSteps implements [engine.Engine].
func (e *Engine) SuggestNextSteps(_ context.Context, _, summaryText string) ([]string, error) {
	e.count("SuggestNextSteps")
	if summaryText == "" {
		return nil, nil
	}
	return []string{"Schedule a follow-up call", "Circulate the meeting summary"}, nil
}

// Close implements [engine.Engine].
func (e *Engine) Close() error { return nil }

// SetTranscribeErr makes every subsequent TranscribeChunk call fail with
// err until cleared with nil. Lets tests drive the error-threshold path
// while the pipeline is running.
func (e *Engine) SetTranscribeErr(err error) {
	e.mu.Lock()
	e.transcribeErr = err
	e.mu.Unlock()
}

// SetSummaryErr makes every subsequent GenerateSummary call fail with err
// until cleared with nil.
func (e *Engine) SetSummaryErr(err error) {
	e.mu.Lock()
	e.summaryErr = err
	e.mu.Unlock()
}

// failure reads a scripted error field under the lock.
func (e *Engine) failure(field *error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *field
}

// CallCount returns how many times the named method was invoked.
func (e *Engine) CallCount(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

func (e *Engine) count(method string) {
	e.mu.Lock()
	e.calls[method]++
	e.mu.Unlock()
}

// signature hashes audio bytes into a stable hex voice signature.
func signature(audio []byte) string {
	sum := sha256.Sum256(audio)
	return hex.EncodeToString(sum[:])
}
