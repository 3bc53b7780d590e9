// Package transcription runs the per-session audio pipeline: audio chunks
// from the platform adapter are queued, transcribed by the engine, corrected
// against the meeting roster, attributed to speakers, and appended to an
// ordered transcript.
//
// The pipeline is deliberately lossy under pressure. The queue is bounded
// and drops the oldest chunk when full; losing two seconds of audio is
// preferable to unbounded memory growth or backpressure on the media socket.
package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/engine"
	"github.com/meetwren/wren/internal/transcript"
	"github.com/meetwren/wren/pkg/platform"
)

// Defaults for the pipeline tunables.
const (
	DefaultQueueSize       = 100
	DefaultErrorThreshold  = 5
	DefaultQualityInterval = 10 * time.Second
)

// ErrInactive is returned by Enqueue after the pipeline deactivated itself
// or was stopped.
var ErrInactive = fmt.Errorf("transcription: pipeline is inactive")

// Observer receives pipeline lifecycle notifications. All methods may be
// called from pipeline goroutines and must not block. Any field may be nil.
type Observer struct {
	// OnChunk fires after a transcribed chunk is appended to the transcript.
	OnChunk func(chunk domain.TranscriptChunk)

	// OnDrop fires when a queued audio chunk is discarded to make room.
	OnDrop func(chunkID string)

	// OnError fires on every transcription failure.
	OnError func(err error)

	// OnDeactivate fires once when accumulated failures cross the error
	// threshold and the pipeline stops transcribing.
	OnDeactivate func(errorCount int)

	// OnQuality fires after each periodic audio quality evaluation.
	OnQuality func(quality domain.AudioQuality, meanConfidence float64)
}

// Config configures a [Pipeline].
type Config struct {
	// SessionID labels log lines and is required.
	SessionID string

	// Engine transcribes audio. Required.
	Engine engine.Engine

	// Corrector aligns transcribed text with the roster. Optional.
	Corrector *transcript.Corrector

	// Roster lists attendee names and other proper nouns expected in the
	// meeting. Only used when Corrector is set.
	Roster []string

	// QueueSize bounds the audio queue. Default: 100.
	QueueSize int

	// ErrorThreshold deactivates the pipeline once this many transcription
	// failures have accumulated over the session. Default: 5.
	ErrorThreshold int

	// QualityInterval is the cadence of audio quality evaluation.
	// Default: 10s.
	QualityInterval time.Duration

	// Observer receives lifecycle notifications. Optional.
	Observer Observer
}

// Pipeline is the per-session transcription pipeline. Create one with
// [New], feed it with [Pipeline.Enqueue], and read results with
// [Pipeline.Chunks]. A Pipeline must not be reused after Stop.
type Pipeline struct {
	cfg   Config
	queue chan platform.AudioChunk

	mu           sync.Mutex
	chunks       []domain.TranscriptChunk
	speakers     map[string]domain.Speaker
	speakerOrder []string
	nextChunkID  int
	errorCount   int
	active       bool
	quality      domain.AudioQuality
	qualityFrom  int // index of the first chunk in the current quality window

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New creates a pipeline; zero-valued tunables get defaults.
func New(cfg Config) (*Pipeline, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("transcription: session id must not be empty")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("transcription: engine must not be nil")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = DefaultErrorThreshold
	}
	if cfg.QualityInterval <= 0 {
		cfg.QualityInterval = DefaultQualityInterval
	}

	return &Pipeline{
		cfg:      cfg,
		queue:    make(chan platform.AudioChunk, cfg.QueueSize),
		speakers: make(map[string]domain.Speaker),
		active:   true,
		quality:  domain.QualityUnknown,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the processing worker and the quality monitor.
// ctx cancellation stops both, as does [Pipeline.Stop].
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.processLoop(ctx)
	go p.qualityLoop(ctx)
}

// Stop shuts the pipeline down and waits for its workers. Idempotent.
func (p *Pipeline) Stop() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()

	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

// Active reports whether the pipeline is still transcribing.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Enqueue hands an audio chunk to the pipeline. When the queue is full the
// oldest queued chunk is dropped to make room, so Enqueue never blocks on a
// slow engine. Returns [ErrInactive] once the pipeline has deactivated.
func (p *Pipeline) Enqueue(chunk platform.AudioChunk) error {
	if !p.Active() {
		return ErrInactive
	}

	select {
	case p.queue <- chunk:
		return nil
	default:
	}

	// Queue full: evict the oldest entry, then retry once. A concurrent
	// worker dequeue between the eviction and the retry just means the
	// queue has room anyway.
	select {
	case dropped := <-p.queue:
		slog.Warn("audio queue full, dropping oldest chunk",
			"session_id", p.cfg.SessionID,
			"dropped_chunk", dropped.ChunkID)
		if p.cfg.Observer.OnDrop != nil {
			p.cfg.Observer.OnDrop(dropped.ChunkID)
		}
	default:
	}

	select {
	case p.queue <- chunk:
	default:
		if p.cfg.Observer.OnDrop != nil {
			p.cfg.Observer.OnDrop(chunk.ChunkID)
		}
	}
	return nil
}

// Inject appends an already-transcribed chunk, bypassing the engine and the
// queue. This is the path for external transcript pushes and for a caller-
// supplied final transcript on session end. Roster correction still applies.
// Returns [ErrInactive] once the pipeline has deactivated.
func (p *Pipeline) Inject(tc domain.TranscriptChunk) error {
	if p.cfg.Corrector != nil && len(p.cfg.Roster) > 0 {
		tc.Text, _ = p.cfg.Corrector.Correct(tc.Text, p.cfg.Roster)
	}
	if tc.Text == "" {
		return nil
	}
	if tc.StartTime.IsZero() {
		tc.StartTime = time.Now()
	}
	if tc.EndTime.Before(tc.StartTime) {
		tc.EndTime = tc.StartTime
	}

	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return ErrInactive
	}
	speaker := domain.Speaker{SpeakerID: tc.SpeakerID, Role: domain.RoleUnknown}
	if speaker.SpeakerID == "" {
		speaker.SpeakerID = "speaker-0"
	}
	p.registerSpeakerLocked(speaker)
	tc.ChunkID = p.nextChunkID
	tc.SpeakerID = speaker.SpeakerID
	tc.IsFinal = true
	p.nextChunkID++
	p.chunks = append(p.chunks, tc)
	p.mu.Unlock()

	if p.cfg.Observer.OnChunk != nil {
		p.cfg.Observer.OnChunk(tc)
	}
	return nil
}

// Chunks returns transcript chunks with ChunkID greater than since, in
// order. Pass a negative since for the full transcript.
func (p *Pipeline) Chunks(since int) []domain.TranscriptChunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.TranscriptChunk, 0, len(p.chunks))
	for _, c := range p.chunks {
		if c.ChunkID > since {
			out = append(out, c)
		}
	}
	return out
}

// Speakers returns the session's identified speakers in discovery order.
func (p *Pipeline) Speakers() []domain.Speaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Speaker, 0, len(p.speakerOrder))
	for _, id := range p.speakerOrder {
		out = append(out, p.speakers[id])
	}
	return out
}

// Quality returns the most recent audio quality grade.
func (p *Pipeline) Quality() domain.AudioQuality {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quality
}

// processLoop consumes the queue until the pipeline stops.
func (p *Pipeline) processLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case chunk := <-p.queue:
			if !p.Active() {
				// Deactivated mid-flight: drain without engine calls so the
				// producer never blocks.
				continue
			}
			p.process(ctx, chunk)
		}
	}
}

// process runs one chunk through transcription, correction, and speaker
// attribution.
func (p *Pipeline) process(ctx context.Context, chunk platform.AudioChunk) {
	tc, err := p.cfg.Engine.TranscribeChunk(ctx, chunk)
	if err != nil {
		p.recordFailure(err)
		return
	}

	speaker, err := p.cfg.Engine.IdentifySpeaker(ctx, chunk)
	if err != nil {
		// Attribution failure is not a transcription failure; keep the text.
		slog.Debug("speaker identification failed",
			"session_id", p.cfg.SessionID,
			"chunk", chunk.ChunkID,
			"error", err)
		speaker = domain.Speaker{SpeakerID: tc.SpeakerID, Role: domain.RoleUnknown}
	}

	if p.cfg.Corrector != nil && len(p.cfg.Roster) > 0 {
		corrected, corrections := p.cfg.Corrector.Correct(tc.Text, p.cfg.Roster)
		if len(corrections) > 0 {
			slog.Debug("roster corrections applied",
				"session_id", p.cfg.SessionID,
				"chunk", chunk.ChunkID,
				"count", len(corrections))
		}
		tc.Text = corrected
	}

	p.mu.Lock()

	if tc.Text == "" {
		// Silence or filtered noise; nothing to append.
		p.mu.Unlock()
		return
	}

	p.registerSpeakerLocked(speaker)
	tc.ChunkID = p.nextChunkID
	tc.SpeakerID = speaker.SpeakerID
	tc.IsFinal = true
	p.nextChunkID++
	p.chunks = append(p.chunks, tc)
	p.mu.Unlock()

	if p.cfg.Observer.OnChunk != nil {
		p.cfg.Observer.OnChunk(tc)
	}
}

// registerSpeakerLocked records a newly seen speaker. The first speaker of
// a session is treated as the host when the engine did not claim otherwise.
// Must be called with p.mu held.
func (p *Pipeline) registerSpeakerLocked(sp domain.Speaker) {
	if sp.SpeakerID == "" {
		sp.SpeakerID = "speaker-0"
	}
	if _, seen := p.speakers[sp.SpeakerID]; seen {
		return
	}
	if len(p.speakerOrder) == 0 && sp.Role == domain.RoleUnknown {
		sp.Role = domain.RoleHost
	}
	p.speakers[sp.SpeakerID] = sp
	p.speakerOrder = append(p.speakerOrder, sp.SpeakerID)
}

// recordFailure counts a transcription error and deactivates the pipeline
// when the accumulated count reaches the threshold. The count never resets:
// a chronically flaky engine deactivates the session even when some chunks
// get through between failures.
func (p *Pipeline) recordFailure(err error) {
	if p.cfg.Observer.OnError != nil {
		p.cfg.Observer.OnError(err)
	}

	p.mu.Lock()
	p.errorCount++
	count := p.errorCount
	deactivated := false
	if p.active && count >= p.cfg.ErrorThreshold {
		p.active = false
		deactivated = true
	}
	p.mu.Unlock()

	slog.Warn("transcription failed",
		"session_id", p.cfg.SessionID,
		"error_count", count,
		"error", err)

	if deactivated {
		slog.Error("transcription deactivated after repeated failures",
			"session_id", p.cfg.SessionID,
			"error_count", count)
		if p.cfg.Observer.OnDeactivate != nil {
			p.cfg.Observer.OnDeactivate(count)
		}
	}
}

// qualityLoop grades audio quality over the chunks transcribed since the
// previous tick.
func (p *Pipeline) qualityLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.QualityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evaluateQuality()
		}
	}
}

// evaluateQuality computes the mean confidence of the current window and
// publishes the resulting grade.
func (p *Pipeline) evaluateQuality() {
	p.mu.Lock()
	window := p.chunks[p.qualityFrom:]
	if len(window) == 0 {
		p.mu.Unlock()
		return
	}

	var sum float64
	for _, c := range window {
		sum += c.Confidence
	}
	mean := sum / float64(len(window))
	grade := domain.GradeConfidence(mean)
	p.quality = grade
	p.qualityFrom = len(p.chunks)
	p.mu.Unlock()

	if grade == domain.QualityPoor || grade == domain.QualityUnusable {
		slog.Warn("audio quality degraded",
			"session_id", p.cfg.SessionID,
			"quality", grade,
			"mean_confidence", mean)
	}
	if p.cfg.Observer.OnQuality != nil {
		p.cfg.Observer.OnQuality(grade, mean)
	}
}
