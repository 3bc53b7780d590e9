package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/transcript"
	"github.com/meetwren/wren/internal/transcription"
	"github.com/meetwren/wren/pkg/platform"
)

// maxReconnectMessage is the terminal error recorded when the retry budget
// runs out.
const maxReconnectMessage = "Max reconnection attempts exceeded"

// run is the state-machine worker: the sole mutator of the session's state.
// It loops over lifecycle steps until a terminal state, then finalizes.
func (m *Manager) run(s *session, req StartRequest) {
	s.mu.Lock()
	done := s.workerDone
	stop := s.stopCh
	s.mu.Unlock()
	defer close(done)

	ctx := context.Background()

	for {
		state := s.State()
		if !state.Terminal() && m.expired(s) {
			m.complete(s, "timeout")
			continue
		}

		switch state {
		case StateInitializing:
			m.stepInitialize(s, req)
		case StateJoining:
			m.stepJoin(ctx, s)
		case StateConnected:
			m.stepStartTranscription(ctx, s, stop)
		case StateTranscribing:
			m.monitorLoop(ctx, s, stop)
		case StateDisconnected:
			m.stepReconnect(s, stop)
		case StateCompleted, StateFailed:
			m.finalize(ctx, s)
			return
		}
	}
}

// expired reports whether the session has outlived its wall-clock cap.
func (m *Manager) expired(s *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startedAt) > m.cfg.SessionTimeout
}

// stepInitialize resolves the platform adapter, claims the bot session id,
// and builds the transcription pipeline.
func (m *Manager) stepInitialize(s *session, req StartRequest) {
	adapter, err := m.bots.Resolve(s.joinURL, req.Platform)
	if err != nil {
		m.fail(s, err)
		return
	}
	s.mu.Lock()
	botSessionID := s.botSessionID
	s.mu.Unlock()

	if err := m.bots.Acquire(adapter.Name(), botSessionID); err != nil {
		m.fail(s, err)
		return
	}

	pipe, err := transcription.New(transcription.Config{
		SessionID:       s.id,
		Engine:          m.engine,
		Corrector:       transcript.NewCorrector(),
		Roster:          s.meeting.Attendees,
		QueueSize:       m.cfg.QueueSize,
		ErrorThreshold:  m.cfg.ErrorThreshold,
		QualityInterval: m.cfg.QualityInterval,
		Observer:        m.pipelineObserver(s),
	})
	if err != nil {
		m.bots.Release(adapter.Name(), botSessionID)
		m.fail(s, err)
		return
	}

	s.mu.Lock()
	s.adapter = adapter
	s.platformName = adapter.Name()
	s.record.Platform = adapter.Name()
	s.pipeline = pipe
	s.pipeOn = false
	s.pumpOn = false
	s.state = StateJoining
	s.mu.Unlock()

	m.emit(s, EventSessionInitialized, adapter.Name())
}

// pipelineObserver bridges pipeline notifications into metrics and the
// session's quality field. Callbacks run on pipeline goroutines.
func (m *Manager) pipelineObserver(s *session) transcription.Observer {
	ctx := context.Background()
	return transcription.Observer{
		OnChunk: func(chunk domain.TranscriptChunk) {
			m.metrics.ChunksProcessed.Add(ctx, 1)
			m.metrics.TranscriptionLatency.Record(ctx, time.Since(chunk.EndTime).Seconds())
		},
		OnDrop: func(string) {
			m.metrics.ChunksDropped.Add(ctx, 1)
		},
		OnError: func(error) {
			m.metrics.EngineErrors.Add(ctx, 1)
		},
		OnDeactivate: func(failures int) {
			slog.Error("transcription deactivated",
				"session_id", s.id, "error_count", failures)
		},
		OnQuality: func(quality domain.AudioQuality, mean float64) {
			s.mu.Lock()
			s.lastQuality = quality
			s.mu.Unlock()
		},
	}
}

// stepJoin attaches the bot to the meeting.
func (m *Manager) stepJoin(ctx context.Context, s *session) {
	s.mu.Lock()
	adapter := s.adapter
	botSessionID := s.botSessionID
	s.mu.Unlock()

	err := adapter.Join(ctx, s.joinURL, botSessionID)
	if err == nil {
		s.mu.Lock()
		s.state = StateConnected
		if s.joinTime.IsZero() {
			s.joinTime = time.Now()
			s.record.JoinTime = s.joinTime
		}
		s.record.ConnectionStatus = domain.ConnConnected
		s.mu.Unlock()
		m.emit(s, EventMeetingJoined, "")
		return
	}

	if platform.Recoverable(err) {
		s.mu.Lock()
		s.state = StateDisconnected
		s.errMsg = err.Error()
		s.record.ConnectionStatus = domain.ConnReconnecting
		s.mu.Unlock()
		m.emit(s, EventErrorRecoverable, err.Error())
		return
	}
	m.fail(s, err)
}

// stepStartTranscription starts audio capture and launches the pump that
// feeds adapter chunks into the pipeline.
func (m *Manager) stepStartTranscription(ctx context.Context, s *session, stop <-chan struct{}) {
	s.mu.Lock()
	adapter := s.adapter
	botSessionID := s.botSessionID
	s.mu.Unlock()

	streamID, err := adapter.StartTranscription(ctx, botSessionID)
	if err != nil {
		m.fail(s, err)
		return
	}

	s.mu.Lock()
	if !s.pipeOn {
		s.pipeline.Start(ctx)
		s.pipeOn = true
	}
	startPump := !s.pumpOn
	if startPump {
		s.pumpOn = true
	}
	s.state = StateTranscribing
	s.record.ConnectionStatus = domain.ConnTranscribing
	s.mu.Unlock()

	if startPump {
		go m.pump(s, stop)
	}

	m.emit(s, EventTranscriptionStarted, streamID)
}

// pump moves audio chunks from the adapter stream into the pipeline until
// the stream closes, the pipeline deactivates, or the session stops.
func (m *Manager) pump(s *session, stop <-chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.pumpOn = false
		s.mu.Unlock()
	}()

	s.mu.Lock()
	adapter := s.adapter
	botSessionID := s.botSessionID
	pipe := s.pipeline
	s.mu.Unlock()

	ch, err := adapter.Chunks(botSessionID)
	if err != nil {
		slog.Warn("audio stream unavailable", "session_id", s.id, "error", err)
		return
	}

	for {
		select {
		case <-stop:
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if err := pipe.Enqueue(chunk); errors.Is(err, transcription.ErrInactive) {
				return
			}
		}
	}
}

// monitorLoop runs while transcribing: it persists partial progress on a
// cadence and leaves the state on stop, timeout, meeting end, or a
// reported disconnect.
func (m *Manager) monitorLoop(ctx context.Context, s *session, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			m.persistProgress(ctx, s)
			m.complete(s, "")
			return

		case reason := <-s.disconnectCh:
			s.mu.Lock()
			s.state = StateDisconnected
			s.record.ConnectionStatus = domain.ConnReconnecting
			s.mu.Unlock()
			m.emit(s, EventErrorRecoverable, reason)
			return

		case <-ticker.C:
			m.persistProgress(ctx, s)
			m.cachePut(ctx, s)
			if m.expired(s) {
				m.complete(s, "timeout")
				return
			}
			if end := s.meeting.EndTime; !end.IsZero() && time.Now().After(end) {
				m.complete(s, "meeting_ended")
				return
			}
		}
	}
}

// stepReconnect spends one unit of the retry budget: exponential backoff,
// then back to joining. An exhausted budget is fatal.
func (m *Manager) stepReconnect(s *session, stop <-chan struct{}) {
	s.mu.Lock()
	n := s.reconnects
	if n >= m.cfg.MaxReconnectAttempts {
		s.mu.Unlock()
		m.fail(s, errors.New(maxReconnectMessage))
		return
	}
	s.reconnects = n + 1
	s.record.ReconnectAttempts = s.reconnects
	attempt := s.reconnects
	s.mu.Unlock()

	delay := m.cfg.ReconnectDelayBase << n
	m.metrics.ReconnectAttempts.Add(context.Background(), 1)
	m.emit(s, EventSessionReconnecting, delay.String())
	slog.Info("reconnecting", "session_id", s.id, "attempt", attempt, "backoff", delay)

	select {
	case <-stop:
		m.complete(s, "")
	case <-time.After(delay):
		s.setState(StateJoining)
	}
}

// complete transitions to the completed terminal state. reason overrides an
// unset stop reason only.
func (m *Manager) complete(s *session, reason string) {
	s.mu.Lock()
	if reason != "" && s.stopReason == "" {
		s.stopReason = reason
	}
	if s.stopReason == "" {
		s.stopReason = "requested"
	}
	s.state = StateCompleted
	s.mu.Unlock()
}

// fail transitions to the failed terminal state.
func (m *Manager) fail(s *session, err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.errMsg = err.Error()
	s.record.ErrorMessage = err.Error()
	s.record.ConnectionStatus = domain.ConnError
	s.mu.Unlock()
	m.emit(s, EventErrorFatal, err.Error())
	slog.Error("session failed", "session_id", s.id, "error", err)
}

// persistProgress appends new transcript chunks, speakers, and quality to
// the store. Writes are append-only on the raw transcript; persistence
// failures are logged and never stall the session.
func (m *Manager) persistProgress(ctx context.Context, s *session) {
	s.mu.Lock()
	pipe := s.pipeline
	since := s.persisted
	s.mu.Unlock()
	if pipe == nil {
		return
	}

	chunks := pipe.Chunks(since)
	speakers := pipe.Speakers()
	quality := pipe.Quality()

	if len(chunks) > 0 {
		if err := m.store.AppendChunks(ctx, s.id, chunks); err != nil {
			slog.Warn("transcript persist failed", "session_id", s.id, "error", err)
			return
		}
	}
	if len(speakers) > 0 {
		if err := m.store.SaveSpeakers(ctx, s.id, speakers); err != nil {
			slog.Warn("speaker persist failed", "session_id", s.id, "error", err)
		}
	}

	s.mu.Lock()
	if len(chunks) > 0 {
		s.persisted = chunks[len(chunks)-1].ChunkID
		s.record.RawTranscript += transcription.TranscriptText(chunks, speakers)
	}
	mapping := make(map[string]string, len(speakers))
	for _, sp := range speakers {
		mapping[sp.SpeakerID] = sp.Name
	}
	if len(mapping) > 0 {
		s.record.SpeakerMapping = mapping
	}
	if quality != "" {
		s.record.AudioQuality = quality
		s.lastQuality = quality
	}
	record := s.record
	s.mu.Unlock()

	if err := m.store.SaveSession(ctx, &record); err != nil {
		slog.Warn("session persist failed", "session_id", s.id, "error", err)
	}
}

// finalize flushes remaining progress, detaches from the platform, builds
// the terminal summary, and (on completion) generates the draft summary.
func (m *Manager) finalize(ctx context.Context, s *session) {
	s.mu.Lock()
	pipe := s.pipeline
	pipeOn := s.pipeOn
	adapter := s.adapter
	platformName := s.platformName
	botSessionID := s.botSessionID
	s.mu.Unlock()

	if pipe != nil && pipeOn {
		pipe.Stop()
	}
	m.persistProgress(ctx, s)

	if adapter != nil {
		if err := adapter.Leave(ctx, botSessionID); err != nil {
			slog.Warn("bot leave failed", "session_id", s.id, "error", err)
		}
	}
	if platformName != "" {
		m.bots.Release(platformName, botSessionID)
	}

	var chunks []domain.TranscriptChunk
	var speakers []domain.Speaker
	if pipe != nil {
		chunks = pipe.Chunks(-1)
		speakers = pipe.Speakers()
	}

	s.mu.Lock()
	s.record.LeaveTime = time.Now()
	if s.record.LeaveTime.Before(s.record.JoinTime) {
		s.record.LeaveTime = s.record.JoinTime
	}
	if s.state == StateFailed {
		s.record.ConnectionStatus = domain.ConnError
	} else {
		s.record.ConnectionStatus = domain.ConnDisconnected
	}
	sum := &Summary{
		SessionID:    s.id,
		State:        s.state,
		Reason:       s.stopReason,
		ChunkCount:   len(chunks),
		AudioQuality: s.record.AudioQuality,
		ErrorMessage: s.errMsg,
	}
	completed := s.state == StateCompleted
	record := s.record
	s.mu.Unlock()

	if err := m.store.SaveSession(ctx, &record); err != nil {
		slog.Warn("final session persist failed", "session_id", s.id, "error", err)
	}

	if completed && len(chunks) > 0 && m.gen != nil {
		draft, err := m.gen.Generate(ctx, s.id, chunks, speakers)
		if err != nil {
			// The transcript survives; only the draft is lost.
			slog.Error("draft summary generation failed", "session_id", s.id, "error", err)
		} else {
			sum.Draft = draft
		}
	}

	meeting := s.meeting
	if completed {
		meeting.Status = domain.MeetingCompleted
	} else {
		meeting.Status = domain.MeetingFailed
	}
	if err := m.store.SaveMeeting(ctx, &meeting); err != nil {
		slog.Warn("meeting status persist failed", "meeting_id", meeting.ID, "error", err)
	}

	s.mu.Lock()
	s.summary = sum
	s.mu.Unlock()

	m.cacheDelete(ctx, s)
	m.metrics.ActiveSessions.Add(ctx, -1)

	m.mu.Lock()
	if m.meetings[s.meeting.ID] == s.id {
		delete(m.meetings, s.meeting.ID)
	}
	m.mu.Unlock()

	m.emit(s, EventSessionStopped, sum.Reason)
	slog.Info("session stopped",
		"session_id", s.id,
		"state", sum.State,
		"reason", sum.Reason,
		"chunks", sum.ChunkCount,
		"quality", sum.AudioQuality)
}
