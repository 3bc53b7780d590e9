package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meetwren/wren/internal/callbot"
	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/engine"
	"github.com/meetwren/wren/internal/observe"
	"github.com/meetwren/wren/internal/store"
	"github.com/meetwren/wren/internal/store/cache"
	"github.com/meetwren/wren/internal/summary"
	"github.com/meetwren/wren/pkg/platform"
)

// Defaults for the manager tunables.
const (
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectDelayBase   = 2 * time.Second
	DefaultSessionTimeout       = 2 * time.Hour
	DefaultPersistInterval      = 10 * time.Second
)

// Sentinel errors surfaced to callers.
var (
	ErrUnknownSession = errors.New("session: unknown session id")
	ErrMeetingBusy    = errors.New("session: meeting already has an active session")
	ErrNotFailed      = errors.New("session: retry is only allowed from the failed state")
)

// Config tunes the session manager. Zero values take the defaults above;
// pipeline fields fall through to the transcription defaults.
type Config struct {
	MaxReconnectAttempts int
	ReconnectDelayBase   time.Duration
	SessionTimeout       time.Duration
	PersistInterval      time.Duration

	QueueSize       int
	ErrorThreshold  int
	QualityInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelayBase <= 0 {
		c.ReconnectDelayBase = DefaultReconnectDelayBase
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = DefaultPersistInterval
	}
}

// StartRequest describes the session to start.
type StartRequest struct {
	// MeetingID must reference a stored meeting.
	MeetingID string

	// MeetingURL is the conference link the bot joins.
	MeetingURL string

	// Platform optionally overrides URL-based platform detection.
	Platform string

	// BotSessionID optionally fixes the platform-level session id.
	// Defaults to a fresh UUID.
	BotSessionID string
}

// Manager owns all live sessions. It is the single authority for whether a
// session is active.
type Manager struct {
	bots    *callbot.Service
	engine  engine.Engine
	gen     *summary.Generator
	store   store.Store
	cache   *cache.SessionCache // nil disables snapshot caching
	metrics *observe.Metrics
	cfg     Config
	sinks   []Sink

	mu       sync.Mutex
	sessions map[string]*session
	meetings map[string]string // meeting id → live session id
	finished map[string]*Summary
}

// Option customises a [Manager].
type Option func(*Manager)

// WithCache enables Redis snapshot caching.
func WithCache(c *cache.SessionCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithMetrics wires the metric instruments. Defaults to no-op instruments.
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithSink registers a lifecycle event sink.
func WithSink(sink Sink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, sink) }
}

// NewManager creates a session manager.
func NewManager(bots *callbot.Service, eng engine.Engine, gen *summary.Generator, st store.Store, cfg Config, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		bots:     bots,
		engine:   eng,
		gen:      gen,
		store:    st,
		metrics:  observe.Noop(),
		cfg:      cfg,
		sessions: make(map[string]*session),
		meetings: make(map[string]string),
		finished: make(map[string]*Summary),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a session for the meeting and launches its state-machine
// worker. It fails synchronously when the meeting is unknown or already has
// an active session.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	meeting, err := m.store.MeetingByID(ctx, req.MeetingID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("session: start: %w", err)
	}

	botSessionID := req.BotSessionID
	if botSessionID == "" {
		botSessionID = uuid.NewString()
	}

	s := &session{
		id:           uuid.NewString(),
		meeting:      *meeting,
		joinURL:      req.MeetingURL,
		state:        StateInitializing,
		botSessionID: botSessionID,
		startedAt:    time.Now(),
		persisted:    -1,
		lastQuality:  domain.QualityUnknown,
		stopCh:       make(chan struct{}),
		stopOnce:     new(sync.Once),
		disconnectCh: make(chan string, 1),
		workerDone:   make(chan struct{}),
	}
	s.record = domain.CallBotSession{
		ID:               s.id,
		MeetingID:        meeting.ID,
		BotSessionID:     botSessionID,
		ConnectionStatus: domain.ConnConnecting,
		AudioQuality:     domain.QualityUnknown,
	}

	m.mu.Lock()
	if live, busy := m.meetings[meeting.ID]; busy {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: meeting %s (session %s)", ErrMeetingBusy, meeting.ID, live)
	}
	m.sessions[s.id] = s
	m.meetings[meeting.ID] = s.id
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	m.emit(s, EventSessionStarted, "")
	m.cachePut(ctx, s)

	go m.run(s, req)

	slog.Info("session started", "session_id", s.id, "meeting_id", meeting.ID)
	return s.snapshot(), nil
}

// Stop gracefully drives the session to completed, waits for its workers,
// and returns the terminal summary. Idempotent: repeat calls return the
// cached summary of the first.
func (m *Manager) Stop(ctx context.Context, sessionID, reason string) (*Summary, error) {
	m.mu.Lock()
	s, live := m.sessions[sessionID]
	if !live {
		if sum, ok := m.finished[sessionID]; ok {
			m.mu.Unlock()
			return sum, nil
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	m.mu.Unlock()

	if reason == "" {
		reason = "requested"
	}
	s.requestStop(reason)

	select {
	case <-s.workerDone:
	case <-ctx.Done():
		return nil, fmt.Errorf("session: stop %s: %w", sessionID, ctx.Err())
	}

	s.mu.Lock()
	sum := s.summary
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.finished[sessionID] = sum
	m.mu.Unlock()

	return sum, nil
}

// Retry re-enters the lifecycle for a failed session. Allowed only from
// the failed state; the disconnection-driven reconnect loop never calls it.
func (m *Manager) Retry(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	s.mu.Lock()
	if s.state != StateFailed {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, sessionID, state)
	}
	s.state = StateInitializing
	s.retryCount++
	s.reconnects = 0
	s.errMsg = ""
	s.summary = nil
	s.stopCh = make(chan struct{})
	s.stopOnce = new(sync.Once)
	s.workerDone = make(chan struct{})
	retries := s.retryCount
	platformName := s.platformName
	s.mu.Unlock()

	m.mu.Lock()
	m.meetings[s.meeting.ID] = s.id
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("session retry", "session_id", sessionID, "retry_count", retries)
	go m.run(s, StartRequest{
		MeetingID:  s.meeting.ID,
		MeetingURL: s.joinURL,
		Platform:   platformName,
	})
	return nil
}

// Status returns a read-only snapshot of a live session.
func (m *Manager) Status(sessionID string) (Snapshot, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return s.snapshot(), nil
}

// Snapshots lists the snapshots of all live sessions.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	live := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(live))
	for _, s := range live {
		out = append(out, s.snapshot())
	}
	return out
}

// ProcessAudioChunk feeds one audio chunk into the session's transcription
// queue. Producers are never blocked; under pressure the oldest queued
// chunk is dropped.
func (m *Manager) ProcessAudioChunk(sessionID string, data []byte, ts time.Time, duration time.Duration) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	s.mu.Lock()
	p := s.pipeline
	n := s.producedChunks
	s.producedChunks++
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("session: %s is not transcribing yet", sessionID)
	}

	return p.Enqueue(platform.AudioChunk{
		ChunkID:    fmt.Sprintf("%s-%d", sessionID, n),
		Data:       data,
		Timestamp:  ts,
		Duration:   duration,
		SampleRate: 16000,
		Channels:   1,
	})
}

// InjectTranscript appends an externally produced transcript chunk to the
// session, bypassing audio transcription. This serves simulated producer
// pushes and a caller-supplied final transcript on end.
func (m *Manager) InjectTranscript(sessionID string, tc domain.TranscriptChunk) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	s.mu.Lock()
	p := s.pipeline
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("session: %s is not transcribing yet", sessionID)
	}

	if err := p.Inject(tc); err != nil {
		return fmt.Errorf("session: inject transcript into %s: %w", sessionID, err)
	}
	return nil
}

// HandleDisconnection notifies the session's state-machine worker that the
// platform reported a dropped link. Called by the connection monitor.
func (m *Manager) HandleDisconnection(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	select {
	case s.disconnectCh <- "connection lost":
	default:
		// A disconnect is already pending; one notification is enough.
	}
}

// Watched enumerates the sessions the connection monitor should probe:
// those currently connected or transcribing.
func (m *Manager) Watched() []callbot.Watched {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []callbot.Watched
	for _, s := range m.sessions {
		s.mu.Lock()
		probing := (s.state == StateConnected || s.state == StateTranscribing) && s.adapter != nil
		w := callbot.Watched{SessionID: s.id, Adapter: s.adapter}
		s.mu.Unlock()
		if probing {
			out = append(out, w)
		}
	}
	return out
}

func (m *Manager) emit(s *session, typ EventType, detail string) {
	dispatch(m.sinks, Event{
		Type:      typ,
		SessionID: s.id,
		MeetingID: s.meeting.ID,
		State:     s.State(),
		Detail:    detail,
		Time:      time.Now(),
	})
}

// cachePut refreshes the cached snapshot. Cache trouble is logged, never
// propagated.
func (m *Manager) cachePut(ctx context.Context, s *session) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Put(ctx, s.id, s.snapshot()); err != nil {
		slog.Warn("session cache write failed", "session_id", s.id, "error", err)
	}
}

func (m *Manager) cacheDelete(ctx context.Context, s *session) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, s.id); err != nil {
		slog.Warn("session cache delete failed", "session_id", s.id, "error", err)
	}
}
