// Package session implements the per-call lifecycle core: the state
// machine that takes a bot from joining a meeting through transcription to
// a draft summary, with reconnection, timeout, and partial-progress
// persistence along the way.
//
// One state-machine worker runs per active session and is the sole mutator
// of that session's state. Everything else — the connection monitor, the
// HTTP layer, the audio producer — communicates with it through the
// manager's methods.
package session

import (
	"sync"
	"time"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/transcription"
	"github.com/meetwren/wren/pkg/platform"
)

// Summary is the terminal result of one session, returned by
// [Manager.Stop] and cached for repeat calls.
type Summary struct {
	SessionID    string               `json:"session_id"`
	State        State                `json:"state"`
	Reason       string               `json:"reason"`
	ChunkCount   int                  `json:"chunk_count"`
	AudioQuality domain.AudioQuality  `json:"audio_quality"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Draft        *domain.DraftSummary `json:"draft,omitempty"`
}

// Snapshot is a read-only view of a session, served by [Manager.Status]
// and cached under session:{id}.
type Snapshot struct {
	SessionID         string              `json:"session_id"`
	MeetingID         string              `json:"meeting_id"`
	BotSessionID      string              `json:"bot_session_id"`
	Platform          string              `json:"platform"`
	State             State               `json:"state"`
	AudioQuality      domain.AudioQuality `json:"audio_quality"`
	ReconnectAttempts int                 `json:"reconnect_attempts"`
	RetryCount        int                 `json:"retry_count"`
	ChunkCount        int                 `json:"chunk_count"`
	StartedAt         time.Time           `json:"started_at"`
	ErrorMessage      string              `json:"error_message,omitempty"`
}

// session is the live per-call state. The state-machine worker is the only
// writer of state; other goroutines read through the mutex.
type session struct {
	id      string
	meeting domain.Meeting
	joinURL string

	mu             sync.Mutex
	state          State
	botSessionID   string
	platformName   string
	reconnects     int
	retryCount     int
	producedChunks int
	errMsg         string
	stopReason     string
	startedAt      time.Time
	joinTime       time.Time
	persisted      int // highest chunk id written to the store, -1 before the first flush
	record         domain.CallBotSession
	summary        *Summary

	adapter     platform.Adapter
	pipeline    *transcription.Pipeline
	pipeOn      bool
	pumpOn      bool
	lastQuality domain.AudioQuality

	stopCh       chan struct{}
	stopOnce     *sync.Once
	disconnectCh chan string
	workerDone   chan struct{}
}

// State returns the session's current lifecycle state.
func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState moves the session along a lifecycle edge. Called only from the
// state-machine worker.
func (s *session) setState(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

// requestStop records the stop reason and releases the worker exactly once.
func (s *session) requestStop(reason string) {
	s.mu.Lock()
	if s.stopReason == "" {
		s.stopReason = reason
	}
	once := s.stopOnce
	ch := s.stopCh
	s.mu.Unlock()
	once.Do(func() { close(ch) })
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:         s.id,
		MeetingID:         s.meeting.ID,
		BotSessionID:      s.botSessionID,
		Platform:          s.platformName,
		State:             s.state,
		AudioQuality:      s.lastQuality,
		ReconnectAttempts: s.reconnects,
		RetryCount:        s.retryCount,
		StartedAt:         s.startedAt,
		ErrorMessage:      s.errMsg,
	}
	if snap.AudioQuality == "" {
		snap.AudioQuality = domain.QualityUnknown
	}
	if s.pipeline != nil {
		snap.ChunkCount = len(s.pipeline.Chunks(-1))
	}
	return snap
}
