// Package mock provides a scriptable in-memory [platform.Adapter] for tests.
//
// The zero value joins instantly, reports StateConnected, and emits whatever
// chunks the test pushes via [Adapter.EmitChunk]. Error and status behaviour
// is scripted through the public fields before use.
package mock

import (
	"context"
	"sync"

	"github.com/meetwren/wren/pkg/platform"
)

// Adapter is a test double implementing [platform.Adapter].
// All methods are safe for concurrent use.
type Adapter struct {
	// PlatformName overrides the reported name. Defaults to "mock".
	PlatformName string

	// JoinErr, AuthErr, StartErr and LeaveErr are returned by the
	// corresponding methods when non-nil.
	JoinErr  error
	AuthErr  error
	StartErr error
	LeaveErr error

	// StatusFn, when set, computes the connection status per call. It
	// receives the number of prior ConnectionStatus calls for the session,
	// letting tests script status sequences (e.g. one DISCONNECTED probe
	// followed by CONNECTED).
	StatusFn func(sessionID string, call int) platform.ConnectionState

	mu          sync.Mutex
	joined      map[string]bool
	streams     map[string]chan platform.AudioChunk
	statusCalls map[string]int
	calls       map[string]int
}

// New returns a ready-to-use mock adapter.
func New() *Adapter {
	return &Adapter{
		joined:      make(map[string]bool),
		streams:     make(map[string]chan platform.AudioChunk),
		statusCalls: make(map[string]int),
		calls:       make(map[string]int),
	}
}

// Name implements [platform.Adapter].
func (a *Adapter) Name() string {
	if a.PlatformName != "" {
		return a.PlatformName
	}
	return "mock"
}

// Authenticate implements [platform.Adapter].
func (a *Adapter) Authenticate(_ context.Context, _ platform.Credentials) error {
	a.count("Authenticate")
	return a.AuthErr
}

// Join implements [platform.Adapter]. Joining an already-joined session is a no-op.
func (a *Adapter) Join(_ context.Context, _, sessionID string) error {
	a.count("Join")
	if a.JoinErr != nil {
		return a.JoinErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joined[sessionID] = true
	return nil
}

// StartTranscription implements [platform.Adapter].
func (a *Adapter) StartTranscription(_ context.Context, sessionID string) (string, error) {
	a.count("StartTranscription")
	if a.StartErr != nil {
		return "", a.StartErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.streams[sessionID]; !ok {
		a.streams[sessionID] = make(chan platform.AudioChunk, 256)
	}
	return "stream-" + sessionID, nil
}

// Chunks implements [platform.Adapter].
func (a *Adapter) Chunks(sessionID string) (<-chan platform.AudioChunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.streams[sessionID]
	if !ok {
		return nil, &platform.PermanentError{Reason: "mock: transcription not started for " + sessionID}
	}
	return ch, nil
}

// Leave implements [platform.Adapter]. It closes the session's chunk stream.
func (a *Adapter) Leave(_ context.Context, sessionID string) error {
	a.count("Leave")
	if a.LeaveErr != nil {
		return a.LeaveErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.joined, sessionID)
	if ch, ok := a.streams[sessionID]; ok {
		close(ch)
		delete(a.streams, sessionID)
	}
	return nil
}

// ConnectionStatus implements [platform.Adapter].
func (a *Adapter) ConnectionStatus(sessionID string) platform.ConnectionState {
	a.mu.Lock()
	call := a.statusCalls[sessionID]
	a.statusCalls[sessionID]++
	joined := a.joined[sessionID]
	fn := a.StatusFn
	a.mu.Unlock()

	if fn != nil {
		return fn(sessionID, call)
	}
	if joined {
		return platform.StateConnected
	}
	return platform.StateDisconnected
}

// EmitChunk pushes an audio chunk onto the session's stream. It panics if
// StartTranscription has not been called for the session — that ordering is
// exactly what production code must guarantee.
func (a *Adapter) EmitChunk(sessionID string, chunk platform.AudioChunk) {
	a.mu.Lock()
	ch, ok := a.streams[sessionID]
	a.mu.Unlock()
	if !ok {
		panic("mock: EmitChunk before StartTranscription for " + sessionID)
	}
	ch <- chunk
}

// Joined reports whether the session is currently joined.
func (a *Adapter) Joined(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joined[sessionID]
}

// CallCount returns how many times the named method was invoked.
func (a *Adapter) CallCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[method]
}

func (a *Adapter) count(method string) {
	a.mu.Lock()
	a.calls[method]++
	a.mu.Unlock()
}
