// Package platform defines the interfaces and types for conference-platform
// connectivity within Wren.
//
// The central abstraction is [Adapter]: one implementation per conferencing
// vendor (Google Meet, Microsoft Teams, Zoom) that authenticates a bot
// participant, joins a meeting, streams audio chunks, and leaves. The
// interface is intentionally narrow so the call-bot service stays decoupled
// from vendor SDK details.
//
// This package lives under pkg/ because external code (third-party platform
// adapters) is expected to implement [Adapter].
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionState describes an adapter's view of a bot session link.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateTranscribing ConnectionState = "transcribing"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)

// AudioChunk is a finite segment of captured meeting audio. Chunks are
// immutable once emitted; their lifetime ends when the transcription queue
// drops or consumes them.
type AudioChunk struct {
	// ChunkID identifies the chunk within its session.
	ChunkID string

	// Data is raw PCM audio (little-endian int16 samples).
	Data []byte

	// Timestamp marks when capture of this chunk started.
	Timestamp time.Time

	// Duration is the audible length of the chunk.
	Duration time.Duration

	// SampleRate in Hz (16000 for STT-optimised mono, 48000 for Opus decode output).
	SampleRate int

	// Channels is the number of interleaved audio channels.
	Channels int
}

// Credentials carries per-platform bot authentication material.
type Credentials struct {
	// ClientID identifies the bot application with the vendor.
	ClientID string

	// Secret is the vendor API secret or token.
	Secret string

	// TenantID scopes authentication for vendors that require it (Teams).
	TenantID string
}

// Adapter is the contract every conference-platform integration implements.
//
// Join is idempotent per session id: joining a session that is already
// joined is a no-op. StartTranscription must be called before any audio is
// emitted on [Adapter.Chunks].
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Name returns the stable registry name of the platform ("meet", "teams", "zoom").
	Name() string

	// Authenticate validates creds with the vendor. Platforms that embed
	// authentication in Join may no-op.
	Authenticate(ctx context.Context, creds Credentials) error

	// Join attaches the bot participant to the meeting at meetingURL under
	// the given session id.
	Join(ctx context.Context, meetingURL, sessionID string) error

	// StartTranscription begins audio capture for the session and returns the
	// vendor stream id. Audio chunks become available on Chunks afterwards.
	StartTranscription(ctx context.Context, sessionID string) (streamID string, err error)

	// Chunks returns the audio stream for a session that has started
	// transcription. The channel is closed when the bot leaves or the
	// connection drops.
	Chunks(sessionID string) (<-chan AudioChunk, error)

	// Leave detaches the bot from the meeting and releases session resources.
	// Safe to call on an unknown session; returns nil.
	Leave(ctx context.Context, sessionID string) error

	// ConnectionStatus reports the adapter's current view of the session link.
	// Unknown sessions report StateDisconnected.
	ConnectionStatus(sessionID string) ConnectionState
}

// PermanentError marks a failure that must not be retried: auth denial,
// unsupported platform, capacity rejection. Adapters wrap such failures so
// the session manager routes them straight to FAILED.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform: %s: %v", e.Reason, e.Err)
	}
	return "platform: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

// recoverableMarkers is the substring set that classifies an untyped error
// as transient. Known limitation: adapters should return *PermanentError or
// wrapped net errors instead; the substring match remains as a bootstrap
// heuristic for errors that carry no type information.
var recoverableMarkers = []string{
	"connection_timeout",
	"network_error",
	"temporary_failure",
}

// Recoverable reports whether err may be retried through the DISCONNECTED
// path. A [*PermanentError] anywhere in the chain is never recoverable.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	msg := err.Error()
	for _, marker := range recoverableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
