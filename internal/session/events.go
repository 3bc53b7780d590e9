package session

import (
	"log/slog"
	"time"
)

// EventType names a session lifecycle notification.
type EventType string

const (
	EventSessionStarted       EventType = "session_started"
	EventSessionInitialized   EventType = "session_initialized"
	EventMeetingJoined        EventType = "meeting_joined"
	EventTranscriptionStarted EventType = "transcription_started"
	EventSessionReconnecting  EventType = "session_reconnecting"
	EventErrorRecoverable     EventType = "session_error_recoverable"
	EventErrorFatal           EventType = "session_error_fatal"
	EventSessionStopped       EventType = "session_stopped"
)

// Event is one lifecycle notification. Events for a session are emitted in
// the order its state mutated; the state field is the state after the
// mutation.
type Event struct {
	Type      EventType
	SessionID string
	MeetingID string
	State     State
	Detail    string
	Time      time.Time
}

// Sink receives session events. Sinks run on the state-machine worker, so
// they must return quickly; a sink error is logged and swallowed, never
// blocking state progress.
type Sink interface {
	OnEvent(ev Event) error
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ev Event) error

// OnEvent implements [Sink].
func (f SinkFunc) OnEvent(ev Event) error { return f(ev) }

// dispatch fans an event out to all sinks.
func dispatch(sinks []Sink, ev Event) {
	for _, sink := range sinks {
		if err := sink.OnEvent(ev); err != nil {
			slog.Warn("event sink failed",
				"event", ev.Type, "session_id", ev.SessionID, "error", err)
		}
	}
}
