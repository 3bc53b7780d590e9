package session

// State is the position of a bot session in its lifecycle.
//
// The graph:
//
//	initializing → joining | failed
//	joining      → connected | disconnected | failed
//	connected    → transcribing | failed
//	transcribing → disconnected | completed
//	disconnected → joining | failed
//
// completed and failed are terminal; failed sessions may be re-entered only
// through the caller-initiated [Manager.Retry].
type State string

const (
	StateInitializing State = "initializing"
	StateJoining      State = "joining"
	StateConnected    State = "connected"
	StateTranscribing State = "transcribing"
	StateDisconnected State = "disconnected"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Terminal reports whether s permits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var transitions = map[State][]State{
	StateInitializing: {StateJoining, StateFailed},
	StateJoining:      {StateConnected, StateDisconnected, StateFailed},
	StateConnected:    {StateTranscribing, StateFailed},
	StateTranscribing: {StateDisconnected, StateCompleted},
	StateDisconnected: {StateJoining, StateFailed},
}

// CanTransition reports whether the edge s → to exists in the lifecycle
// graph. A graceful stop may additionally complete from any non-terminal
// state; that path is handled by the manager, not this table.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
