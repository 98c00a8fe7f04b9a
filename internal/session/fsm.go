package session

import (
	"errors"
	"fmt"
)

// State is the position of a session in its lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingIndex State = "awaiting_index"
	StateReady         State = "ready"
	StateQueryInFlight State = "query_in_flight"
	StateDisplaying    State = "displaying"
	StateError         State = "error"
)

// Event drives a state change.
type Event string

const (
	EventStart      Event = "start"
	EventIndexReady Event = "index_ready"
	EventIndexFail  Event = "index_failed"
	EventQuestion   Event = "question"
	EventAnswered   Event = "answered"
	EventFailed     Event = "failed"
	EventRendered   Event = "rendered"
	EventErrorShown Event = "error_shown"
)

// ErrInvalidTransition is returned for an event the current state does not accept.
var ErrInvalidTransition = errors.New("invalid session transition")

var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStart: StateAwaitingIndex,
	},
	StateAwaitingIndex: {
		EventIndexReady: StateReady,
		EventIndexFail:  StateError,
	},
	StateReady: {
		EventQuestion: StateQueryInFlight,
	},
	StateQueryInFlight: {
		EventAnswered: StateDisplaying,
		EventFailed:   StateError,
	},
	StateDisplaying: {
		EventRendered: StateReady,
	},
	StateError: {
		EventErrorShown: StateReady,
	},
}

// Next returns the state reached from s on e.
func Next(s State, e Event) (State, error) {
	if to, ok := transitions[s][e]; ok {
		return to, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
