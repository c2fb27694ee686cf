package tile

import "fmt"

// State is the decode state of a tile.
type State uint8

const (
	Pending State = iota // requested, waiting in the job queue
	Loading              // a worker is decoding it
	Ready                // pixels are resident
	Failed               // last decode attempt failed
)

var stateNames = [...]string{
	Pending: "pending",
	Loading: "loading",
	Ready:   "ready",
	Failed:  "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Event drives a tile state transition.
type Event uint8

const (
	EventStart   Event = iota // worker picked the job up
	EventDecoded              // decode produced pixels
	EventFailed               // decode returned an error or timed out
	EventRetry                // backoff elapsed, job re-enqueued
)

var eventNames = [...]string{
	EventStart:   "start",
	EventDecoded: "decoded",
	EventFailed:  "failed",
	EventRetry:   "retry",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", uint8(e))
}

// TransitionError reports an event that is not valid in the current state.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("tile: invalid transition %s on %s", e.From, e.Event)
}

// Transition returns the state reached by applying e in state s. Every
// (state, event) pair is handled; pairs that make no sense return a
// *TransitionError and leave the state unchanged.
func Transition(s State, e Event) (State, error) {
	switch s {
	case Pending:
		switch e {
		case EventStart:
			return Loading, nil
		case EventDecoded:
			return Ready, nil
		case EventFailed:
			return Failed, nil
		case EventRetry:
			return Pending, nil
		}
	case Loading:
		switch e {
		case EventDecoded:
			return Ready, nil
		case EventFailed:
			return Failed, nil
		case EventStart, EventRetry:
			return s, &TransitionError{From: s, Event: e}
		}
	case Ready:
		switch e {
		case EventDecoded:
			// Duplicate notifications are harmless.
			return Ready, nil
		case EventStart, EventFailed, EventRetry:
			return s, &TransitionError{From: s, Event: e}
		}
	case Failed:
		switch e {
		case EventRetry:
			return Pending, nil
		case EventDecoded:
			// A late result from a timed-out attempt still counts.
			return Ready, nil
		case EventStart, EventFailed:
			return s, &TransitionError{From: s, Event: e}
		}
	}
	return s, &TransitionError{From: s, Event: e}
}
