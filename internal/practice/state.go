// Package practice implements the practice session controller: camera and
// scan lifecycle for one target vowel, live feedback and session
// finalization into the progress store.
package practice

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a practice session.
type State int

const (
	StateCameraOff State = iota
	StateCameraOn
	StateScanning
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateCameraOff:
		return "camera_off"
	case StateCameraOn:
		return "camera_on"
	case StateScanning:
		return "scanning"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrInvalidTransition is returned when an operation is not allowed in the
// current state.
var ErrInvalidTransition = errors.New("practice: invalid state transition")

// event is an operation that moves the controller between states.
type event string

const (
	evStartCamera event = "start_camera"
	evStartScan   event = "start_scan"
	evStopScan    event = "stop_scan"
	evStopCamera  event = "stop_camera"
)

// transitions maps each state and event to the resulting state.
var transitions = map[State]map[event]State{
	StateCameraOff: {evStartCamera: StateCameraOn},
	StateCameraOn:  {evStartScan: StateScanning, evStopCamera: StateCameraOff},
	StateScanning:  {evStopScan: StateCameraOn},
}

// next returns the state ev leads to from, or ErrInvalidTransition.
func next(from State, ev event) (State, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}
