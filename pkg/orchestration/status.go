package orchestration

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the execution state of a BackendLog.
type State string

const (
	// StateReceived indicates the log was created and the task is queued.
	StateReceived State = "RECEIVED"

	// StateStarted indicates a worker dispatched the script to the server.
	StateStarted State = "STARTED"

	// StateSuccess indicates the script exited with code 0.
	StateSuccess State = "SUCCESS"

	// StateFailure indicates the script ran and exited non-zero.
	StateFailure State = "FAILURE"

	// StateError indicates an infrastructure fault during dispatch.
	StateError State = "ERROR"

	// StateTimeout indicates the script did not exit within the deadline.
	StateTimeout State = "TIMEOUT"

	// StateRevoked indicates the task was cancelled before a worker started it.
	StateRevoked State = "REVOKED"
)

// States lists every state in lifecycle order.
var States = []State{
	StateReceived, StateStarted, StateSuccess, StateFailure, StateError, StateTimeout, StateRevoked,
}

// IsTerminal returns true if no transition out of the state is allowed.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateError, StateTimeout, StateRevoked:
		return true
	}
	return false
}

// IsActive returns true if the log is still queued or running.
func (s State) IsActive() bool {
	return s == StateReceived || s == StateStarted
}

// HasExitCode returns true if logs in this state carry an exit code.
func (s State) HasExitCode() bool {
	return s == StateSuccess || s == StateFailure || s == StateError
}

// Validate checks if the state is valid.
func (s State) Validate() error {
	for _, known := range States {
		if s == known {
			return nil
		}
	}
	return fmt.Errorf("invalid backend log state: %s", s)
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StateReceived:
		return next == StateStarted || next == StateRevoked || next == StateError
	case StateStarted:
		return next.IsTerminal() && next != StateRevoked
	}
	return false
}

// PredecessorsOf returns the states from which next can be reached.
func PredecessorsOf(next State) []State {
	var from []State
	for _, s := range States {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// Color returns the display colour used by log listings.
func (s State) Color() string {
	switch s {
	case StateReceived:
		return "darkorange"
	case StateStarted:
		return "blue"
	case StateSuccess:
		return "green"
	case StateRevoked:
		return "magenta"
	default:
		return "red"
	}
}

// ParseState parses a state name, accepting lower case.
func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(v)))
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Action is the kind of change that triggered an operation.
type Action string

const (
	// ActionSave indicates the instance was created or updated.
	ActionSave Action = "save"

	// ActionDelete indicates the instance was deleted.
	ActionDelete Action = "delete"
)

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionSave, ActionDelete:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}
