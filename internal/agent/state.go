// ABOUTME: Session lifecycle states and the legal transitions between them.
// ABOUTME: Illegal transitions are rejected with ErrIllegalTransition.

package agent

import (
	"errors"
	"fmt"
)

// State is a session lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateOnline       State = "online"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
)

// ErrIllegalTransition indicates a lifecycle transition outside the state machine.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

var transitions = map[State][]State{
	StateConnecting:   {StateOnline, StateDisconnected},
	StateOnline:       {StateDisconnected},
	StateDisconnected: {StateReconnecting},
	StateReconnecting: {StateConnecting},
}

// CanTransition reports whether a session in s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
