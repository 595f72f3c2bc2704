// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

type State string

const (
	StateInitiating State = "initiating"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
	StateRejected   State = "rejected"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateInitiating: {StateConnecting, StateEnded, StateRejected, StateFailed},
	StateRinging:    {StateConnecting, StateEnded, StateRejected, StateFailed},
	StateConnecting: {StateConnected, StateEnded, StateRejected, StateFailed},
	StateConnected:  {StateEnded, StateRejected, StateFailed},
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateRejected || s == StateFailed
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateInitiating, StateRinging, StateConnecting, StateConnected, StateEnded, StateRejected, StateFailed:
		return true
	}
	return false
}

// awaitingAnswer reports whether the establishment timeout applies to s.
func (s State) awaitingAnswer() bool {
	return s == StateInitiating || s == StateRinging
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
