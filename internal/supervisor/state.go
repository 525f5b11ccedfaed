package supervisor

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the connection state observed by the supervisor.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
)

const (
	eventUp   = "up"
	eventDown = "down"
)

// newStateMachine builds the two-state connection machine. There is no
// terminal state: the supervisor keeps retrying from DISCONNECTED.
func newStateMachine(onEnter func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			{Name: eventUp, Src: []string{string(StateDisconnected)}, Dst: string(StateConnected)},
			{Name: eventDown, Src: []string{string(StateConnected)}, Dst: string(StateDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Src), State(e.Dst))
			},
		},
	)
}
