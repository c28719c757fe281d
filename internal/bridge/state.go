package bridge

import "fmt"

// State is the coordinator's lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateBusConnecting
	StateRunning
	StateBusReconnecting
)

// String returns the state name used in logs and health output.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateBusConnecting:
		return "bus_connecting"
	case StateRunning:
		return "running"
	case StateBusReconnecting:
		return "bus_reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// allowed lists the legal transitions.
var allowed = map[State][]State{
	StateStarting:        {StateBusConnecting},
	StateBusConnecting:   {StateRunning},
	StateRunning:         {StateBusReconnecting},
	StateBusReconnecting: {StateRunning},
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
