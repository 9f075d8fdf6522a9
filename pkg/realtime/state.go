package realtime

import (
	"fmt"
	"slices"
)

// State is the connection state of a Session.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED" // transport up, not yet registered
	Registered   State = "REGISTERED"
	GaveUp       State = "GAVE_UP"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, GaveUp},
	Connecting:   {Connected, Disconnected},
	Connected:    {Registered, Disconnected},
	Registered:   {Disconnected},
	GaveUp:       {Connecting, Disconnected},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}
