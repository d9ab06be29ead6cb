package guard

// State is the lifecycle state of a Guard.
//
//	Uninitialized -> Connecting -> Connected -> Disconnected -> Destroyed
//
// A failed setup or a failed connect attempt goes to Disconnected without
// reaching Connected. Destroyed is terminal.
type State int

const (
	// StateUninitialized means Connect has not been called
	StateUninitialized State = iota
	// StateConnecting means a connect request is in flight
	StateConnecting
	// StateConnected means publishes are forwarded to the transport
	StateConnected
	// StateDisconnected means the last session is unusable
	StateDisconnected
	// StateDestroyed means the guard has been torn down
	StateDestroyed
)

// String returns a human-readable string representation of the state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
