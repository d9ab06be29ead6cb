package guard

import "fmt"

// Transport allocates messaging sessions.
//
// The guard owns every Session it obtains and releases it through
// Disconnect + StopLoop. Implementations live outside this package
// (internal/mqtt for paho, guardtest for tests).
type Transport interface {
	// NewSession allocates a session whose connection notifications are
	// delivered to sink. Returns an error if the session cannot be allocated.
	NewSession(sink Sink) (Session, error)
}

// Session is one transport session.
//
// Implementations must guarantee:
//   - Connect returns before the connection completes; the outcome is
//     reported to the Sink as EventConnected or EventConnectFailed
//   - Publish enqueues and returns in bounded time, never waiting on the network
//   - Sink notifications come from the transport's own goroutines, never from
//     inside a Session method call
//   - StopLoop does not wait on goroutines that may be blocked in Sink.Deliver
type Session interface {
	// StartLoop starts the background I/O of the session.
	StartLoop() error

	// Connect submits an asynchronous connect request.
	Connect(host string, port int) error

	// Publish enqueues payload on topic.
	Publish(topic string, payload []byte, qos byte, retain bool) error

	// Disconnect closes the connection.
	Disconnect() error

	// StopLoop stops the background I/O. With drain=true it blocks until
	// outstanding operations have completed.
	StopLoop(drain bool) error
}

// Sink receives asynchronous connection notifications.
type Sink interface {
	Deliver(ev Event)
}

// EventKind identifies a connection notification.
type EventKind int

const (
	// EventConnected reports a completed connect
	EventConnected EventKind = iota
	// EventConnectFailed reports a connect attempt that did not complete
	EventConnectFailed
	// EventDisconnected reports a lost or closed connection
	EventDisconnected
)

// String returns a human-readable name of the event kind
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a connection notification delivered by a transport.
type Event struct {
	Kind EventKind
	// Err carries the transport's reason, if any
	Err error
}

// Endpoint is the broker address of the last connect.
type Endpoint struct {
	Host string
	Port int
}

// String returns host:port
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Valid reports whether the endpoint can be used for Connect.
func (e Endpoint) Valid() bool {
	return e.Host != "" && e.Port > 0 && e.Port <= 65535
}
