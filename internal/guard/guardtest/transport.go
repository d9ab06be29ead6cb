// Package guardtest provides a scriptable in-memory transport for tests of
// the guard and of the packages built on it.
package guardtest

import (
	"fmt"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/guard"
)

// Message is one publish recorded by a Session.
type Message struct {
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
}

// Option configures a Transport.
type Option func(*Transport)

// AutoConnect makes every session report EventConnected from its own
// goroutine right after Connect, like a broker that accepts immediately.
func AutoConnect() Option {
	return func(t *Transport) {
		t.autoConnect = true
	}
}

// Transport hands out Sessions and records them.
type Transport struct {
	autoConnect bool

	mu         sync.Mutex
	allocErr   error
	startErr   error
	connectErr error
	sessions   []*Session
}

// NewTransport creates a Transport whose sessions succeed by default.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FailAllocate makes the next NewSession calls fail with err (nil clears).
func (t *Transport) FailAllocate(err error) {
	t.mu.Lock()
	t.allocErr = err
	t.mu.Unlock()
}

// FailStartLoop makes StartLoop of new sessions fail with err (nil clears).
func (t *Transport) FailStartLoop(err error) {
	t.mu.Lock()
	t.startErr = err
	t.mu.Unlock()
}

// FailConnect makes Connect of new sessions fail with err (nil clears).
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
}

// NewSession implements guard.Transport.
func (t *Transport) NewSession(sink guard.Sink) (guard.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allocErr != nil {
		return nil, t.allocErr
	}
	s := &Session{
		sink:        sink,
		startErr:    t.startErr,
		connectErr:  t.connectErr,
		autoConnect: t.autoConnect,
	}
	t.sessions = append(t.sessions, s)
	return s, nil
}

// Sessions returns every session allocated so far.
func (t *Transport) Sessions() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Session(nil), t.sessions...)
}

// Last returns the most recently allocated session, or nil.
func (t *Transport) Last() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return nil
	}
	return t.sessions[len(t.sessions)-1]
}

// Session is an in-memory guard.Session.
//
// Publishing on a session whose loop has been stopped panics: that is the
// use-after-teardown the guard must make impossible.
type Session struct {
	sink        guard.Sink
	startErr    error
	connectErr  error
	autoConnect bool

	mu           sync.Mutex
	publishErr   error
	started      bool
	host         string
	port         int
	disconnected bool
	stopped      bool
	drained      bool
	messages     []Message
}

// StartLoop implements guard.Session.
func (s *Session) StartLoop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

// Connect implements guard.Session.
func (s *Session) Connect(host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("guardtest: connect before StartLoop")
	}
	if s.connectErr != nil {
		return s.connectErr
	}
	s.host, s.port = host, port
	if s.autoConnect {
		go s.FireConnected()
	}
	return nil
}

// Publish implements guard.Session.
func (s *Session) Publish(topic string, payload []byte, qos byte, retain bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		panic("guardtest: publish on stopped session")
	}
	if s.publishErr != nil {
		return s.publishErr
	}
	s.messages = append(s.messages, Message{
		Topic:   topic,
		Payload: string(payload),
		QoS:     qos,
		Retain:  retain,
	})
	return nil
}

// Disconnect implements guard.Session.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
	return nil
}

// StopLoop implements guard.Session.
func (s *Session) StopLoop(drain bool) error {
	s.mu.Lock()
	s.stopped = true
	s.drained = drain
	s.mu.Unlock()
	return nil
}

// FireConnected delivers EventConnected to the guard.
func (s *Session) FireConnected() {
	s.sink.Deliver(guard.Event{Kind: guard.EventConnected})
}

// FireConnectFailed delivers EventConnectFailed to the guard.
func (s *Session) FireConnectFailed(err error) {
	s.sink.Deliver(guard.Event{Kind: guard.EventConnectFailed, Err: err})
}

// FireDisconnected delivers EventDisconnected to the guard.
func (s *Session) FireDisconnected(err error) {
	s.sink.Deliver(guard.Event{Kind: guard.EventDisconnected, Err: err})
}

// FailPublishes makes subsequent publishes fail with err (nil clears).
func (s *Session) FailPublishes(err error) {
	s.mu.Lock()
	s.publishErr = err
	s.mu.Unlock()
}

// Messages returns the recorded publishes.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Endpoint returns the host and port passed to Connect.
func (s *Session) Endpoint() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, s.port
}

// Released reports whether the session was disconnected and its loop stopped
// with draining.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected && s.stopped && s.drained
}
