// Package guard serializes a transport session's lifecycle against publishes.
//
// One lock covers the session handle and the connected flag. Connect,
// Publish, connection notifications and DisconnectAndDestroy all run under
// it, so a publish never executes against a torn-down session and teardown
// never races a publish:
//
//	g := guard.New(transport, guard.Config{QoS: 0})
//	_ = g.Connect(guard.Endpoint{Host: "localhost", Port: 1883})
//
//	err := g.Publish("deepstream/count", []byte("42"))
//	switch {
//	case err == nil:                             // enqueued
//	case errors.Is(err, guard.ErrNotConnected):  // dropped, nothing sent
//	case errors.Is(err, guard.ErrTransportFailure): // dropped, connection demoted
//	}
//
//	_ = g.DisconnectAndDestroy()
//
// # Notifications
//
// Each session gets its own Sink tagged with a generation number. Events of an
// older generation (a session that has since been replaced or destroyed) are
// discarded, so a late notification can never resurrect a dead connection.
package guard

import (
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
)

// Metrics receives publish outcomes and state changes.
// Implementations must be safe for concurrent use and must not block.
type Metrics interface {
	Published()
	NotConnected()
	TransportFailure()
	InvalidInput()
	StateChanged(s State)
}

// Config contains guard settings
type Config struct {
	// QoS is the MQTT quality of service used for every publish (0, 1 or 2)
	QoS byte
}

// Stats is a point-in-time snapshot of the guard.
type Stats struct {
	State        State
	Connected    bool
	Endpoint     Endpoint
	Generation   uint64
	Published    uint64
	NotConnected uint64
	Failures     uint64
	InvalidInput uint64
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the guard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// Guard owns one transport session at a time.
type Guard struct {
	transport Transport
	qos       byte
	logger    *slog.Logger
	metrics   Metrics

	mu         sync.Mutex
	session    Session
	connected  bool
	state      State
	endpoint   Endpoint
	generation uint64

	published    uint64
	notConnected uint64
	failures     uint64
	invalid      uint64
}

// New creates a Guard in StateUninitialized. No session exists until Connect.
func New(transport Transport, cfg Config, opts ...Option) *Guard {
	g := &Guard{
		transport: transport,
		qos:       cfg.QoS,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "guard")
	return g
}

// sessionSink routes notifications of one session generation to the guard.
type sessionSink struct {
	g   *Guard
	gen uint64
}

func (s sessionSink) Deliver(ev Event) {
	s.g.deliver(s.gen, ev)
}

// Connect stores ep, allocates a session, starts its I/O loop and submits an
// asynchronous connect request. It returns without waiting for the connection;
// the outcome arrives later as an Event.
//
// Every setup failure leaves the guard not connected and is returned wrapped
// in ErrSetupFailed. Calling Connect again retries.
//
// Returns an error if:
//   - ep has an empty host or an invalid port (ErrInvalidInput)
//   - a session is already connecting or connected (ErrAlreadyConnected)
//   - the guard was destroyed (ErrDestroyed)
func (g *Guard) Connect(ep Endpoint) error {
	if !ep.Valid() {
		g.countInvalid()
		g.logger.Error("invalid endpoint", "host", ep.Host, "port", ep.Port)
		return fmt.Errorf("%w: endpoint %q", ErrInvalidInput, ep.String())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateDestroyed:
		return ErrDestroyed
	case StateConnecting, StateConnected:
		return fmt.Errorf("%w: %s (%s)", ErrAlreadyConnected, g.endpoint, g.state)
	}

	if g.session != nil {
		g.logger.Info("releasing previous session before reconnect", "generation", g.generation)
		if err := g.releaseLocked(); err != nil {
			g.logger.Warn("previous session release failed", "error", err)
		}
	}

	g.endpoint = ep
	g.generation++
	g.connected = false

	g.logger.Info("connect start", "endpoint", ep.String(), "generation", g.generation)

	sess, err := g.transport.NewSession(sessionSink{g: g, gen: g.generation})
	if err != nil {
		g.setStateLocked(StateDisconnected)
		g.logger.Error("session allocation failed", "endpoint", ep.String(), "error", err)
		return fmt.Errorf("%w: allocate session: %w", ErrSetupFailed, err)
	}

	if err := sess.StartLoop(); err != nil {
		g.setStateLocked(StateDisconnected)
		g.logger.Error("session loop start failed", "endpoint", ep.String(), "error", err)
		return fmt.Errorf("%w: start loop: %w", ErrSetupFailed, err)
	}

	// The loop is running from here on: keep the session so that the next
	// Connect or DisconnectAndDestroy stops it.
	g.session = sess
	g.setStateLocked(StateConnecting)

	if err := sess.Connect(ep.Host, ep.Port); err != nil {
		g.setStateLocked(StateDisconnected)
		g.logger.Error("connect request failed", "endpoint", ep.String(), "error", err)
		return fmt.Errorf("%w: connect request: %w", ErrSetupFailed, err)
	}

	g.logger.Info("connect requested, waiting for connection", "endpoint", ep.String())
	return nil
}

// deliver applies a connection notification. Only the connected flag and the
// state change.
func (g *Guard) deliver(gen uint64, ev Event) {
	g.mu.Lock()
	if gen != g.generation || g.session == nil || g.state == StateDestroyed {
		g.mu.Unlock()
		g.logger.Debug("stale connection event discarded",
			"event", ev.Kind.String(),
			"event_generation", gen,
		)
		return
	}

	switch ev.Kind {
	case EventConnected:
		// Only a pending Connect can be completed; a demoted session stays
		// down until the next Connect.
		if g.state != StateConnecting {
			state := g.state
			g.mu.Unlock()
			g.logger.Debug("connected event ignored", "state", state.String())
			return
		}
		g.connected = true
		g.setStateLocked(StateConnected)
	case EventConnectFailed, EventDisconnected:
		g.connected = false
		g.setStateLocked(StateDisconnected)
	}
	endpoint := g.endpoint
	g.mu.Unlock()

	switch ev.Kind {
	case EventConnected:
		g.logger.Info("connected", "endpoint", endpoint.String())
	case EventConnectFailed:
		g.logger.Warn("connect failed", "endpoint", endpoint.String(), "error", ev.Err)
	case EventDisconnected:
		g.logger.Warn("disconnected", "endpoint", endpoint.String(), "error", ev.Err)
	}
}

// Publish forwards payload to the session if it is usable.
//
// The session handle and connected flag are read as one snapshot under the
// lock, and the transport enqueue runs under the same lock. The result is:
//   - nil: enqueued
//   - ErrNotConnected: no usable session, transport not called
//   - ErrTransportFailure: the transport refused the publish; the guard is
//     demoted to not connected until a new connect succeeds
//   - ErrInvalidInput: empty topic or payload
func (g *Guard) Publish(topic string, payload []byte) error {
	if topic == "" || len(payload) == 0 {
		g.countInvalid()
		g.logger.Error("publish rejected: empty topic or payload", "topic", topic)
		return fmt.Errorf("%w: empty topic or payload", ErrInvalidInput)
	}

	g.mu.Lock()
	sess, connected := g.session, g.connected
	if sess == nil || !connected {
		g.notConnected++
		if g.metrics != nil {
			g.metrics.NotConnected()
		}
		g.mu.Unlock()
		g.logger.Debug("publish skipped: not connected", "topic", topic)
		return ErrNotConnected
	}

	if err := sess.Publish(topic, payload, g.qos, false); err != nil {
		g.connected = false
		g.failures++
		g.setStateLocked(StateDisconnected)
		if g.metrics != nil {
			g.metrics.TransportFailure()
		}
		g.mu.Unlock()
		g.logger.Warn("publish failed", "topic", topic, "error", err)
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}

	g.published++
	if g.metrics != nil {
		g.metrics.Published()
	}
	g.mu.Unlock()

	g.logger.Debug("publish ok", "topic", topic, "payload", string(payload))
	return nil
}

// DisconnectAndDestroy disconnects, stops the I/O loop (waiting for
// outstanding operations to drain) and releases the session, all under the
// lock used by Publish. A concurrent Publish either completes before teardown
// starts or returns ErrNotConnected after it.
//
// The guard is Destroyed afterwards. Idempotent. Teardown errors are
// returned combined but the guard is destroyed regardless.
func (g *Guard) DisconnectAndDestroy() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateDestroyed {
		return nil
	}

	err := g.releaseLocked()

	g.endpoint = Endpoint{}
	// Invalidate the sink of the released session.
	g.generation++
	g.setStateLocked(StateDestroyed)

	if err != nil {
		g.logger.Warn("teardown finished with errors", "error", err)
	} else {
		g.logger.Info("destroyed")
	}
	return err
}

// releaseLocked tears down the current session, if any. g.mu must be held.
func (g *Guard) releaseLocked() error {
	sess := g.session
	g.session = nil
	g.connected = false
	if sess == nil {
		return nil
	}

	var err error
	if derr := sess.Disconnect(); derr != nil {
		err = multierr.Append(err, fmt.Errorf("disconnect: %w", derr))
	}
	if serr := sess.StopLoop(true); serr != nil {
		err = multierr.Append(err, fmt.Errorf("stop loop: %w", serr))
	}
	return err
}

func (g *Guard) setStateLocked(s State) {
	g.state = s
	if g.metrics != nil {
		g.metrics.StateChanged(s)
	}
}

func (g *Guard) countInvalid() {
	g.mu.Lock()
	g.invalid++
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.InvalidInput()
	}
}

// Connected reports whether publishes are currently forwarded.
func (g *Guard) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session != nil && g.connected
}

// State returns the current lifecycle state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Endpoint returns the endpoint of the last Connect (diagnostics only).
func (g *Guard) Endpoint() Endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endpoint
}

// Stats returns a consistent snapshot of the guard.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Stats{
		State:        g.state,
		Connected:    g.session != nil && g.connected,
		Endpoint:     g.endpoint,
		Generation:   g.generation,
		Published:    g.published,
		NotConnected: g.notConnected,
		Failures:     g.failures,
		InvalidInput: g.invalid,
	}
}
