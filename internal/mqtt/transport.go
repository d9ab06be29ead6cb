// Package mqtt implements the guard transport on top of the Eclipse Paho
// MQTT client.
//
// Mapping of the session operations onto paho:
//   - NewSession: builds the client options and connection handlers
//   - StartLoop:  opens the session; paho starts its network goroutines once
//     the connection is up
//   - Connect:    creates the client and calls Connect, which returns a token
//     immediately; the outcome arrives via OnConnect or the token watcher
//   - Publish:    client.Publish, checking the token without waiting on it
//   - Disconnect: detaches the guard, no further notifications are delivered
//   - StopLoop:   client.Disconnect with the drain timeout as quiesce period
//
// Auto-reconnect is disabled: reconnecting is the caller's decision.
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/guard"
)

// ClientIDPrefix prefixes generated client ids.
const ClientIDPrefix = "count-reporter-"

var (
	// ErrLoopNotStarted is returned by Connect before StartLoop.
	ErrLoopNotStarted = errors.New("mqtt: session loop not started")

	// ErrSessionClosed is returned by operations on a stopped session.
	ErrSessionClosed = errors.New("mqtt: session closed")
)

// Config contains paho client settings
type Config struct {
	// ClientID is the MQTT client id (default: count-reporter-<uuid>)
	ClientID string
	// KeepAlive is the MQTT keepalive interval (default: 60s)
	KeepAlive time.Duration
	// ConnectTimeout bounds the connect handshake (default: 5s)
	ConnectTimeout time.Duration
	// WriteTimeout bounds the publish enqueue (default: 1s)
	WriteTimeout time.Duration
	// DrainTimeout bounds the wait for in-flight work on StopLoop(true) (default: 250ms)
	DrainTimeout time.Duration
}

// DefaultConfig returns default paho settings
func DefaultConfig() Config {
	return Config{
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   1 * time.Second,
		DrainTimeout:   250 * time.Millisecond,
	}
}

// ClientFactory creates a paho client from options.
type ClientFactory func(opts *paho.ClientOptions) paho.Client

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClientFactory replaces paho.NewClient (used by tests).
func WithClientFactory(f ClientFactory) Option {
	return func(t *Transport) {
		if f != nil {
			t.newClient = f
		}
	}
}

// Transport allocates paho-backed sessions. It implements guard.Transport.
type Transport struct {
	cfg       Config
	logger    *slog.Logger
	newClient ClientFactory
}

// NewTransport creates a Transport. Zero config fields take DefaultConfig values.
func NewTransport(cfg Config, opts ...Option) *Transport {
	def := DefaultConfig()
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	t := &Transport{
		cfg:       cfg,
		logger:    slog.Default(),
		newClient: paho.NewClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "mqtt")
	return t
}

// NewSession implements guard.Transport.
func (t *Transport) NewSession(sink guard.Sink) (guard.Session, error) {
	if sink == nil {
		return nil, fmt.Errorf("mqtt: nil sink")
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = ClientIDPrefix + uuid.New().String()
	}
	if len(clientID) > 65535 {
		return nil, fmt.Errorf("mqtt: client id too long (%d bytes)", len(clientID))
	}

	s := &session{
		cfg:       t.cfg,
		clientID:  clientID,
		sink:      sink,
		newClient: t.newClient,
		logger:    t.logger.With("client_id", clientID),
		done:      make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.SetClientID(clientID)
	opts.SetKeepAlive(t.cfg.KeepAlive)
	opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	opts.SetWriteTimeout(t.cfg.WriteTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(paho.Client) {
		s.deliver(guard.Event{Kind: guard.EventConnected})
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.deliver(guard.Event{Kind: guard.EventDisconnected, Err: err})
	})
	s.opts = opts

	return s, nil
}

// session is one paho client. It implements guard.Session.
type session struct {
	cfg       Config
	clientID  string
	sink      guard.Sink
	newClient ClientFactory
	logger    *slog.Logger
	opts      *paho.ClientOptions

	// detached stops notification delivery after Disconnect
	detached atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	client  paho.Client
	done    chan struct{}
}

// StartLoop implements guard.Session.
func (s *session) StartLoop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSessionClosed
	}
	s.started = true
	return nil
}

// Connect implements guard.Session. It returns once the connect request has
// been handed to paho.
func (s *session) Connect(host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrLoopNotStarted
	}
	if s.stopped {
		return ErrSessionClosed
	}
	if s.client != nil {
		return fmt.Errorf("mqtt: connect already requested")
	}

	broker := BrokerURL(host, port)
	s.opts.AddBroker(broker)
	s.client = s.newClient(s.opts)
	if s.client == nil {
		return fmt.Errorf("mqtt: client allocation failed")
	}

	token := s.client.Connect()
	go s.watchConnect(token)

	s.logger.Debug("connect requested", "broker", broker)
	return nil
}

// watchConnect reports a failed connect attempt. Success is reported by the
// OnConnect handler.
func (s *session) watchConnect(token paho.Token) {
	select {
	case <-token.Done():
	case <-s.done:
		return
	}
	if err := token.Error(); err != nil {
		s.deliver(guard.Event{Kind: guard.EventConnectFailed, Err: err})
	}
}

func (s *session) deliver(ev guard.Event) {
	if s.detached.Load() {
		return
	}
	s.sink.Deliver(ev)
}

// Publish implements guard.Session. The token is inspected without waiting:
// an error already set by paho (not connected, enqueue timeout) is returned,
// anything still in flight counts as enqueued.
func (s *session) Publish(topic string, payload []byte, qos byte, retain bool) error {
	s.mu.Lock()
	client, stopped := s.client, s.stopped
	s.mu.Unlock()

	if stopped {
		return ErrSessionClosed
	}
	if client == nil {
		return paho.ErrNotConnected
	}

	token := client.Publish(topic, qos, retain, payload)
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}

// Disconnect implements guard.Session.
func (s *session) Disconnect() error {
	s.detached.Store(true)
	return nil
}

// StopLoop implements guard.Session. With drain=true paho gets DrainTimeout to
// finish in-flight work before the connection closes.
func (s *session) StopLoop(drain bool) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.detached.Store(true)
	close(s.done)
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return nil
	}

	var quiesce uint
	if drain {
		quiesce = uint(s.cfg.DrainTimeout / time.Millisecond)
	}
	client.Disconnect(quiesce)
	s.logger.Debug("session stopped", "drain", drain, "quiesce_ms", quiesce)
	return nil
}

// BrokerURL returns the paho broker URL for host and port.
func BrokerURL(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}
