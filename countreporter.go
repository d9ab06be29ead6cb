package countreporter

import (
	"log/slog"
	"strconv"

	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/dedup"
	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/guard"
)

// Endpoint is re-exported from the guard package.
type Endpoint = guard.Endpoint

// Transport is re-exported from the guard package.
// See internal/guard/transport.go for the session contract.
type Transport = guard.Transport

// State is re-exported from the guard package.
type State = guard.State

// Connection states.
const (
	StateUninitialized = guard.StateUninitialized
	StateConnecting    = guard.StateConnecting
	StateConnected     = guard.StateConnected
	StateDisconnected  = guard.StateDisconnected
	StateDestroyed     = guard.StateDestroyed
)

// Errors returned by Reporter. See internal/guard/errors.go.
var (
	ErrInvalidInput     = guard.ErrInvalidInput
	ErrNotConnected     = guard.ErrNotConnected
	ErrTransportFailure = guard.ErrTransportFailure
	ErrSetupFailed      = guard.ErrSetupFailed
	ErrAlreadyConnected = guard.ErrAlreadyConnected
	ErrDestroyed        = guard.ErrDestroyed
)

const (
	// DefaultTopic is the topic the running count is published on.
	DefaultTopic = "deepstream/count"
	// DefaultTrackedClass is the detector class counted by default.
	DefaultTrackedClass = dedup.DefaultTrackedClass
	// DefaultCapacity is the default seen-set capacity.
	DefaultCapacity = dedup.DefaultCapacity
)

// Config contains reporter settings
type Config struct {
	// TrackedClass is the detector class that is counted (zero is a valid class)
	TrackedClass int
	// Capacity bounds the seen set (default: 10000)
	Capacity int
	// Topic is the count channel (default: deepstream/count)
	Topic string
	// QoS is used for every publish
	QoS byte
}

// DefaultConfig returns the configuration of the original pipeline:
// class 1, capacity 10000, topic deepstream/count, QoS 0.
func DefaultConfig() Config {
	return Config{
		TrackedClass: DefaultTrackedClass,
		Capacity:     DefaultCapacity,
		Topic:        DefaultTopic,
	}
}

// Metrics is implemented by internal/metrics.Metrics.
type Metrics interface {
	dedup.Metrics
	guard.Metrics
}

// Option configures a Reporter.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics Metrics
}

// WithLogger sets the logger of both components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics attaches Prometheus metrics (see internal/metrics).
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Stats is a snapshot of both components.
type Stats struct {
	Counter dedup.Stats
	Guard   guard.Stats
}

// Reporter counts distinct objects and publishes the running total.
//
// The counter and the guard have separate locks that are never held together:
// the publish triggered by a novel object runs after the counter lock is
// released.
type Reporter struct {
	topic   string
	counter *dedup.Counter
	guard   *guard.Guard
}

// New creates a Reporter publishing through transport. The counter starts
// empty; no connection exists until Connect.
func New(transport Transport, cfg Config, opts ...Option) *Reporter {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	r := &Reporter{topic: cfg.Topic}

	guardOpts := []guard.Option{guard.WithLogger(o.logger)}
	counterOpts := []dedup.Option{dedup.WithLogger(o.logger)}
	if o.metrics != nil {
		guardOpts = append(guardOpts, guard.WithMetrics(o.metrics))
		counterOpts = append(counterOpts, dedup.WithMetrics(o.metrics))
	}

	r.guard = guard.New(transport, guard.Config{QoS: cfg.QoS}, guardOpts...)
	r.counter = dedup.New(dedup.Config{
		TrackedClass: cfg.TrackedClass,
		Capacity:     cfg.Capacity,
	}, r.publishTotal, counterOpts...)

	return r
}

// publishTotal sends total as decimal ASCII. A dropped notification never
// rolls the count back.
func (r *Reporter) publishTotal(total uint64) {
	_ = r.guard.Publish(r.topic, []byte(strconv.FormatUint(total, 10)))
}

// Reset starts a new counting session. Must not run concurrently with Observe.
func (r *Reporter) Reset() {
	r.counter.Reset()
}

// Observe records a detection. Only the tracked class is counted; a novel
// object publishes the new total.
func (r *Reporter) Observe(classID int, objectID uint64) {
	r.counter.Observe(classID, objectID)
}

// Total returns the current distinct count.
func (r *Reporter) Total() uint64 {
	return r.counter.Total()
}

// TrackedClass returns the detector class that is counted.
func (r *Reporter) TrackedClass() int {
	return r.counter.TrackedClass()
}

// Connect starts an asynchronous connection to ep. See guard.Guard.Connect.
func (r *Reporter) Connect(ep Endpoint) error {
	return r.guard.Connect(ep)
}

// Connected reports whether totals are currently being published.
func (r *Reporter) Connected() bool {
	return r.guard.Connected()
}

// State returns the connection lifecycle state.
func (r *Reporter) State() State {
	return r.guard.State()
}

// DisconnectAndDestroy tears the connection down, waiting for in-flight
// publishes to drain. Counting keeps working afterwards; totals are no longer
// published.
func (r *Reporter) DisconnectAndDestroy() error {
	return r.guard.DisconnectAndDestroy()
}

// Stats returns a snapshot of the counter and the guard. The two halves are
// taken under different locks.
func (r *Reporter) Stats() Stats {
	return Stats{
		Counter: r.counter.Stats(),
		Guard:   r.guard.Stats(),
	}
}
