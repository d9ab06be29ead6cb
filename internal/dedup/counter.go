// Package dedup implements the distinct-object counter of the count reporter.
//
// Counter decides, under one exclusive lock, whether an incoming object
// identifier is novel and if so increments a monotonic total. Novelty is
// judged against a bounded SeenSet:
//
//	counter := dedup.New(dedup.Config{Capacity: 10000}, func(total uint64) {
//	    guard.Publish("deepstream/count", []byte(strconv.FormatUint(total, 10)))
//	})
//	counter.Observe(1, objectID)
//
// # Saturation
//
// While the SeenSet has spare capacity the total equals the number of stored
// identifiers, so every identifier is counted exactly once. Once the set is
// full, an identifier that could not be stored stays "never seen": it is
// counted again on every later sighting. Counting is degraded, never refused.
// A single warning is logged the first time an insert is refused.
package dedup

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	// DefaultCapacity is the SeenSet capacity used when Config.Capacity <= 0.
	DefaultCapacity = 10000

	// DefaultTrackedClass is the detector class counted by default (bicycle).
	DefaultTrackedClass = 1
)

// Notifier receives the new total after each counted observation.
// It is called outside the counter lock.
type Notifier func(total uint64)

// Metrics receives counting events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Ignored()
	Duplicate()
	Counted(total uint64, stored bool)
	CapacityExceeded()
	Reset()
}

// Config contains counter settings
type Config struct {
	// TrackedClass is the only detector class that is counted.
	// Zero is a valid class; config.Load applies DefaultTrackedClass.
	TrackedClass int
	// Capacity bounds the SeenSet (default: 10000)
	Capacity int
}

// Stats is a point-in-time snapshot of the counter.
type Stats struct {
	Total      uint64
	Stored     int
	Capacity   int
	Saturated  bool
	Ignored    uint64
	Duplicates uint64
}

// Option configures a Counter.
type Option func(*Counter)

// WithLogger sets the logger used for the saturation warning.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Counter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Counter) {
		c.metrics = m
	}
}

// Counter counts distinct object identifiers of one tracked class.
type Counter struct {
	trackedClass int
	notify       Notifier
	logger       *slog.Logger
	metrics      Metrics

	mu             sync.Mutex
	seen           *SeenSet
	total          uint64
	overflowWarned bool
	duplicates     uint64

	// ignored is updated without the lock
	ignored atomic.Uint64
}

// New creates a Counter with an empty SeenSet and a zero total.
// notify may be nil.
func New(cfg Config, notify Notifier, opts ...Option) *Counter {
	c := &Counter{
		trackedClass: cfg.TrackedClass,
		notify:       notify,
		logger:       slog.Default(),
		seen:         NewSeenSet(cfg.Capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "dedup")
	return c
}

// Reset clears the SeenSet, zeroes the total and re-arms the saturation
// warning. Reset is meant to start a counting session; callers must not run it
// concurrently with Observe.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.seen.Clear()
	c.total = 0
	c.overflowWarned = false
	c.ignored.Store(0)
	c.duplicates = 0
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Reset()
	}
	c.logger.Debug("counter reset", "capacity", c.seen.Cap())
}

// Observe records one sighting of objectID for classID.
//
// Sightings of other classes are ignored. A novel identifier increments the
// total and triggers the notifier with the new value, whether or not it could
// be stored. A known identifier changes nothing.
//
// Returns the total after the observation and whether it was counted.
func (c *Counter) Observe(classID int, objectID uint64) (uint64, bool) {
	if classID != c.trackedClass {
		c.ignored.Add(1)
		if c.metrics != nil {
			c.metrics.Ignored()
		}
		return c.Total(), false
	}

	c.mu.Lock()
	if c.seen.Contains(objectID) {
		c.duplicates++
		total := c.total
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.Duplicate()
		}
		return total, false
	}

	c.total++
	total := c.total
	stored := c.seen.Insert(objectID)
	warn := false
	if !stored && !c.overflowWarned {
		c.overflowWarned = true
		warn = true
	}
	c.mu.Unlock()

	if warn {
		c.logger.Warn("seen set capacity reached, further ids will not be recorded",
			"capacity", c.seen.Cap(),
			"object_id", objectID,
			"total", total,
		)
		if c.metrics != nil {
			c.metrics.CapacityExceeded()
		}
	}
	if c.metrics != nil {
		c.metrics.Counted(total, stored)
	}
	if c.notify != nil {
		c.notify(total)
	}

	return total, true
}

// Total returns the current distinct count.
func (c *Counter) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// TrackedClass returns the class that is counted.
func (c *Counter) TrackedClass() int {
	return c.trackedClass
}

// Stats returns a consistent snapshot of the counter.
func (c *Counter) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Total:      c.total,
		Stored:     c.seen.Len(),
		Capacity:   c.seen.Cap(),
		Saturated:  c.seen.Full(),
		Ignored:    c.ignored.Load(),
		Duplicates: c.duplicates,
	}
}
