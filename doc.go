// Package countreporter counts distinct detected objects and publishes the
// running count over MQTT.
//
// Philosophy: "Count once, publish best effort."
//
// A Reporter is the reporting hook of a detection pipeline. For every tracked
// object the pipeline calls Observe(classID, objectID); the first sighting of
// an object of the tracked class increments the total and publishes it as
// decimal text on the count topic. Later sightings change nothing.
//
// # Usage
//
//	transport := mqtt.NewTransport(mqtt.Config{})
//	reporter := countreporter.New(transport, countreporter.DefaultConfig())
//	defer reporter.DisconnectAndDestroy()
//
//	if err := reporter.Connect(countreporter.Endpoint{Host: "localhost", Port: 1883}); err != nil {
//	    slog.Warn("mqtt unavailable, counting without publishing", "error", err)
//	}
//
//	for det := range detections {
//	    reporter.Observe(det.ClassID, det.ObjectID)
//	}
//
// # Components
//
//   - Deduplication counter (internal/dedup): bounded seen set + monotonic
//     total under one lock
//   - Publish guard (internal/guard): session handle + connected flag under a
//     second lock; publishes never race connect, disconnect notifications or
//     teardown
//
// # Delivery
//
// Publishing is best effort. When the connection is down the total is still
// counted and the notification is dropped (ErrNotConnected); a transport
// error demotes the connection until the next successful Connect. Nothing
// is retried and nothing is fatal.
//
// # Capacity
//
// The seen set holds at most Config.Capacity identifiers. Past that, an
// identifier that could not be stored is counted again each time it is
// observed: the total over-counts rather than stalls. A warning is logged
// once per session.
//
// # Thread Safety
//
// Observe, Total, Stats and Connected are safe for concurrent use. Reset must
// not run concurrently with Observe. Connect and DisconnectAndDestroy are
// safe to call from any goroutine; DisconnectAndDestroy blocks while
// in-flight publishes drain.
package countreporter
