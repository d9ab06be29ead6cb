package guard_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/guard"
	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/guard/guardtest"
)

const topic = "deepstream/count"

var endpoint = guard.Endpoint{Host: "broker.local", Port: 1883}

func newGuard(t *testing.T, tr guard.Transport) *guard.Guard {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return guard.New(tr, guard.Config{QoS: 1}, guard.WithLogger(logger))
}

// connected returns a guard whose session has reported EventConnected.
func connected(t *testing.T) (*guard.Guard, *guardtest.Transport, *guardtest.Session) {
	t.Helper()
	tr := guardtest.NewTransport()
	g := newGuard(t, tr)
	require.NoError(t, g.Connect(endpoint))
	sess := tr.Last()
	require.NotNil(t, sess)
	sess.FireConnected()
	require.True(t, g.Connected())
	return g, tr, sess
}

func TestPublishBeforeConnect(t *testing.T) {
	g := newGuard(t, guardtest.NewTransport())

	err := g.Publish(topic, []byte("1"))
	assert.ErrorIs(t, err, guard.ErrNotConnected)
	assert.Equal(t, guard.StateUninitialized, g.State())
}

// TestConnectIsAsynchronous verifies Connect returns before the connection
// completes and publishes are refused until the notification arrives.
func TestConnectIsAsynchronous(t *testing.T) {
	tr := guardtest.NewTransport()
	g := newGuard(t, tr)

	require.NoError(t, g.Connect(endpoint))
	assert.Equal(t, guard.StateConnecting, g.State())
	assert.False(t, g.Connected())
	assert.ErrorIs(t, g.Publish(topic, []byte("1")), guard.ErrNotConnected)

	sess := tr.Last()
	host, port := sess.Endpoint()
	assert.Equal(t, "broker.local", host)
	assert.Equal(t, 1883, port)

	sess.FireConnected()
	assert.Equal(t, guard.StateConnected, g.State())
	require.NoError(t, g.Publish(topic, []byte("1")))

	assert.Equal(t, []guardtest.Message{{Topic: topic, Payload: "1", QoS: 1}}, sess.Messages())
	assert.Equal(t, endpoint, g.Endpoint())
}

func TestConnectInvalidEndpoint(t *testing.T) {
	tr := guardtest.NewTransport()
	g := newGuard(t, tr)

	for _, ep := range []guard.Endpoint{
		{Host: "", Port: 1883},
		{Host: "broker", Port: 0},
		{Host: "broker", Port: -1},
		{Host: "broker", Port: 70000},
	} {
		err := g.Connect(ep)
		assert.ErrorIs(t, err, guard.ErrInvalidInput, "endpoint %v", ep)
	}

	assert.Empty(t, tr.Sessions())
	assert.Equal(t, guard.StateUninitialized, g.State())
	assert.Equal(t, guard.Endpoint{}, g.Endpoint())
	assert.Equal(t, uint64(4), g.Stats().InvalidInput)
}

func TestPublishInvalidInput(t *testing.T) {
	g, _, sess := connected(t)

	assert.ErrorIs(t, g.Publish("", []byte("1")), guard.ErrInvalidInput)
	assert.ErrorIs(t, g.Publish(topic, nil), guard.ErrInvalidInput)
	assert.ErrorIs(t, g.Publish(topic, []byte{}), guard.ErrInvalidInput)

	assert.Empty(t, sess.Messages())
	assert.True(t, g.Connected())
}

// TestSetupFailures covers the three setup steps: allocation, loop start and
// connect submission. Each leaves the guard not connected.
func TestSetupFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name         string
		arrange      func(tr *guardtest.Transport)
		wantSessions int
	}{
		{
			name:         "allocation",
			arrange:      func(tr *guardtest.Transport) { tr.FailAllocate(boom) },
			wantSessions: 0,
		},
		{
			name:         "loop start",
			arrange:      func(tr *guardtest.Transport) { tr.FailStartLoop(boom) },
			wantSessions: 1,
		},
		{
			name:         "connect request",
			arrange:      func(tr *guardtest.Transport) { tr.FailConnect(boom) },
			wantSessions: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := guardtest.NewTransport()
			tt.arrange(tr)
			g := newGuard(t, tr)

			err := g.Connect(endpoint)
			require.ErrorIs(t, err, guard.ErrSetupFailed)
			require.ErrorIs(t, err, boom)

			assert.False(t, g.Connected())
			assert.Equal(t, guard.StateDisconnected, g.State())
			assert.ErrorIs(t, g.Publish(topic, []byte("1")), guard.ErrNotConnected)
			assert.Len(t, tr.Sessions(), tt.wantSessions)
		})
	}
}

// TestRetryAfterSetupFailure verifies a failed connect can be retried and the
// half-built session of the failed attempt is released.
func TestRetryAfterSetupFailure(t *testing.T) {
	tr := guardtest.NewTransport()
	tr.FailConnect(errors.New("no route"))
	g := newGuard(t, tr)

	require.ErrorIs(t, g.Connect(endpoint), guard.ErrSetupFailed)
	failed := tr.Last()

	tr.FailConnect(nil)
	require.NoError(t, g.Connect(endpoint))
	assert.True(t, failed.Released())

	tr.Last().FireConnected()
	assert.NoError(t, g.Publish(topic, []byte("1")))
}

func TestConnectFailedEvent(t *testing.T) {
	tr := guardtest.NewTransport()
	g := newGuard(t, tr)

	require.NoError(t, g.Connect(endpoint))
	tr.Last().FireConnectFailed(errors.New("connection refused"))

	assert.Equal(t, guard.StateDisconnected, g.State())
	assert.ErrorIs(t, g.Publish(topic, []byte("1")), guard.ErrNotConnected)
}

func TestConnectWhileConnected(t *testing.T) {
	g, tr, _ := connected(t)

	assert.ErrorIs(t, g.Connect(endpoint), guard.ErrAlreadyConnected)
	assert.Len(t, tr.Sessions(), 1)
	assert.True(t, g.Connected())
}

func TestDisconnectNotification(t *testing.T) {
	g, _, sess := connected(t)

	sess.FireDisconnected(errors.New("keepalive timeout"))
	assert.False(t, g.Connected())
	assert.Equal(t, guard.StateDisconnected, g.State())
	assert.ErrorIs(t, g.Publish(topic, []byte("1")), guard.ErrNotConnected)
}

// TestTransportFailureDemotes verifies a publish error flips later publishes
// to ErrNotConnected until a new connect succeeds.
func TestTransportFailureDemotes(t *testing.T) {
	g, tr, sess := connected(t)

	require.NoError(t, g.Publish(topic, []byte("1")))

	sess.FailPublishes(errors.New("queue full"))
	err := g.Publish(topic, []byte("2"))
	require.ErrorIs(t, err, guard.ErrTransportFailure)
	assert.False(t, g.Connected())

	sess.FailPublishes(nil)
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, g.Publish(topic, []byte("3")), guard.ErrNotConnected)
	}
	assert.Len(t, sess.Messages(), 1)

	require.NoError(t, g.Connect(endpoint))
	assert.True(t, sess.Released())
	assert.ErrorIs(t, g.Publish(topic, []byte("4")), guard.ErrNotConnected)

	tr.Last().FireConnected()
	require.NoError(t, g.Publish(topic, []byte("4")))

	stats := g.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, uint64(4), stats.NotConnected)
	assert.Equal(t, uint64(2), stats.Generation)
}

// TestDemotedSessionStaysDown verifies a connected notification from the
// session that failed a publish does not promote the guard again; only a new
// Connect does.
func TestDemotedSessionStaysDown(t *testing.T) {
	g, tr, sess := connected(t)

	sess.FailPublishes(errors.New("queue full"))
	require.ErrorIs(t, g.Publish(topic, []byte("1")), guard.ErrTransportFailure)
	sess.FailPublishes(nil)

	sess.FireConnected()
	assert.False(t, g.Connected())
	assert.Equal(t, guard.StateDisconnected, g.State())
	assert.ErrorIs(t, g.Publish(topic, []byte("2")), guard.ErrNotConnected)

	sess.FireDisconnected(nil)
	sess.FireConnected()
	assert.False(t, g.Connected())

	require.NoError(t, g.Connect(endpoint))
	tr.Last().FireConnected()
	assert.True(t, g.Connected())
	require.NoError(t, g.Publish(topic, []byte("3")))
	assert.Empty(t, sess.Messages())
}

func TestConnectedWhileConnectedIsNoop(t *testing.T) {
	g, _, sess := connected(t)

	sess.FireConnected()
	assert.True(t, g.Connected())
	assert.Equal(t, guard.StateConnected, g.State())
}

// TestStaleEventsDiscarded verifies a late notification from a replaced
// session cannot mark the new session connected.
func TestStaleEventsDiscarded(t *testing.T) {
	g, tr, old := connected(t)

	old.FireDisconnected(nil)
	require.NoError(t, g.Connect(endpoint))
	require.NotSame(t, old, tr.Last())

	old.FireConnected()
	assert.False(t, g.Connected())
	assert.Equal(t, guard.StateConnecting, g.State())
}

func TestDisconnectAndDestroy(t *testing.T) {
	g, _, sess := connected(t)

	require.NoError(t, g.DisconnectAndDestroy())

	assert.True(t, sess.Released())
	assert.Equal(t, guard.StateDestroyed, g.State())
	assert.Equal(t, guard.Endpoint{}, g.Endpoint())
	assert.ErrorIs(t, g.Publish(topic, []byte("1")), guard.ErrNotConnected)
	assert.ErrorIs(t, g.Connect(endpoint), guard.ErrDestroyed)

	// late notification from the destroyed session
	sess.FireConnected()
	assert.False(t, g.Connected())

	// idempotent
	assert.NoError(t, g.DisconnectAndDestroy())
}

func TestDestroyWithoutConnect(t *testing.T) {
	g := newGuard(t, guardtest.NewTransport())
	assert.NoError(t, g.DisconnectAndDestroy())
	assert.Equal(t, guard.StateDestroyed, g.State())
}

// TestDestroyRacesPublish runs teardown concurrently with many publishers.
// The fake session panics on a publish after its loop stopped, so any
// use-after-teardown fails the test.
func TestDestroyRacesPublish(t *testing.T) {
	for round := 0; round < 20; round++ {
		g, _, _ := connected(t)

		const publishers = 8
		start := make(chan struct{})
		errs := make(chan error, publishers)
		var wg sync.WaitGroup

		for i := 0; i < publishers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 200; j++ {
					err := g.Publish(topic, []byte("7"))
					if err != nil && !errors.Is(err, guard.ErrNotConnected) {
						errs <- err
						return
					}
				}
			}()
		}

		close(start)
		time.Sleep(time.Duration(round%3) * 100 * time.Microsecond)
		require.NoError(t, g.DisconnectAndDestroy())
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Fatalf("round %d: unexpected publish result: %v", round, err)
		}
		assert.ErrorIs(t, g.Publish(topic, []byte("7")), guard.ErrNotConnected)
	}
}

// TestEventsRacePublish delivers connect/disconnect notifications from a
// transport goroutine while publishers run.
func TestEventsRacePublish(t *testing.T) {
	g, _, sess := connected(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				sess.FireDisconnected(nil)
			} else {
				sess.FireConnected()
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				err := g.Publish(topic, []byte("1"))
				if err != nil {
					assert.ErrorIs(t, err, guard.ErrNotConnected)
				}
				_ = g.Stats()
			}
		}()
	}
	wg.Wait()
	<-done

	stats := g.Stats()
	assert.Equal(t, uint64(4*500), stats.Published+stats.NotConnected)
	assert.Zero(t, stats.Failures)
}

func TestAutoConnectTransport(t *testing.T) {
	tr := guardtest.NewTransport(guardtest.AutoConnect())
	g := newGuard(t, tr)

	require.NoError(t, g.Connect(endpoint))
	require.Eventually(t, g.Connected, time.Second, time.Millisecond)
	assert.NoError(t, g.Publish(topic, []byte("1")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", guard.StateUninitialized.String())
	assert.Equal(t, "connecting", guard.StateConnecting.String())
	assert.Equal(t, "connected", guard.StateConnected.String())
	assert.Equal(t, "disconnected", guard.StateDisconnected.String())
	assert.Equal(t, "destroyed", guard.StateDestroyed.String())
	assert.Equal(t, "unknown", guard.State(42).String())
	assert.Equal(t, "connect_failed", guard.EventConnectFailed.String())
}
