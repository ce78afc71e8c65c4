package ems

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ems-client-go/order"
)

// stubDaemon feeds a canned event stream and records Stop calls.
type stubDaemon struct {
	events chan order.Event

	mu      sync.Mutex
	stopped bool
}

func newStubDaemon() *stubDaemon {
	return &stubDaemon{events: make(chan order.Event, 8)}
}

func (d *stubDaemon) Events() <-chan order.Event { return d.events }

func (d *stubDaemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stopped {
		d.stopped = true
		close(d.events)
	}
	return nil
}

func (d *stubDaemon) wasStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// stubSpawner hands out a fixed daemon/transport pair.
type stubSpawner struct {
	daemon    *stubDaemon
	transport *stubTransport
}

func (s *stubSpawner) Spawn(ctx context.Context, client, broker, symbolKey string) (Daemon, Transport, error) {
	return s.daemon, s.transport, nil
}

func TestSessionOpenAndCommandFlow(t *testing.T) {
	d := newStubDaemon()
	tr := newStubTransport()
	close(tr.ready)
	sp := &stubSpawner{daemon: d, transport: tr}

	sym := order.Symbol{Key: "AAPL", Brokers: []string{"paper"}}
	sess, err := Open(context.Background(), Config{ClientName: "tester"}, sp, "paper", sym, nil)
	require.NoError(t, err)

	_, err = sess.Book.Send("abc-1", sym, 150.25, 100, order.ActionBuy, order.ExecDark)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(tr.forwarded()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "abc-1", tr.forwarded()[0].OID)

	require.NoError(t, sess.Close())
	assert.True(t, d.wasStopped())
}

func TestSessionEventsPassThrough(t *testing.T) {
	d := newStubDaemon()
	tr := newStubTransport()
	close(tr.ready)
	sp := &stubSpawner{daemon: d, transport: tr}

	sym := order.Symbol{Key: "AAPL"}
	sess, err := Open(context.Background(), Config{ClientName: "tester"}, sp, "paper", sym, nil)
	require.NoError(t, err)
	defer sess.Close()

	want := order.Event{
		Kind:   order.DarkExecuted,
		OID:    "abc-1",
		Symbol: "AAPL",
		Price:  150.25,
		Raw:    []byte(`{"resp":"dark_executed","oid":"abc-1","symbol":"AAPL","price":150.25,"extra":"kept"}`),
	}
	d.events <- want

	select {
	case got := <-sess.Events():
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.OID, got.OID)
		assert.Equal(t, want.Raw, got.Raw, "events must pass through unmodified")
	case <-time.After(time.Second):
		t.Fatal("event never reached consumer")
	}

	// daemon stream end closes the consumer stream
	d.Stop()
	select {
	case _, ok := <-sess.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("event stream did not close")
	}
}

func TestSessionHandshakeTimeout(t *testing.T) {
	d := newStubDaemon()
	tr := newStubTransport() // ready never closes: daemon never attaches
	sp := &stubSpawner{daemon: d, transport: tr}

	cfg := Config{ClientName: "tester", HandshakeDeadline: 50 * time.Millisecond}
	started := time.Now()
	sess, err := Open(context.Background(), cfg, sp, "paper", order.Symbol{Key: "AAPL"}, nil)
	require.Nil(t, sess)
	require.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Less(t, time.Since(started), time.Second)
	assert.True(t, d.wasStopped(), "failed handshake must unwind the spawn")
}

func TestSessionOpenParentContextCancelled(t *testing.T) {
	d := newStubDaemon()
	tr := newStubTransport()
	sp := &stubSpawner{daemon: d, transport: tr}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Open(ctx, Config{ClientName: "tester"}, sp, "paper", order.Symbol{Key: "AAPL"}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHandshakeTimeout, "caller cancel is not a handshake timeout")
	assert.True(t, d.wasStopped())
}

func TestSessionCloseReleasesEventPump(t *testing.T) {
	d := &stubDaemon{events: make(chan order.Event, 4*order.DefaultChannelCapacity)}
	tr := newStubTransport()
	close(tr.ready)
	sp := &stubSpawner{daemon: d, transport: tr}

	sess, err := Open(context.Background(), Config{ClientName: "tester"}, sp, "paper", order.Symbol{Key: "AAPL"}, nil)
	require.NoError(t, err)

	// flood well past the consumer buffer with nobody reading Events()
	for i := 0; i < 2*order.DefaultChannelCapacity; i++ {
		d.events <- order.Event{Kind: order.DarkSubmitted, OID: "flood", Symbol: "AAPL"}
	}

	closed := make(chan error, 1)
	go func() { closed <- sess.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind an abandoned event stream")
	}

	// the pump must exit and release the stream
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sess.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream never closed after Close")
		}
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	d := newStubDaemon()
	tr := newStubTransport()
	close(tr.ready)
	sp := &stubSpawner{daemon: d, transport: tr}

	sess, err := Open(context.Background(), Config{ClientName: "tester"}, sp, "paper", order.Symbol{Key: "AAPL"}, nil)
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
}
