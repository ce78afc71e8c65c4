package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ems-client-go/order"
)

// drainHandler consumes commands and emits nothing, like a daemon with
// no held orders.
type drainHandler struct{}

func (drainHandler) Serve(ctx context.Context, client, broker, symbol string, cmds <-chan order.Command, events chan<- order.Event) error {
	defer close(events)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-cmds:
			if !ok {
				return nil
			}
		}
	}
}

func TestServerStopWithAttachedClient(t *testing.T) {
	srv := &Server{ListenAddr: "127.0.0.1:0", Handler: drainHandler{}}
	require.NoError(t, srv.Start(context.Background()))

	conn, err := Dial(context.Background(), srv.BoundAddr(), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Attach("tester", "paper", "AAPL"))

	select {
	case <-conn.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("attach never acknowledged")
	}

	// an idle attached client must not wedge shutdown
	done := make(chan error, 1)
	go func() { done <- srv.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on an idle session")
	}

	// the client observes the hangup as stream end
	select {
	case _, ok := <-conn.Events():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("client event stream never closed")
	}
}

func TestServerStopIdempotent(t *testing.T) {
	srv := &Server{ListenAddr: "127.0.0.1:0", Handler: drainHandler{}}
	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
	require.Error(t, srv.Health())
}
