package daemon

import (
	"context"
	"errors"
	"sync"

	"ems-client-go/broker"
	"ems-client-go/ems"
	"ems-client-go/infrastructure/logger"
	"ems-client-go/order"
)

// LocalSpawner runs the daemon engine in-process, one goroutine per
// session, wired to the client over plain channels. Same contract as a
// remote emsd, without the socket.
type LocalSpawner struct {
	Proxy  *broker.Proxy
	Quotes QuoteSource
	Log    *logger.Logger
}

func (s *LocalSpawner) Spawn(ctx context.Context, client, brokerName, symbolKey string) (ems.Daemon, ems.Transport, error) {
	eng := NewEngine(client, brokerName, symbolKey, s.Proxy, s.Quotes, s.Log)

	runCtx, cancel := context.WithCancel(context.Background())
	events := make(chan order.Event, order.DefaultChannelCapacity)
	t := &localTransport{
		ready: make(chan struct{}),
		cmds:  make(chan order.Command, order.DefaultChannelCapacity),
		done:  make(chan struct{}),
	}
	d := &localDaemon{events: events, cancel: cancel, done: t.done}

	go func() {
		defer close(t.done)
		// the engine is attached and consuming from here on
		close(t.ready)
		if err := eng.Run(runCtx, t.cmds, events); err != nil && !errors.Is(err, context.Canceled) {
			if s.Log != nil {
				s.Log.LogError(err, map[string]interface{}{"client": client})
			}
		}
	}()
	return d, t, nil
}

type localDaemon struct {
	events chan order.Event
	cancel context.CancelFunc
	done   chan struct{}
}

func (d *localDaemon) Events() <-chan order.Event { return d.events }

func (d *localDaemon) Stop() error {
	d.cancel()
	<-d.done
	return nil
}

type localTransport struct {
	ready chan struct{}
	cmds  chan order.Command
	done  chan struct{}

	closeOnce sync.Once
}

func (t *localTransport) Ready() <-chan struct{} { return t.ready }

func (t *localTransport) SendCommand(ctx context.Context, cmd order.Command) error {
	select {
	case t.cmds <- cmd:
		return nil
	case <-t.done:
		return errors.New("local emsd stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *localTransport) Close() error {
	t.closeOnce.Do(func() { close(t.cmds) })
	return nil
}
