package ems

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ems-client-go/infrastructure/logger"
	"ems-client-go/metrics"
	"ems-client-go/order"
)

// DefaultHandshakeDeadline bounds the daemon attach rendezvous. It is a
// policy default, not a structural constant: override it per session via
// Config.HandshakeDeadline.
const DefaultHandshakeDeadline = 10 * time.Second

// Daemon is the handle a Spawner returns for a running EMS daemon: the
// inbound lifecycle event stream plus the control to terminate it.
type Daemon interface {
	Events() <-chan order.Event
	Stop() error
}

// Spawner starts an EMS daemon as an isolated concurrent unit (an
// in-process engine, a subprocess, or a remote service) given the
// client identity, broker name and instrument key.
type Spawner interface {
	Spawn(ctx context.Context, client, broker, symbolKey string) (Daemon, Transport, error)
}

// Config carries per-session knobs.
type Config struct {
	// ClientName identifies this client to the daemon.
	ClientName string
	// ChannelCapacity bounds the command channel (default 100).
	ChannelCapacity int
	// HandshakeDeadline bounds the readiness wait (default 10s).
	HandshakeDeadline time.Duration
}

// Session is one open daemon connection: the order book for issuing
// commands and the inbound event stream. The book, gate and relay are
// owned exclusively by this session and die with it.
type Session struct {
	Book *order.Book

	daemon    Daemon
	transport Transport
	cancel    context.CancelFunc
	relayDone chan error
	events    chan order.Event
	done      chan struct{}
	log       *logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open spawns the EMS daemon, starts the relay, and blocks until the
// readiness gate is set or the handshake deadline passes. On timeout the
// spawn is unwound; no orphaned daemons survive a failed acquisition.
func Open(ctx context.Context, cfg Config, sp Spawner, broker string, sym order.Symbol, log *logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.Nop()
	}
	deadline := cfg.HandshakeDeadline
	if deadline <= 0 {
		deadline = DefaultHandshakeDeadline
	}

	book := order.NewBook(cfg.ChannelCapacity)
	gate := NewGate()

	daemon, transport, err := sp.Spawn(ctx, cfg.ClientName, broker, sym.Key)
	if err != nil {
		return nil, fmt.Errorf("spawn emsd: %w", err)
	}

	relay := NewRelay(book, gate, log)
	runCtx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan error, 1)
	started := time.Now()
	go func() {
		relayDone <- relay.Run(runCtx, transport)
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, deadline)
	defer waitCancel()
	if err := gate.Wait(waitCtx); err != nil {
		// 握手失败：回收 daemon 与 relay
		cancel()
		_ = transport.Close()
		book.Close()
		stopErr := daemon.Stop()
		<-relayDone
		if stopErr != nil {
			log.LogError(stopErr, map[string]interface{}{"stage": "handshake_unwind"})
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			metrics.HandshakeTimeouts.Inc()
			return nil, fmt.Errorf("emsd did not attach within %s: %w", deadline, ErrHandshakeTimeout)
		}
		return nil, fmt.Errorf("emsd attach: %w", err)
	}
	metrics.ObserveHandshake(time.Since(started).Seconds())
	metrics.SessionsActive.Inc()
	log.LogCommand("session_open", "", map[string]interface{}{
		"client": cfg.ClientName,
		"broker": broker,
		"symbol": sym.Key,
	})

	s := &Session{
		Book:      book,
		daemon:    daemon,
		transport: transport,
		cancel:    cancel,
		relayDone: relayDone,
		events:    make(chan order.Event, order.DefaultChannelCapacity),
		done:      make(chan struct{}),
		log:       log,
	}
	go s.pumpEvents()
	return s, nil
}

// pumpEvents forwards daemon events to the consumer unmodified, in
// arrival order, recording observability along the way. The out channel
// closes when the daemon's stream ends; that stream end is how
// TransportClosed reaches the consumer.
func (s *Session) pumpEvents() {
	defer close(s.events)
	for ev := range s.daemon.Events() {
		metrics.IncEventsReceived(string(ev.Kind))
		s.log.LogLifecycle(string(ev.Kind), ev.OID, map[string]interface{}{
			"symbol": ev.Symbol,
		})
		// a consumer that stopped reading must not pin this goroutine
		// past Close
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// Events is the inbound lifecycle stream. It is closed when the daemon
// disconnects or the session is closed.
func (s *Session) Events() <-chan order.Event {
	return s.events
}

// Close tears down the session: the command channel is closed so the
// relay drains what is queued, then the transport and daemon are stopped.
// Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Book.Close()
		relayErr := <-s.relayDone
		s.cancel()
		_ = s.transport.Close()
		stopErr := s.daemon.Stop()
		close(s.done)
		metrics.SessionsActive.Dec()

		if relayErr != nil && !errors.Is(relayErr, context.Canceled) {
			s.closeErr = relayErr
		} else if stopErr != nil {
			s.closeErr = stopErr
		}
	})
	return s.closeErr
}
