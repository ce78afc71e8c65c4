package ems

import (
	"context"
	"fmt"
	"sync"

	"ems-client-go/infrastructure/logger"
	"ems-client-go/metrics"
	"ems-client-go/order"
)

// Transport is the outbound half of the wire to the EMS daemon. Ready
// fires once the daemon has attached and will accept commands.
type Transport interface {
	Ready() <-chan struct{}
	SendCommand(ctx context.Context, cmd order.Command) error
	Close() error
}

// Relay drains a book's command channel and forwards each command over
// the transport, strictly in enqueue order. On first iteration it sets
// the session's readiness gate. No reordering, batching or coalescing;
// if the daemon wants to batch, that is its business.
//
// A relay serves exactly one session. Once Run returns the session is
// over; a new session needs a new book, gate and relay.
type Relay struct {
	book *order.Book
	gate *Gate
	log  *logger.Logger

	mu   sync.Mutex
	taps []chan order.Command
}

func NewRelay(book *order.Book, gate *Gate, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.Nop()
	}
	return &Relay{book: book, gate: gate, log: log}
}

// SubscribeForwarded returns a channel observing commands as they are
// forwarded. Delivery is best-effort: a slow observer misses commands
// rather than stalling the relay.
func (r *Relay) SubscribeForwarded() <-chan order.Command {
	ch := make(chan order.Command, 16)
	r.mu.Lock()
	r.taps = append(r.taps, ch)
	r.mu.Unlock()
	return ch
}

func (r *Relay) publish(cmd order.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.taps {
		select {
		case ch <- cmd:
		default:
		}
	}
}

// Run blocks until the command channel closes (clean session end), the
// context is cancelled, or the transport fails. Transport failures stop
// the relay immediately: commands still queued stay queued and are
// reported to nobody; retrying is the order-entry layer's call.
func (r *Relay) Run(ctx context.Context, t Transport) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Ready():
	}

	// 信号就绪：握手方可以开始发单
	r.gate.Set()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-r.book.Commands():
			if !ok {
				return nil
			}
			metrics.SetChannelDepth(r.book.Pending())
			if err := t.SendCommand(ctx, cmd); err != nil {
				metrics.TransportErrors.Inc()
				return fmt.Errorf("forward %s %s: %w: %v",
					cmd.Action, cmd.OID, ErrTransportClosed, err)
			}
			metrics.IncCommandsRelayed()
			r.log.LogCommand("relayed", cmd.OID, map[string]interface{}{
				"action":    string(cmd.Action),
				"symbol":    cmd.Symbol,
				"price":     cmd.Price,
				"size":      cmd.Size,
				"exec_mode": string(cmd.ExecMode),
			})
			r.publish(cmd)
		}
	}
}
