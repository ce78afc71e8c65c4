package order

import (
	"fmt"
	"sync"

	"ems-client-go/metrics"
)

// DefaultChannelCapacity bounds the command channel when the session
// config does not say otherwise.
const DefaultChannelCapacity = 100

// Book is the client-side order registry: the record of what we asked
// for, keyed by OID, plus the bounded FIFO channel that carries each
// command to the relay. One book per daemon session; it must not be
// shared across sessions.
//
// Send/Cancel are safe for concurrent use but all enqueues are serialized
// through one mutex so the channel sees a single logical producer.
type Book struct {
	mu     sync.RWMutex
	sent   map[string]Command
	cmds   chan Command
	closed bool
}

// NewBook creates a registry with a command channel of the given
// capacity (DefaultChannelCapacity when capacity <= 0).
func NewBook(capacity int) *Book {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Book{
		sent: make(map[string]Command),
		cmds: make(chan Command, capacity),
	}
}

// Send constructs a submit command, records it as the last-sent command
// for oid and enqueues it without blocking. The registry mutation is
// visible before Send returns; delivery to the daemon is asynchronous.
// A second Send under the same oid overwrites the registry entry.
func (b *Book) Send(oid string, sym Symbol, price, size float64, action Action, mode ExecMode) (Command, error) {
	cmd := NewCommand(oid, sym, price, size, action, mode)
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent[oid] = cmd
	if err := b.enqueueLocked(cmd); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// Modify is reserved: replace-in-place vs cancel+resend is a daemon
// policy the protocol does not encode yet, so guessing here would be
// worse than failing.
func (b *Book) Modify(oid string, price float64) error {
	b.mu.RLock()
	_, ok := b.sent[oid]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("modify %s: %w", oid, ErrUnknownOrder)
	}
	return fmt.Errorf("modify %s: %w", oid, ErrUnsupported)
}

// Cancel enqueues a cancel for a previously sent oid. The registry entry
// is retained: the book records intent history, not daemon-confirmed
// state. Whether the cancel can still take effect is the daemon's call.
func (b *Book) Cancel(oid string) (Command, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prior, ok := b.sent[oid]
	if !ok {
		return Command{}, fmt.Errorf("cancel %s: %w", oid, ErrUnknownOrder)
	}
	cmd := NewCancel(oid, prior.Symbol)
	if err := b.enqueueLocked(cmd); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// enqueueLocked performs the non-blocking channel send. Callers hold b.mu.
func (b *Book) enqueueLocked(cmd Command) error {
	if b.closed {
		return fmt.Errorf("enqueue %s %s: %w", cmd.Action, cmd.OID, ErrClosed)
	}
	select {
	case b.cmds <- cmd:
		metrics.IncCommandsEnqueued(string(cmd.Action))
		metrics.SetChannelDepth(len(b.cmds))
		return nil
	default:
		metrics.IncCommandRejects("channel_full")
		return fmt.Errorf("enqueue %s %s: %w", cmd.Action, cmd.OID, ErrChannelFull)
	}
}

// Sent returns the last-sent command for oid.
func (b *Book) Sent(oid string) (Command, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.sent[oid]
	return c, ok
}

// SentOrders returns a copy of the registry.
func (b *Book) SentOrders() map[string]Command {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Command, len(b.sent))
	for oid, c := range b.sent {
		out[oid] = c
	}
	return out
}

// Commands exposes the consuming end of the channel. There must be
// exactly one consumer: the session's relay.
func (b *Book) Commands() <-chan Command {
	return b.cmds
}

// Close shuts the command channel so the relay drains what is queued and
// exits. Further Send/Cancel calls fail with ErrClosed. A closed book is
// not reusable; a new session needs a new book.
func (b *Book) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.cmds)
}

// Pending reports how many commands sit in the channel awaiting relay.
func (b *Book) Pending() int { return len(b.cmds) }

// Capacity reports the channel bound.
func (b *Book) Capacity() int { return cap(b.cmds) }
