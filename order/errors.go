package order

import "errors"

var (
	// ErrUnknownOrder is returned by cancel/modify when the OID was never
	// sent through this book. Absence is an error, not a no-op.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrChannelFull is returned when the command channel is saturated.
	// The enqueue is non-blocking; the caller decides whether to back off.
	ErrChannelFull = errors.New("command channel full")

	// ErrUnsupported marks operations reserved for future protocol
	// revisions. They fail loudly rather than pretend to succeed.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrClosed is returned by enqueues after the book's session ended.
	ErrClosed = errors.New("command channel closed")
)
