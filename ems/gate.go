package ems

import (
	"context"
	"sync"
)

// Gate is the one-shot readiness signal for a daemon session. It is set
// at most once, when the relay begins draining the command channel;
// waiting after it is set returns immediately. One gate per session; a
// new attach needs a fresh gate.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Set marks the gate ready. Subsequent calls are no-ops.
func (g *Gate) Set() {
	g.once.Do(func() { close(g.ch) })
}

// IsSet reports whether the gate has fired.
func (g *Gate) IsSet() bool {
	select {
	case <-g.Done():
		return true
	default:
		return false
	}
}

// Done exposes the gate for select loops.
func (g *Gate) Done() <-chan struct{} {
	return g.ch
}

// Wait suspends until the gate is set or ctx expires.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
