// Package broker holds the capability proxy through which the daemon
// talks to heterogeneous broker back-ends. Methods are registered
// explicitly per adapter instead of resolved by reflection at call time;
// a lookup miss is a soft failure (logged, absent result), never a panic.
package broker

import (
	"context"
	"fmt"
	"sync"

	"ems-client-go/infrastructure/logger"
)

// Handler is one broker method. kwargs carry the caller's named
// arguments; the result shape is adapter-defined.
type Handler func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error)

// Method pairs a handler with the argument names it cannot run without.
type Method struct {
	Fn       Handler
	Required []string
}

// CapabilitySet maps method names to handlers.
type CapabilitySet map[string]Method

// Adapter is one registered broker back-end. API is the narrow trading
// surface tried first; Client is the wider fallback surface.
type Adapter struct {
	Name   string
	API    CapabilitySet
	Client CapabilitySet
}

// Proxy dispatches named calls to registered adapters.
type Proxy struct {
	log *logger.Logger

	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewProxy(log *logger.Logger) *Proxy {
	if log == nil {
		log = logger.Nop()
	}
	return &Proxy{
		log:      log,
		adapters: make(map[string]Adapter),
	}
}

// Register installs an adapter. Duplicate names are an error: capability
// resolution happens once, at registration time, not per call.
func (p *Proxy) Register(a Adapter) error {
	if a.Name == "" {
		return fmt.Errorf("register adapter: name required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.adapters[a.Name]; dup {
		return fmt.Errorf("register adapter %s: already registered", a.Name)
	}
	p.adapters[a.Name] = a
	return nil
}

// Brokers lists registered adapter names.
func (p *Proxy) Brokers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.adapters))
	for n := range p.adapters {
		names = append(names, n)
	}
	return names
}

// Call invokes a broker method by name. Resolution tries the adapter's
// API set first, then the Client set. Unknown broker, unknown method, or
// missing required arguments when none are given are soft failures: they
// are logged and ok is false. Errors from the handler itself propagate.
func (p *Proxy) Call(ctx context.Context, brokerName, method string, kwargs map[string]interface{}) (result interface{}, ok bool, err error) {
	p.mu.RLock()
	a, found := p.adapters[brokerName]
	p.mu.RUnlock()
	if !found {
		p.log.Error(fmt.Sprintf("no broker adapter %q registered", brokerName))
		return nil, false, nil
	}

	m, found := a.API[method]
	if !found {
		p.log.Warn(fmt.Sprintf("method %s not on %s api surface, trying client", method, brokerName))
		m, found = a.Client[method]
	}
	if !found {
		p.log.Error(fmt.Sprintf("no api method %q on broker %s", method, brokerName))
		return nil, false, nil
	}

	if len(kwargs) == 0 && len(m.Required) > 0 {
		p.log.Error(fmt.Sprintf("arguments required by %s.%s: %v", brokerName, method, m.Required))
		return nil, false, nil
	}

	res, err := m.Fn(ctx, kwargs)
	if err != nil {
		return nil, true, fmt.Errorf("%s.%s: %w", brokerName, method, err)
	}
	return res, true, nil
}
