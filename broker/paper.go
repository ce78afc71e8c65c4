package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PaperMarket is an in-memory quote board backing the paper adapter.
// The daemon's quote poller reads it; tests and the sim push prices in.
type PaperMarket struct {
	mu   sync.RWMutex
	last map[string]float64
}

func NewPaperMarket() *PaperMarket {
	return &PaperMarket{last: make(map[string]float64)}
}

// SetLast publishes a last-trade price for symbol.
func (m *PaperMarket) SetLast(symbol string, px float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[symbol] = px
}

// Last returns the most recent price for symbol.
func (m *PaperMarket) Last(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	px, ok := m.last[symbol]
	return px, ok
}

func stringArg(kwargs map[string]interface{}, key string) (string, error) {
	v, ok := kwargs[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: want string, got %T", key, v)
	}
	return s, nil
}

// NewPaperAdapter builds an adapter that fills live orders against a
// PaperMarket. It exists so the daemon path can be exercised end to end
// without broker credentials.
func NewPaperAdapter(name string, market *PaperMarket) Adapter {
	return Adapter{
		Name: name,
		API: CapabilitySet{
			"submit_order": Method{
				Required: []string{"oid", "symbol", "side", "price", "size"},
				Fn: func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error) {
					oid, err := stringArg(kwargs, "oid")
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"status": "accepted",
						"oid":    oid,
					}, nil
				},
			},
			"cancel_order": Method{
				Required: []string{"oid"},
				Fn: func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error) {
					oid, err := stringArg(kwargs, "oid")
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"status": "cancelled",
						"oid":    oid,
					}, nil
				},
			},
		},
		Client: CapabilitySet{
			"quote": Method{
				Required: []string{"symbol"},
				Fn: func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error) {
					symbol, err := stringArg(kwargs, "symbol")
					if err != nil {
						return nil, err
					}
					px, ok := market.Last(symbol)
					if !ok {
						return nil, fmt.Errorf("no quote for %s", symbol)
					}
					return map[string]interface{}{
						"symbol": symbol,
						"last":   px,
					}, nil
				},
			},
			"time": Method{
				Fn: func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error) {
					return time.Now().UTC().Unix(), nil
				},
			},
		},
	}
}
