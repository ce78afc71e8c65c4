package daemon

import (
	"context"
	"time"

	"ems-client-go/broker"
)

// Quote is one observation of an instrument's last price.
type Quote struct {
	Symbol string
	Last   float64
	Time   time.Time
}

// QuoteSource feeds an engine the prices its dark orders trigger on.
type QuoteSource interface {
	Subscribe(ctx context.Context, symbol string) (<-chan Quote, error)
}

// ProxyQuoteSource polls the broker proxy's "quote" capability. Stale
// ticks are dropped rather than queued: only the latest price matters to
// a trigger check.
type ProxyQuoteSource struct {
	Proxy  *broker.Proxy
	Broker string
	// Interval between polls (default 250ms).
	Interval time.Duration
}

func (s *ProxyQuoteSource) Subscribe(ctx context.Context, symbol string) (<-chan Quote, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ch := make(chan Quote, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			res, ok, err := s.Proxy.Call(ctx, s.Broker, "quote", map[string]interface{}{
				"symbol": symbol,
			})
			if err != nil || !ok {
				continue
			}
			m, ok := res.(map[string]interface{})
			if !ok {
				continue
			}
			last, ok := m["last"].(float64)
			if !ok || last <= 0 {
				continue
			}
			q := Quote{Symbol: symbol, Last: last, Time: time.Now()}
			select {
			case ch <- q:
			default:
				// drop the stale tick still sitting in the buffer
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- q:
				default:
				}
			}
		}
	}()
	return ch, nil
}

// ChanQuoteSource adapts a plain channel; tests and sims push into it.
type ChanQuoteSource struct {
	C chan Quote
}

func (s *ChanQuoteSource) Subscribe(ctx context.Context, symbol string) (<-chan Quote, error) {
	return s.C, nil
}
