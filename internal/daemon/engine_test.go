package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ems-client-go/broker"
	"ems-client-go/metrics"
	"ems-client-go/order"
)

// harness runs one engine with a pushable quote feed and paper broker.
type harness struct {
	cmds   chan order.Command
	quotes chan Quote
	events chan order.Event
	market *broker.PaperMarket
	done   chan error
	cancel context.CancelFunc
}

func newHarness(t *testing.T, symbol string) *harness {
	t.Helper()
	market := broker.NewPaperMarket()
	proxy := broker.NewProxy(nil)
	require.NoError(t, proxy.Register(broker.NewPaperAdapter("paper", market)))

	h := &harness{
		cmds:   make(chan order.Command, 16),
		quotes: make(chan Quote, 16),
		events: make(chan order.Event, 16),
		market: market,
		done:   make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	eng := NewEngine("tester", "paper", symbol, proxy, &ChanQuoteSource{C: h.quotes}, nil)
	go func() { h.done <- eng.Run(ctx, h.cmds, h.events) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) nextEvent(t *testing.T) order.Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event within deadline")
		return order.Event{}
	}
}

func (h *harness) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected event %s for %s", ev.Kind, ev.OID)
	case <-time.After(100 * time.Millisecond):
	}
}

func send(oid string, price float64, action order.Action, mode order.ExecMode) order.Command {
	return order.NewCommand(oid, order.Symbol{Key: "AAPL", Brokers: []string{"paper"}}, price, 100, action, mode)
}

func TestEngineDarkOrderTriggers(t *testing.T) {
	h := newHarness(t, "AAPL")

	h.cmds <- send("dark-1", 150, order.ActionBuy, order.ExecDark)
	ev := h.nextEvent(t)
	assert.Equal(t, order.DarkSubmitted, ev.Kind)
	assert.Equal(t, "dark-1", ev.OID)

	// above the trigger: a dark buy keeps waiting
	h.quotes <- Quote{Symbol: "AAPL", Last: 151.0}
	h.expectQuiet(t)

	h.quotes <- Quote{Symbol: "AAPL", Last: 149.9}
	ev = h.nextEvent(t)
	assert.Equal(t, order.DarkExecuted, ev.Kind)
	assert.Equal(t, 149.9, ev.Price)

	// further triggering quotes must not re-fire a terminal order
	h.quotes <- Quote{Symbol: "AAPL", Last: 149.0}
	h.expectQuiet(t)
}

func TestEngineDarkSellTriggers(t *testing.T) {
	h := newHarness(t, "AAPL")

	h.cmds <- send("dark-2", 150, order.ActionSell, order.ExecDark)
	require.Equal(t, order.DarkSubmitted, h.nextEvent(t).Kind)

	h.quotes <- Quote{Symbol: "AAPL", Last: 149.0}
	h.expectQuiet(t)

	h.quotes <- Quote{Symbol: "AAPL", Last: 150.0}
	assert.Equal(t, order.DarkExecuted, h.nextEvent(t).Kind)
}

func TestEngineAlertFiresOnCross(t *testing.T) {
	h := newHarness(t, "AAPL")

	h.cmds <- send("alert-1", 150, order.ActionAlert, order.ExecDark)
	require.Equal(t, order.DarkSubmitted, h.nextEvent(t).Kind)

	// first quote only arms the reference, same side as later check
	h.quotes <- Quote{Symbol: "AAPL", Last: 148.0}
	h.expectQuiet(t)

	// price crosses the level from below
	h.quotes <- Quote{Symbol: "AAPL", Last: 152.0}
	ev := h.nextEvent(t)
	assert.Equal(t, order.DarkExecuted, ev.Kind)
	assert.Equal(t, "alert-1", ev.OID)
}

func TestEngineAlertFiresOnExactTouch(t *testing.T) {
	h := newHarness(t, "AAPL")

	h.cmds <- send("alert-2", 150, order.ActionAlert, order.ExecDark)
	require.Equal(t, order.DarkSubmitted, h.nextEvent(t).Kind)

	h.quotes <- Quote{Symbol: "AAPL", Last: 150.0}
	assert.Equal(t, order.DarkExecuted, h.nextEvent(t).Kind)
}

func TestEngineLiveOrderFills(t *testing.T) {
	h := newHarness(t, "AAPL")

	h.cmds <- send("live-1", 150, order.ActionBuy, order.ExecLive)
	ev := h.nextEvent(t)
	assert.Equal(t, order.BrokerSubmitted, ev.Kind)

	h.quotes <- Quote{Symbol: "AAPL", Last: 149.5}
	ev = h.nextEvent(t)
	assert.Equal(t, order.BrokerFilled, ev.Kind)
	// fills report the limit price, not the quote
	assert.Equal(t, 150.0, ev.Price)
}

func TestEngineCancelDarkOrder(t *testing.T) {
	h := newHarness(t, "AAPL")

	h.cmds <- send("dark-3", 150, order.ActionBuy, order.ExecDark)
	require.Equal(t, order.DarkSubmitted, h.nextEvent(t).Kind)

	h.cmds <- order.NewCancel("dark-3", "AAPL")
	ev := h.nextEvent(t)
	assert.Equal(t, order.DarkCancelled, ev.Kind)

	// cancelled is terminal: the trigger quote must not execute it
	h.quotes <- Quote{Symbol: "AAPL", Last: 149.0}
	h.expectQuiet(t)
}

func TestEngineCancelLiveOrder(t *testing.T) {
	h := newHarness(t, "AAPL")

	h.cmds <- send("live-2", 150, order.ActionBuy, order.ExecLive)
	require.Equal(t, order.BrokerSubmitted, h.nextEvent(t).Kind)

	h.cmds <- order.NewCancel("live-2", "AAPL")
	assert.Equal(t, order.BrokerCancelled, h.nextEvent(t).Kind)
}

func TestEngineCancelOnTerminalIsNoop(t *testing.T) {
	h := newHarness(t, "AAPL")

	h.cmds <- send("dark-4", 150, order.ActionBuy, order.ExecDark)
	require.Equal(t, order.DarkSubmitted, h.nextEvent(t).Kind)
	h.quotes <- Quote{Symbol: "AAPL", Last: 149.0}
	require.Equal(t, order.DarkExecuted, h.nextEvent(t).Kind)

	// the client forwards cancels regardless of state; the daemon shrugs
	h.cmds <- order.NewCancel("dark-4", "AAPL")
	h.expectQuiet(t)
}

func TestEngineCancelUnknownOID(t *testing.T) {
	h := newHarness(t, "AAPL")
	h.cmds <- order.NewCancel("ghost", "AAPL")
	h.expectQuiet(t)
}

func TestEngineResendSupersedes(t *testing.T) {
	h := newHarness(t, "AAPL")

	h.cmds <- send("re-1", 150, order.ActionBuy, order.ExecDark)
	require.Equal(t, order.DarkSubmitted, h.nextEvent(t).Kind)

	// new intent under the same oid replaces the held order
	h.cmds <- send("re-1", 140, order.ActionBuy, order.ExecDark)
	require.Equal(t, order.DarkSubmitted, h.nextEvent(t).Kind)

	// the old 150 trigger is gone; only 140 fires
	h.quotes <- Quote{Symbol: "AAPL", Last: 145.0}
	h.expectQuiet(t)
	h.quotes <- Quote{Symbol: "AAPL", Last: 139.5}
	assert.Equal(t, order.DarkExecuted, h.nextEvent(t).Kind)
}

func TestEngineResendKeepsHeldGaugeStable(t *testing.T) {
	h := newHarness(t, "AAPL")
	base := testutil.ToFloat64(metrics.DarkOrdersHeld)

	h.cmds <- send("g-1", 150, order.ActionBuy, order.ExecDark)
	require.Equal(t, order.DarkSubmitted, h.nextEvent(t).Kind)

	// superseding the held order must not count it twice
	h.cmds <- send("g-1", 140, order.ActionBuy, order.ExecDark)
	require.Equal(t, order.DarkSubmitted, h.nextEvent(t).Kind)
	assert.Equal(t, base+1, testutil.ToFloat64(metrics.DarkOrdersHeld))

	h.cmds <- order.NewCancel("g-1", "AAPL")
	require.Equal(t, order.DarkCancelled, h.nextEvent(t).Kind)
	assert.Equal(t, base, testutil.ToFloat64(metrics.DarkOrdersHeld))
}

func TestEngineClosesEventsOnCommandStreamEnd(t *testing.T) {
	h := newHarness(t, "AAPL")
	close(h.cmds)
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	_, ok := <-h.events
	assert.False(t, ok, "events must close when the engine stops")
	// Cleanup will cancel again; re-arm done so it does not block
	h.done <- nil
}
