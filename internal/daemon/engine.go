// Package daemon implements emsd's per-session execution engine: it
// consumes order commands, holds dark orders against a quote feed, routes
// live orders through the broker proxy, and reports lifecycle events.
package daemon

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ems-client-go/broker"
	"ems-client-go/infrastructure/logger"
	"ems-client-go/metrics"
	"ems-client-go/order"
)

// execState tracks one order the daemon knows about.
type execState struct {
	cmd   order.Command
	state order.State

	// ref is the quote seen when the order was armed; alerts trigger on
	// the price crossing their level relative to it.
	ref     decimal.Decimal
	haveRef bool
}

// Engine executes one attached client's commands. It is not safe for
// concurrent use: Run is the only goroutine touching its state.
type Engine struct {
	client string
	broker string
	symbol string

	proxy  *broker.Proxy
	quotes QuoteSource
	log    *logger.Logger
	sm     *order.StateMachine

	orders map[string]*execState
}

func NewEngine(client, brokerName, symbol string, proxy *broker.Proxy, quotes QuoteSource, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		client: client,
		broker: brokerName,
		symbol: symbol,
		proxy:  proxy,
		quotes: quotes,
		log:    log,
		sm:     order.NewStateMachine(),
		orders: make(map[string]*execState),
	}
}

// Run consumes commands until cmds closes or ctx ends, emitting lifecycle
// events. It closes events before returning.
func (e *Engine) Run(ctx context.Context, cmds <-chan order.Command, events chan<- order.Event) error {
	defer close(events)

	var qch <-chan Quote
	if e.quotes != nil {
		ch, err := e.quotes.Subscribe(ctx, e.symbol)
		if err != nil {
			e.log.LogError(err, map[string]interface{}{"symbol": e.symbol})
		} else {
			qch = ch
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			e.handleCommand(ctx, cmd, events)
		case q, ok := <-qch:
			if !ok {
				qch = nil
				continue
			}
			e.onQuote(ctx, q, events)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd order.Command, events chan<- order.Event) {
	switch cmd.Action {
	case order.ActionCancel:
		e.handleCancel(ctx, cmd, events)
	case order.ActionBuy, order.ActionSell, order.ActionAlert:
		e.handleSubmit(ctx, cmd, events)
	default:
		e.log.Warn(fmt.Sprintf("dropping command with unknown action %q oid=%s", cmd.Action, cmd.OID))
	}
}

func (e *Engine) handleSubmit(ctx context.Context, cmd order.Command, events chan<- order.Event) {
	if prior, exists := e.orders[cmd.OID]; exists && !e.sm.IsTerminal(prior.state) {
		// resend under a live oid supersedes the prior intent
		if prior.state == order.StateDarkSubmitted {
			metrics.DarkOrdersHeld.Dec()
		}
		e.log.LogCommand("superseded", cmd.OID, map[string]interface{}{
			"prior_state": string(prior.state),
		})
	}
	st := &execState{cmd: cmd, state: order.StateSent}
	e.orders[cmd.OID] = st

	// alerts are dark by definition: nothing to hand a broker
	if cmd.ExecMode == order.ExecDark || cmd.Action == order.ActionAlert {
		if e.transition(st, order.StateDarkSubmitted) {
			metrics.DarkOrdersHeld.Inc()
			e.emit(ctx, events, order.DarkSubmitted, st, 0)
		}
		return
	}

	// live: pass through to the broker adapter
	_, ok, err := e.proxy.Call(ctx, e.broker, "submit_order", map[string]interface{}{
		"oid":    cmd.OID,
		"symbol": cmd.Symbol,
		"side":   string(cmd.Action),
		"price":  cmd.Price,
		"size":   cmd.Size,
	})
	if err != nil {
		e.log.LogError(err, map[string]interface{}{"oid": cmd.OID, "stage": "submit"})
		return
	}
	if !ok {
		// soft failure upstream: the order stays local-only
		e.log.Warn("broker submit unavailable, order held at sent: " + cmd.OID)
		return
	}
	if e.transition(st, order.StateBrokerSubmitted) {
		e.emit(ctx, events, order.BrokerSubmitted, st, 0)
	}
}

func (e *Engine) handleCancel(ctx context.Context, cmd order.Command, events chan<- order.Event) {
	st, ok := e.orders[cmd.OID]
	if !ok {
		e.log.Warn("cancel for oid never seen here: " + cmd.OID)
		return
	}
	if e.sm.IsTerminal(st.state) {
		// client forwards cancels unconditionally; terminal means no-op
		e.log.LogCommand("cancel_noop_terminal", cmd.OID, map[string]interface{}{
			"state": string(st.state),
		})
		return
	}

	switch st.state {
	case order.StateDarkSubmitted:
		if e.transition(st, order.StateDarkCancelled) {
			metrics.DarkOrdersHeld.Dec()
			e.emit(ctx, events, order.DarkCancelled, st, 0)
		}
	case order.StateBrokerSubmitted:
		_, ok, err := e.proxy.Call(ctx, e.broker, "cancel_order", map[string]interface{}{
			"oid": cmd.OID,
		})
		if err != nil {
			e.log.LogError(err, map[string]interface{}{"oid": cmd.OID, "stage": "cancel"})
			return
		}
		if !ok {
			e.log.Warn("broker cancel unavailable for " + cmd.OID)
			return
		}
		if e.transition(st, order.StateBrokerCancelled) {
			e.emit(ctx, events, order.BrokerCancelled, st, 0)
		}
	default:
		// never made it past sent; drop the local record of the attempt
		e.log.LogCommand("cancel_before_submit", cmd.OID, nil)
		delete(e.orders, cmd.OID)
	}
}

// onQuote walks held orders and fires the ones whose condition the new
// quote satisfies. Price comparisons use decimals: trigger levels are
// exact, float drift must not fire or hold an order spuriously.
func (e *Engine) onQuote(ctx context.Context, q Quote, events chan<- order.Event) {
	last := decimal.NewFromFloat(q.Last)
	for _, st := range e.orders {
		if e.sm.IsTerminal(st.state) {
			continue
		}
		target := decimal.NewFromFloat(st.cmd.Price)
		switch st.state {
		case order.StateDarkSubmitted:
			if e.conditionMet(st, target, last) {
				if e.transition(st, order.StateDarkExecuted) {
					metrics.DarkOrdersHeld.Dec()
					e.emit(ctx, events, order.DarkExecuted, st, q.Last)
				}
			}
		case order.StateBrokerSubmitted:
			// paper model: a marketable live limit order fills at its
			// limit price once the quote crosses it
			if marketable(st.cmd.Action, target, last) {
				if e.transition(st, order.StateBrokerFilled) {
					e.emit(ctx, events, order.BrokerFilled, st, st.cmd.Price)
				}
			}
		}
		st.ref = last
		st.haveRef = true
	}
}

// conditionMet decides whether a dark order's trigger fired on this quote.
func (e *Engine) conditionMet(st *execState, target, last decimal.Decimal) bool {
	switch st.cmd.Action {
	case order.ActionBuy:
		return last.LessThanOrEqual(target)
	case order.ActionSell:
		return last.GreaterThanOrEqual(target)
	case order.ActionAlert:
		if last.Equal(target) {
			return true
		}
		if !st.haveRef {
			return false
		}
		// fire when the price crosses the level from either side
		return st.ref.Sub(target).Sign() != last.Sub(target).Sign()
	default:
		return false
	}
}

func marketable(action order.Action, target, last decimal.Decimal) bool {
	switch action {
	case order.ActionBuy:
		return last.LessThanOrEqual(target)
	case order.ActionSell:
		return last.GreaterThanOrEqual(target)
	default:
		return false
	}
}

// transition applies a state change, dropping illegal ones. Duplicate
// terminal reports show up as same-state transitions and pass validation,
// but the caller only emits on a real change.
func (e *Engine) transition(st *execState, to order.State) bool {
	if st.state == to {
		return false
	}
	if err := e.sm.ValidateTransition(st.state, to); err != nil {
		e.log.LogError(err, map[string]interface{}{"oid": st.cmd.OID})
		return false
	}
	st.state = to
	return true
}

func (e *Engine) emit(ctx context.Context, events chan<- order.Event, kind order.EventKind, st *execState, price float64) {
	e.log.LogLifecycle(string(kind), st.cmd.OID, map[string]interface{}{
		"symbol": st.cmd.Symbol,
		"client": e.client,
	})
	select {
	case events <- order.Event{
		Kind:   kind,
		OID:    st.cmd.OID,
		Symbol: st.cmd.Symbol,
		Price:  price,
		Size:   st.cmd.Size,
		Broker: e.broker,
	}:
	case <-ctx.Done():
	}
}

// Factory hands each attached gateway session its own engine.
type Factory struct {
	Proxy  *broker.Proxy
	Quotes QuoteSource
	Log    *logger.Logger
}

func (f *Factory) Serve(ctx context.Context, client, brokerName, symbol string, cmds <-chan order.Command, events chan<- order.Event) error {
	eng := NewEngine(client, brokerName, symbol, f.Proxy, f.Quotes, f.Log)
	return eng.Run(ctx, cmds, events)
}
