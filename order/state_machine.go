package order

import (
	"fmt"
	"sync"
)

// State is the per-OID lifecycle position. StateSent is client-local,
// entered the instant a command is enqueued; every other state mirrors a
// daemon-reported event.
type State string

const (
	StateSent            State = "sent"
	StateDarkSubmitted   State = State(DarkSubmitted)
	StateBrokerSubmitted State = State(BrokerSubmitted)
	StateDarkCancelled   State = State(DarkCancelled)
	StateBrokerCancelled State = State(BrokerCancelled)
	StateDarkExecuted    State = State(DarkExecuted)
	StateBrokerExecuted  State = State(BrokerExecuted)
	StateBrokerFilled    State = State(BrokerFilled)
)

// Transition 状态转换
type Transition struct {
	From State
	To   State
}

// StateMachine validates order lifecycle transitions.
type StateMachine struct {
	transitions map[Transition]bool
	mu          sync.RWMutex
}

func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[Transition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legal := []Transition{
		// dark path
		{StateSent, StateDarkSubmitted},
		{StateDarkSubmitted, StateDarkExecuted},
		{StateDarkSubmitted, StateDarkCancelled},

		// live path
		{StateSent, StateBrokerSubmitted},
		{StateBrokerSubmitted, StateBrokerExecuted},
		{StateBrokerSubmitted, StateBrokerCancelled},
		{StateBrokerSubmitted, StateBrokerFilled},

		// 终态不能转换
	}
	for _, t := range legal {
		sm.transitions[t] = true
	}
}

// ValidateTransition returns nil when from -> to is legal. Re-entering the
// same state is always allowed: duplicate terminal events across a
// reconnect must be treated as idempotent no-ops.
func (sm *StateMachine) ValidateTransition(from, to State) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if from == to {
		return nil
	}
	if !sm.transitions[Transition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current State) []State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	allowed := make([]State, 0)
	for t := range sm.transitions {
		if t.From == current {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// IsTerminal 判断是否是终态
func (sm *StateMachine) IsTerminal(s State) bool {
	switch s {
	case StateDarkExecuted, StateDarkCancelled,
		StateBrokerExecuted, StateBrokerCancelled, StateBrokerFilled:
		return true
	default:
		return false
	}
}

// CanCancel reports whether a cancel can still take effect in state s.
// The daemon, not the client, is authoritative: the client forwards the
// cancel regardless and the daemon drops it if the order is terminal.
func (sm *StateMachine) CanCancel(s State) bool {
	switch s {
	case StateSent, StateDarkSubmitted, StateBrokerSubmitted:
		return true
	default:
		return false
	}
}
