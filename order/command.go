package order

import "fmt"

// Action is the intent verb carried on the wire.
type Action string

const (
	ActionBuy    Action = "buy"
	ActionSell   Action = "sell"
	ActionAlert  Action = "alert"
	ActionCancel Action = "cancel"
)

// ExecMode selects where an order waits for its execution condition:
// dark orders are held daemon-side and triggered against quotes, live
// orders go straight to the broker.
type ExecMode string

const (
	ExecDark ExecMode = "dark"
	ExecLive ExecMode = "live"
)

// Symbol is an instrument key plus the brokers eligible to execute it.
type Symbol struct {
	Key     string
	Brokers []string
}

// Command is an immutable order intent record. A modify is expressed as
// a new Command under the same OID, never as mutation of an old one.
type Command struct {
	Action   Action   `json:"action"`
	Price    float64  `json:"price,omitempty"`
	Size     float64  `json:"size,omitempty"`
	Symbol   string   `json:"symbol"`
	Brokers  []string `json:"brokers,omitempty"`
	OID      string   `json:"oid"`
	ExecMode ExecMode `json:"exec_mode,omitempty"`
}

// NewCommand builds a submit command (buy/sell/alert).
func NewCommand(oid string, sym Symbol, price, size float64, action Action, mode ExecMode) Command {
	return Command{
		Action:   action,
		Price:    price,
		Size:     size,
		Symbol:   sym.Key,
		Brokers:  append([]string(nil), sym.Brokers...),
		OID:      oid,
		ExecMode: mode,
	}
}

// NewCancel builds the reduced cancel form: action, oid and symbol only.
func NewCancel(oid, symbol string) Command {
	return Command{
		Action: ActionCancel,
		OID:    oid,
		Symbol: symbol,
	}
}

// Validate checks the schema requirements for a submit command.
// Cancel commands carry no price/size/exec_mode and are built via NewCancel.
func (c Command) Validate() error {
	switch c.Action {
	case ActionBuy, ActionSell, ActionAlert:
	case ActionCancel:
		if c.OID == "" {
			return fmt.Errorf("cancel: oid is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}
	if c.OID == "" {
		return fmt.Errorf("%s: oid is required", c.Action)
	}
	if c.Symbol == "" {
		return fmt.Errorf("%s %s: symbol is required", c.Action, c.OID)
	}
	if c.Price <= 0 {
		return fmt.Errorf("%s %s: price must be > 0", c.Action, c.OID)
	}
	if c.Action != ActionAlert && c.Size <= 0 {
		return fmt.Errorf("%s %s: size must be > 0", c.Action, c.OID)
	}
	if c.ExecMode != ExecDark && c.ExecMode != ExecLive {
		return fmt.Errorf("%s %s: exec_mode must be dark or live", c.Action, c.OID)
	}
	return nil
}
