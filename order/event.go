package order

// EventKind tags a daemon-reported lifecycle event.
type EventKind string

const (
	DarkSubmitted   EventKind = "dark_submitted"
	BrokerSubmitted EventKind = "broker_submitted"
	DarkCancelled   EventKind = "dark_cancelled"
	BrokerCancelled EventKind = "broker_cancelled"
	DarkExecuted    EventKind = "dark_executed"
	BrokerExecuted  EventKind = "broker_executed"
	BrokerFilled    EventKind = "broker_filled"
)

// Event is a lifecycle report correlated to a previously sent command.
// Raw carries the daemon's full payload bytes untouched so consumers can
// read broker-defined extras (fill price, timestamps) this core does not
// interpret.
type Event struct {
	Kind   EventKind `json:"resp"`
	OID    string    `json:"oid"`
	Symbol string    `json:"symbol,omitempty"`
	Price  float64   `json:"price,omitempty"`
	Size   float64   `json:"size,omitempty"`
	Broker string    `json:"broker,omitempty"`

	Raw []byte `json:"-"`
}

// Terminal reports whether the event ends the order's lifecycle.
func (k EventKind) Terminal() bool {
	switch k {
	case DarkExecuted, DarkCancelled, BrokerExecuted, BrokerCancelled, BrokerFilled:
		return true
	default:
		return false
	}
}

// Known reports whether k is part of the protocol vocabulary.
func (k EventKind) Known() bool {
	switch k {
	case DarkSubmitted, BrokerSubmitted, DarkCancelled, BrokerCancelled,
		DarkExecuted, BrokerExecuted, BrokerFilled:
		return true
	default:
		return false
	}
}
