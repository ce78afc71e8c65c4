package gateway

import (
	"encoding/json"
	"fmt"

	"ems-client-go/order"
)

// Frame types on the client<->daemon websocket link.
const (
	FrameAttach   = "attach"
	FrameAttachOK = "attach_ok"
	FrameCommand  = "cmd"
	FrameEvent    = "event"
)

// Frame is the wire envelope. Exactly one payload section is populated
// per frame type. Event payloads stay as raw bytes so daemon-defined
// extras survive the trip untouched.
type Frame struct {
	Type string `json:"type"`

	// attach
	Client string `json:"client,omitempty"`
	Broker string `json:"broker,omitempty"`
	Symbol string `json:"symbol,omitempty"`

	// cmd
	Cmd *order.Command `json:"cmd,omitempty"`

	// event
	Event json.RawMessage `json:"event,omitempty"`
}

// EncodeEvent wraps a lifecycle event into an event frame. When the
// event carries raw daemon bytes those are forwarded verbatim.
func EncodeEvent(ev order.Event) (Frame, error) {
	raw := ev.Raw
	if len(raw) == 0 {
		b, err := json.Marshal(ev)
		if err != nil {
			return Frame{}, fmt.Errorf("encode event %s %s: %w", ev.Kind, ev.OID, err)
		}
		raw = b
	}
	return Frame{Type: FrameEvent, Event: raw}, nil
}

// DecodeEvent parses an event frame, preserving the raw payload on the
// decoded event for pass-through.
func DecodeEvent(f Frame) (order.Event, error) {
	if f.Type != FrameEvent {
		return order.Event{}, fmt.Errorf("decode event: unexpected frame type %q", f.Type)
	}
	var ev order.Event
	if err := json.Unmarshal(f.Event, &ev); err != nil {
		return order.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.OID == "" {
		return order.Event{}, fmt.Errorf("decode event: missing oid")
	}
	ev.Raw = append([]byte(nil), f.Event...)
	return ev, nil
}
