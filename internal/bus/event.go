package bus

import "time"

// Event is one notification on the bus. Kind is dotted, and its first
// segment is the namespace subscribers filter on.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Kinded is a payload that knows its own event kind.
type Kinded interface {
	Kind() string
}

// NewEvent stamps payload with its kind and the current time.
func NewEvent(payload Kinded) Event {
	return Event{Kind: payload.Kind(), Timestamp: time.Now(), Payload: payload}
}
