package peer

import (
	"fmt"
	"strings"
	"time"
)

// Markers used when rendering an event chain.
const (
	markComplete = "\U0001f7e9" // green square
	markPending  = "\U0001f550" // clock face
	markIn       = "<<<<"
	markOut      = ">>>"
)

// EventDirection indicates whether a recorded handshake event was sent to or
// received from the remote peer.
type EventDirection int

const (
	// EventOut marks a message written to the peer.
	EventOut EventDirection = iota

	// EventIn marks a message received from the peer.
	EventIn
)

// String returns the wire direction marker for the direction.
func (d EventDirection) String() string {
	if d == EventIn {
		return markIn
	}
	return markOut
}

// eventAttr is a single key:value annotation attached to an event, such as
// the protocol version advertised in a received version message.
type eventAttr struct {
	key string
	val string
}

// Event records a single message exchanged during a handshake along with the
// time it crossed the wire.
type Event struct {
	// Name is the protocol command for the message, e.g. "version".
	Name string

	// Direction indicates whether the message was sent or received.
	Direction EventDirection

	// Time is when the event was recorded.
	Time time.Time

	attrs []eventAttr
}

// newEvent returns an Event for the given command stamped with the current
// time.
func newEvent(name string, direction EventDirection) *Event {
	return &Event{
		Name:      name,
		Direction: direction,
		Time:      time.Now(),
	}
}

// setAttr attaches a key:value annotation to the event.
func (e *Event) setAttr(key, val string) {
	e.attrs = append(e.attrs, eventAttr{key: key, val: val})
}

// String renders the event as "name <direction>" with any annotations in
// parens, e.g. `version <<<< (vers:70015 agent:/Satoshi:25.0.0/)`.
func (e *Event) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", e.Name, e.Direction)
	if len(e.attrs) > 0 {
		parts := make([]string, 0, len(e.attrs))
		for _, attr := range e.attrs {
			parts = append(parts, attr.key+":"+attr.val)
		}
		fmt.Fprintf(&sb, " (%s)", strings.Join(parts, " "))
	}
	return sb.String()
}

// EventChain is the ordered record of the messages exchanged during one
// handshake attempt.  It is owned by the peer that produced it and is not
// safe for concurrent mutation; read it after Negotiate returns.
type EventChain struct {
	id       string
	complete bool
	events   []*Event
}

// newEventChain returns an empty event chain identified by id, normally the
// remote peer address.
func newEventChain(id string) *EventChain {
	return &EventChain{id: id}
}

// add appends an event to the chain.
func (ec *EventChain) add(ev *Event) {
	ec.events = append(ec.events, ev)
}

// markAsComplete flags the chain as belonging to a fully established
// handshake.
func (ec *EventChain) markAsComplete() {
	ec.complete = true
}

// ID returns the identifier the chain was created with.
func (ec *EventChain) ID() string {
	return ec.id
}

// Len returns the number of recorded events.
func (ec *EventChain) Len() int {
	return len(ec.events)
}

// Event returns the nth recorded event or nil when out of range.
func (ec *EventChain) Event(n int) *Event {
	if n < 0 || n >= len(ec.events) {
		return nil
	}
	return ec.events[n]
}

// Complete reports whether the handshake the chain records ran to
// completion.
func (ec *EventChain) Complete() bool {
	return ec.complete
}

// String renders the whole exchange on one line: a completion marker, the
// chain id, each event separated by its elapsed time, and the total time.
func (ec *EventChain) String() string {
	status := markPending
	if ec.complete {
		status = markComplete
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s - %s || ", status, ec.id)

	var lastEv *Event
	var totalTime time.Duration
	for _, ev := range ec.events {
		if lastEv != nil {
			elapsed := ev.Time.Sub(lastEv.Time)
			totalTime += elapsed
			fmt.Fprintf(&sb, " -- %v --> ", elapsed)
		}
		sb.WriteString(ev.String())
		lastEv = ev
	}
	fmt.Fprintf(&sb, " || total time %v.", totalTime)
	return sb.String()
}
