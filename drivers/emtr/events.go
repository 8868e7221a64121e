package emtr

import "emtrd/bus"

// Event is the payload carried by every notification the driver
// publishes. The driver publishes each one by value on the wired bus
// while it holds its lock; subscribers receive it later on their own
// goroutines, outside that lock. No handler is called from inside the
// driver. Publishing never blocks: when a subscriber's queue is full,
// its oldest queued message is dropped.
type Event interface{ emtrEvent() }

type (
	// EventCommUp fires once when comm_up transitions false -> true.
	EventCommUp struct{}
	// EventCommDown fires once when comm_up transitions true -> false.
	EventCommDown struct{}
	// EventFactoryResetRequested fires once per factory-reset flag seen
	// on the wire; the poll scheduler stops itself immediately after.
	EventFactoryResetRequested struct{}

	EventRelayOn      struct{ Socket int }
	EventRelayOff     struct{ Socket int }
	EventPlugInserted struct{ Socket int }
	EventPlugRemoved  struct{ Socket int }
	EventLoadDetected struct{ Socket int }
	EventLoadRemoved  struct{ Socket int }
	EventOverload     struct{ Socket int }
)

func (EventCommUp) emtrEvent()                {}
func (EventCommDown) emtrEvent()              {}
func (EventFactoryResetRequested) emtrEvent() {}
func (EventRelayOn) emtrEvent()               {}
func (EventRelayOff) emtrEvent()              {}
func (EventPlugInserted) emtrEvent()          {}
func (EventPlugRemoved) emtrEvent()           {}
func (EventLoadDetected) emtrEvent()          {}
func (EventLoadRemoved) emtrEvent()           {}
func (EventOverload) emtrEvent()              {}

// eventTopic is the bus topic an Event is published under, rooted at
// "emtr" so other device-processor subsystems can subscribe narrowly
// (e.g. T("emtr", "socket", 1, "relay", "+")) or broadly (T("emtr", "#")).
func eventTopic(ev Event) bus.Topic {
	switch e := ev.(type) {
	case EventCommUp:
		return bus.T("emtr", "comm", "up")
	case EventCommDown:
		return bus.T("emtr", "comm", "down")
	case EventFactoryResetRequested:
		return bus.T("emtr", "factory_reset")
	case EventRelayOn:
		return bus.T("emtr", "socket", e.Socket, "relay", "on")
	case EventRelayOff:
		return bus.T("emtr", "socket", e.Socket, "relay", "off")
	case EventPlugInserted:
		return bus.T("emtr", "socket", e.Socket, "plug", "inserted")
	case EventPlugRemoved:
		return bus.T("emtr", "socket", e.Socket, "plug", "removed")
	case EventLoadDetected:
		return bus.T("emtr", "socket", e.Socket, "load", "detected")
	case EventLoadRemoved:
		return bus.T("emtr", "socket", e.Socket, "load", "removed")
	case EventOverload:
		return bus.T("emtr", "socket", e.Socket, "overload")
	default:
		return bus.T("emtr", "event")
	}
}

// publish notifies the wired bus.Connection, if any. Called only while
// the driver lock is held, matching §5's "callbacks happen inside the
// lock" ordering guarantee.
func (d *Driver) publish(ev Event) {
	if d.events == nil {
		return
	}
	msg := d.events.NewMessage(eventTopic(ev), ev, false)
	d.events.Publish(msg)
}
