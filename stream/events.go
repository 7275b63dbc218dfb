package stream

// EventType identifies a lifecycle or data event on a Connection.
type EventType string

const (
	// EventData carries one inbound message.
	EventData EventType = "data"
	// EventEnd fires when the peer cleanly ends the stream.
	EventEnd EventType = "end"
	// EventError carries a transport or protocol failure.
	EventError EventType = "error"
	// EventClose fires when the connection reaches a terminal state.
	EventClose EventType = "close"
	// EventConnect fires on every successful connect, including
	// reconnects.
	EventConnect EventType = "connect"
	// EventDisconnect fires when an established connection is lost.
	EventDisconnect EventType = "disconnect"
	// EventReconnect fires when a reconnect attempt is scheduled;
	// Event.Attempt carries the attempt number.
	EventReconnect EventType = "reconnect"
	// EventBackpressure fires when the outbound buffer hits the high
	// water mark.
	EventBackpressure EventType = "backpressure"
	// EventDrain fires when a backpressured buffer falls below the low
	// water mark.
	EventDrain EventType = "drain"
)

// Event is delivered to handlers registered with Connection.On. Only the
// fields relevant to the Type are set.
type Event struct {
	Type    EventType
	Data    []byte // EventData
	Err     error  // EventError, EventDisconnect
	Attempt int    // EventReconnect
}

// Handler receives events. Handlers run on the connection's internal
// goroutines and must not block.
type Handler func(Event)
