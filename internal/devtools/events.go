package devtools

// EventKind tags an out-of-band channel event.
type EventKind int

const (
	// EventDisconnected fires once per unexpected connection loss, after the
	// pending-call table has been cleared.
	EventDisconnected EventKind = iota
	// EventReconnected fires when automatic reconnection re-established the
	// channel (discovery + connect + capability enable all succeeded).
	EventReconnected
	// EventReconnectFailed fires exactly once when the attempt budget is
	// exhausted. Err wraps ErrReconnectExhausted. The channel is dead.
	EventReconnectFailed
	// EventContextCreated and EventContextDestroyed track the target's
	// execution-context lifecycle notifications.
	EventContextCreated
	EventContextDestroyed
)

func (k EventKind) String() string {
	switch k {
	case EventDisconnected:
		return "disconnected"
	case EventReconnected:
		return "reconnected"
	case EventReconnectFailed:
		return "reconnect-failed"
	case EventContextCreated:
		return "context-created"
	case EventContextDestroyed:
		return "context-destroyed"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification from the channel. Context is set for
// the context events, Err for reconnect failure.
type Event struct {
	Kind    EventKind
	Context ExecutionContext
	Err     error
}
