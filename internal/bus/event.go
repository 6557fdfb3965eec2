package bus

import "time"

// The event space splits into two namespaces: change.* carries
// normalized store mutations, signal.* carries connection state and
// payloads relayed from the collaborator without normalization.
const (
	NamespaceChange = "change."
	NamespaceSignal = "signal."
)

// Signal kinds published by the normalizer.
const (
	KindConnected       = NamespaceSignal + "connection.connected"
	KindDisconnected    = NamespaceSignal + "connection.disconnected"
	KindConnectionError = NamespaceSignal + "connection.error"
	KindTokenRefresh    = NamespaceSignal + "token.refresh"
	KindIncomingCall    = NamespaceSignal + "call.incoming"
	KindCustomMessage   = NamespaceSignal + "custom"
)

// ChangeKind builds the kind for a store mutation on the given object
// ("conversation", "message", "user") and change ("insert", "update",
// "delete").
func ChangeKind(object, change string) string {
	return NamespaceChange + object + "." + change
}

// Event is a domain event published on the bus. Kind is a dot-separated
// name ("change.message.insert", "signal.connection.connected") used for
// namespace-prefix subscription matching. Publish stamps Timestamp when
// the publisher leaves it zero.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
