package chatsync

import (
	"strings"
	"time"

	"github.com/lioncast/chatsync/internal/bus"
)

// Outward event names. Delivery of each is gated by the subscription
// registry: nothing is emitted until the hosting application enables the
// name via EnableEvents.
const (
	EventConnectionConnected    = "onConnectionConnected"
	EventConnectionDisconnected = "onConnectionDisconnected"
	EventConnectionError        = "onConnectionError"
	EventRequestNewToken        = "onRequestNewToken"
	EventIncomingCall           = "onIncomingCall"
	EventCustomMessage          = "onCustomMessage"
	EventChange                 = "onChangeEvent"
)

// EventEnvelope is one outward event delivered through Events. Payload is
// a chat.ChangeEvent for EventChange, a *remote.Error for
// EventConnectionError, a map for the passthrough events and nil
// otherwise.
type EventEnvelope struct {
	Name       string
	OccurredAt time.Time
	Payload    any
}

// signalNames maps internal bus kinds to outward event names. Change
// events share a single outward name regardless of object or change kind.
var signalNames = map[string]string{
	bus.KindConnected:       EventConnectionConnected,
	bus.KindDisconnected:    EventConnectionDisconnected,
	bus.KindConnectionError: EventConnectionError,
	bus.KindTokenRefresh:    EventRequestNewToken,
	bus.KindIncomingCall:    EventIncomingCall,
	bus.KindCustomMessage:   EventCustomMessage,
}

func outwardEvent(evt bus.Event) (string, bool) {
	if strings.HasPrefix(evt.Kind, bus.NamespaceChange) {
		return EventChange, true
	}
	name, ok := signalNames[evt.Kind]
	return name, ok
}
