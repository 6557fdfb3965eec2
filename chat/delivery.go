package chat

import "slices"

// DeliveryState tracks how far a message has progressed toward being read.
type DeliveryState int

const (
	DeliveryInitializing DeliveryState = 0
	DeliverySending      DeliveryState = 1
	DeliverySent         DeliveryState = 2
	DeliveryDelivered    DeliveryState = 3
	DeliveryRead         DeliveryState = 4
	DeliveryFailed       DeliveryState = 5
)

// String returns the state name.
func (s DeliveryState) String() string {
	switch s {
	case DeliveryInitializing:
		return "initializing"
	case DeliverySending:
		return "sending"
	case DeliverySent:
		return "sent"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryRead:
		return "read"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// deliveryTransitions defines allowed delivery state transitions.
// Progression is monotonic; DeliveryRead and DeliveryFailed are terminal.
var deliveryTransitions = map[DeliveryState][]DeliveryState{
	DeliveryInitializing: {DeliverySending, DeliveryFailed},
	DeliverySending:      {DeliverySent, DeliveryDelivered, DeliveryRead, DeliveryFailed},
	DeliverySent:         {DeliveryDelivered, DeliveryRead, DeliveryFailed},
	DeliveryDelivered:    {DeliveryRead, DeliveryFailed},
	DeliveryRead:         {},
	DeliveryFailed:       {},
}

// CanTransition reports whether moving from s to the given state is allowed.
func (s DeliveryState) CanTransition(to DeliveryState) bool {
	return slices.Contains(deliveryTransitions[s], to)
}
