package chat

// Message is a synced message record.
//
// ID is empty until the backend acknowledges the message; LocalID is the
// client-assigned correlation key and is always present. Once a message
// carries a server Sequence it is immutable except for State.
type Message struct {
	ID             string
	LocalID        string
	ConversationID string
	SenderID       string
	SenderName     string // resolved display name, falls back to SenderID
	CreatedAt      int64  // unix ms
	Sequence       uint64 // conversation-scoped, strictly increasing, gaps allowed
	State          DeliveryState
	Content        MessageContent
}
