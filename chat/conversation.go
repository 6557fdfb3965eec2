package chat

// ConversationState mirrors the backend conversation lifecycle value.
type ConversationState int

const (
	StateNormal ConversationState = 0
	StateLeft   ConversationState = 1
)

// String returns the state name.
func (s ConversationState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Conversation is a synced conversation record.
//
// ID is server-assigned and unique once the conversation has synced.
// LocalID is client-assigned before the create round trip completes and
// remains a stable alias afterwards. LastMessageSeq never decreases for
// a given conversation across observed updates.
type Conversation struct {
	ID             string
	LocalID        string
	Name           string
	AvatarURL      string
	IsGroup        bool
	IsDistinct     bool
	Creator        string
	CreatedAt      int64 // unix ms
	UpdatedAt      int64 // unix ms
	State          ConversationState
	Participants   []User // ordered by join
	LastMessage    *Message
	LastMessageSeq uint64
	UnreadCount    uint32
}

// ConversationOptions configures conversation creation. Unset fields take
// backend defaults.
type ConversationOptions struct {
	Name       string
	IsGroup    bool
	IsDistinct bool
}
