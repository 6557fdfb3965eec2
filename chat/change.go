package chat

// ObjectKind discriminates which entity a change event refers to.
// Values match the backend objectType discriminant.
type ObjectKind int

const (
	ObjectConversation ObjectKind = 0
	ObjectMessage      ObjectKind = 1
	ObjectUser         ObjectKind = 2
)

// String returns the object kind name.
func (k ObjectKind) String() string {
	switch k {
	case ObjectConversation:
		return "conversation"
	case ObjectMessage:
		return "message"
	case ObjectUser:
		return "user"
	default:
		return "unknown"
	}
}

// ChangeKind discriminates the mutation carried by a change event.
type ChangeKind int

const (
	ChangeInsert ChangeKind = 0
	ChangeUpdate ChangeKind = 1
	ChangeDelete ChangeKind = 2
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeEvent is a normalized store mutation delivered to the outward
// consumer. It is transient: produced and consumed, never stored.
// Exactly one of Conversation, Message and User is set, per Object.
type ChangeEvent struct {
	Object       ObjectKind
	Change       ChangeKind
	Conversation *Conversation
	Message      *Message
	User         *User
}
