// Package remote defines the contract with the RemoteMessagingService
// collaborator: the external subsystem owning session lifecycle, transport
// and call signaling. This module calls into it for backend data and
// receives raw push notifications back from it; it never implements it.
package remote

import (
	"context"
	"fmt"

	"github.com/lioncast/chatsync/chat"
)

// Error is an opaque collaborator failure. Code and Message are passed
// through to the caller verbatim.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("collaborator error %d: %s", e.Code, e.Message)
}

// SendAck is the backend acknowledgment of a sent message.
type SendAck struct {
	MessageID string
	Sequence  uint64
	CreatedAt int64 // unix ms
}

// WireMessage is the flat backend-facing message form. Content carries the
// undecoded flat payload for the given content type tag.
type WireMessage struct {
	ID             string
	LocalID        string
	ConversationID string
	SenderID       string
	CreatedAt      int64
	Sequence       uint64
	State          int
	Type           int
	Content        map[string]any
}

// Notification is a raw server-originated mutation push. Object and Change
// carry the wire discriminant values; Payload is the undecoded object.
type Notification struct {
	Object  int
	Change  int
	Payload map[string]any
}

// Service is the asynchronous backend interface. Every method is a
// request/response pair completed exactly once: a value or an error, never
// both. Implementations own connection lifecycle, retries and transport.
type Service interface {
	CreateConversation(ctx context.Context, localID string, participantIDs []string, opts chat.ConversationOptions) (*chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	GetConversationWithUser(ctx context.Context, userID string) (*chat.Conversation, error)
	ListRecentConversations(ctx context.Context, limit int) ([]*chat.Conversation, error)
	ListConversations(ctx context.Context, q chat.PageQuery) ([]*chat.Conversation, error)
	UpdateConversation(ctx context.Context, id, name, avatarURL string) error
	AddParticipants(ctx context.Context, id string, userIDs []string) ([]chat.User, error)
	RemoveParticipants(ctx context.Context, id string, userIDs []string) ([]chat.User, error)
	DeleteConversation(ctx context.Context, id string) error
	MarkConversationRead(ctx context.Context, id string, seq uint64) error

	SendMessage(ctx context.Context, conversationID, localID string, kind chat.Kind, body map[string]any) (*SendAck, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]WireMessage, error)
	ListMessages(ctx context.Context, conversationID string, q chat.PageQuery) ([]WireMessage, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error

	SendCustomMessage(ctx context.Context, toUserID string, payload map[string]any) error
}
