package syncer

import (
	"fmt"

	"github.com/lioncast/chatsync/chat"
)

// Push payloads arrive as generic JSON objects. Numbers are float64 at
// this point regardless of their wire width.

func strField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func boolField(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	}
	return false
}

func decodeUser(m map[string]any) (chat.User, error) {
	u := chat.User{
		UserID:    strField(m, "userId"),
		Name:      strField(m, "name"),
		AvatarURL: strField(m, "avatar"),
	}
	if u.UserID == "" {
		return chat.User{}, fmt.Errorf("user payload missing userId")
	}
	return u, nil
}

func decodeConversation(m map[string]any) (*chat.Conversation, error) {
	c := &chat.Conversation{
		ID:             strField(m, "id"),
		LocalID:        strField(m, "localId"),
		Name:           strField(m, "name"),
		AvatarURL:      strField(m, "avatar"),
		IsGroup:        boolField(m, "isGroup"),
		IsDistinct:     boolField(m, "isDistinct"),
		Creator:        strField(m, "creator"),
		CreatedAt:      intField(m, "created"),
		UpdatedAt:      intField(m, "updated"),
		State:          chat.ConversationState(intField(m, "state")),
		LastMessageSeq: uint64(intField(m, "lastMsgSeq")),
		UnreadCount:    uint32(intField(m, "unreadCount")),
	}
	if c.ID == "" && c.LocalID == "" {
		return nil, fmt.Errorf("conversation payload missing id")
	}

	if raw, ok := m["participants"].([]any); ok {
		users := make([]chat.User, 0, len(raw))
		for _, entry := range raw {
			pm, ok := entry.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("conversation %s: malformed participant entry", c.ID)
			}
			u, err := decodeUser(pm)
			if err != nil {
				return nil, fmt.Errorf("conversation %s: %w", c.ID, err)
			}
			users = append(users, u)
		}
		c.Participants = users
	}
	return c, nil
}

func decodeMessage(m map[string]any) (*chat.Message, error) {
	msg := &chat.Message{
		ID:             strField(m, "id"),
		LocalID:        strField(m, "localId"),
		ConversationID: strField(m, "convId"),
		SenderID:       strField(m, "senderId"),
		CreatedAt:      intField(m, "created"),
		Sequence:       uint64(intField(m, "seq")),
		State:          chat.DeliveryState(intField(m, "state")),
	}
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("message payload missing convId")
	}
	if msg.ID == "" && msg.LocalID == "" {
		return nil, fmt.Errorf("message payload missing id")
	}

	if body, ok := m["content"].(map[string]any); ok {
		content, err := chat.DecodeContent(chat.Kind(intField(m, "type")), body)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		msg.Content = content
	}
	return msg, nil
}
