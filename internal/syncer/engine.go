// Package syncer normalizes raw backend pushes into store mutations and
// bus events. Every push is applied idempotently: replayed or duplicated
// notifications converge on the same cache state, and the event stream
// keeps flowing past malformed payloads.
package syncer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lioncast/chatsync/chat"
	"github.com/lioncast/chatsync/internal/bus"
	"github.com/lioncast/chatsync/internal/directory"
	"github.com/lioncast/chatsync/internal/lock"
	"github.com/lioncast/chatsync/internal/store"
	"github.com/lioncast/chatsync/remote"
)

// Engine is the change event normalizer. It owns the inbound path from
// the backend collaborator: decode the raw push, apply it to the store
// under the conversation lock, then publish the normalized event.
type Engine struct {
	db     *store.DB
	dir    *directory.Directory
	bus    *bus.Bus
	locks  *lock.Keyed
	logger *zap.Logger

	selfMu sync.RWMutex
	selfID string
}

func New(db *store.DB, dir *directory.Directory, b *bus.Bus, locks *lock.Keyed, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		dir:    dir,
		bus:    b,
		locks:  locks,
		logger: logger.Named("syncer"),
	}
}

// SetSelf records the authenticated user so inbound messages from other
// senders bump unread counters and own echoes do not. Safe to call while
// pushes are being applied; a re-init swaps the user for later pushes.
func (e *Engine) SetSelf(userID string) {
	e.selfMu.Lock()
	e.selfID = userID
	e.selfMu.Unlock()
}

func (e *Engine) self() string {
	e.selfMu.RLock()
	defer e.selfMu.RUnlock()
	return e.selfID
}

// HandleNotification applies one raw push. Malformed payloads are logged
// and dropped; the stream continues.
func (e *Engine) HandleNotification(n remote.Notification) {
	change := chat.ChangeKind(n.Change)
	switch change {
	case chat.ChangeInsert, chat.ChangeUpdate, chat.ChangeDelete:
	default:
		e.logger.Warn("dropping push with unknown change kind", zap.Int("change", n.Change))
		return
	}

	switch chat.ObjectKind(n.Object) {
	case chat.ObjectConversation:
		e.applyConversation(change, n.Payload)
	case chat.ObjectMessage:
		e.applyMessage(change, n.Payload)
	case chat.ObjectUser:
		e.applyUser(change, n.Payload)
	default:
		e.logger.Warn("dropping push with unknown object kind", zap.Int("object", n.Object))
	}
}

func (e *Engine) applyConversation(change chat.ChangeKind, payload map[string]any) {
	c, err := decodeConversation(payload)
	if err != nil {
		e.logger.Warn("dropping malformed conversation push", zap.Error(err))
		return
	}
	key := c.ID
	if key == "" {
		key = c.LocalID
	}

	unlock := e.locks.Lock(key)
	defer unlock()

	if change == chat.ChangeDelete {
		existing, err := e.db.GetConversation(key)
		if err != nil {
			e.logger.Error("conversation lookup failed", zap.Error(err), zap.String("id", key))
			return
		}
		if existing == nil {
			// Already gone; nothing to report.
			return
		}
		if err := e.db.DeleteConversation(key); err != nil {
			e.logger.Error("conversation delete failed", zap.Error(err), zap.String("id", key))
			return
		}
		e.publishChange(chat.ChangeEvent{
			Object:       chat.ObjectConversation,
			Change:       chat.ChangeDelete,
			Conversation: existing,
		})
		return
	}

	existing, err := e.db.GetConversation(key)
	if err != nil {
		e.logger.Error("conversation lookup failed", zap.Error(err), zap.String("id", key))
		return
	}
	if err := e.db.UpsertConversation(c); err != nil {
		e.logger.Error("conversation upsert failed", zap.Error(err), zap.String("id", key))
		return
	}
	// A replayed insert lands as an update.
	applied := chat.ChangeInsert
	if existing != nil {
		applied = chat.ChangeUpdate
	}
	stored, err := e.db.GetConversation(key)
	if err != nil || stored == nil {
		e.logger.Error("conversation reload failed", zap.Error(err), zap.String("id", key))
		return
	}
	e.publishChange(chat.ChangeEvent{
		Object:       chat.ObjectConversation,
		Change:       applied,
		Conversation: stored,
	})
}

func (e *Engine) applyMessage(change chat.ChangeKind, payload map[string]any) {
	m, err := decodeMessage(payload)
	if err != nil {
		e.logger.Warn("dropping malformed message push", zap.Error(err))
		return
	}
	key := m.ID
	if key == "" {
		key = m.LocalID
	}

	unlock := e.locks.Lock(m.ConversationID)
	defer unlock()

	if change == chat.ChangeDelete {
		removed, err := e.db.DeleteMessage(m.ConversationID, key)
		if err != nil {
			e.logger.Error("message delete failed", zap.Error(err), zap.String("id", key))
			return
		}
		if !removed {
			return
		}
		e.publishChange(chat.ChangeEvent{
			Object:  chat.ObjectMessage,
			Change:  chat.ChangeDelete,
			Message: m,
		})
		return
	}

	inserted, err := e.db.UpsertRemoteMessage(m)
	if err != nil {
		e.logger.Error("message upsert failed", zap.Error(err), zap.String("id", key))
		return
	}
	if inserted {
		// A message can arrive before its conversation has synced; a stub
		// row keeps the activity cursor and unread counter anchored until
		// the full record lands.
		conv, err := e.db.GetConversation(m.ConversationID)
		if err != nil {
			e.logger.Error("conversation lookup failed", zap.Error(err), zap.String("id", m.ConversationID))
			return
		}
		if conv == nil {
			if err := e.db.UpsertConversation(&chat.Conversation{ID: m.ConversationID}); err != nil {
				e.logger.Error("conversation stub failed", zap.Error(err), zap.String("id", m.ConversationID))
				return
			}
		}
		if err := e.db.TouchConversationActivity(m.ConversationID, m.CreatedAt, m.Sequence); err != nil {
			e.logger.Error("conversation bump failed", zap.Error(err), zap.String("id", m.ConversationID))
		}
		if m.SenderID != "" && m.SenderID != e.self() {
			if err := e.db.IncrementUnread(m.ConversationID); err != nil {
				e.logger.Error("unread bump failed", zap.Error(err), zap.String("id", m.ConversationID))
			}
		}
	}

	applied := chat.ChangeInsert
	if !inserted {
		applied = chat.ChangeUpdate
	}
	stored, err := e.db.GetMessage(m.ConversationID, key)
	if err != nil || stored == nil {
		e.logger.Error("message reload failed", zap.Error(err), zap.String("id", key))
		return
	}
	e.publishChange(chat.ChangeEvent{
		Object:  chat.ObjectMessage,
		Change:  applied,
		Message: stored,
	})
}

func (e *Engine) applyUser(change chat.ChangeKind, payload map[string]any) {
	u, err := decodeUser(payload)
	if err != nil {
		e.logger.Warn("dropping malformed user push", zap.Error(err))
		return
	}
	if change == chat.ChangeDelete {
		// User directory entries are never removed by push; identities
		// outlive membership.
		return
	}
	if err := e.dir.Refresh(u); err != nil {
		e.logger.Error("user refresh failed", zap.Error(err), zap.String("user_id", u.UserID))
		return
	}
	e.publishChange(chat.ChangeEvent{
		Object: chat.ObjectUser,
		Change: change,
		User:   &u,
	})
}

func (e *Engine) publishChange(evt chat.ChangeEvent) {
	e.bus.Publish(bus.Event{
		Kind:    bus.ChangeKind(evt.Object.String(), evt.Change.String()),
		Payload: evt,
	})
}

// HandleConnected publishes the connection-established signal.
func (e *Engine) HandleConnected() {
	e.publishSignal(bus.KindConnected, nil)
}

// HandleDisconnected publishes the connection-lost signal.
func (e *Engine) HandleDisconnected() {
	e.publishSignal(bus.KindDisconnected, nil)
}

// HandleConnectionError publishes a connection failure signal.
func (e *Engine) HandleConnectionError(code int, message string) {
	e.publishSignal(bus.KindConnectionError, &remote.Error{Code: code, Message: message})
}

// HandleTokenExpiry publishes the token-renewal request signal.
func (e *Engine) HandleTokenExpiry() {
	e.publishSignal(bus.KindTokenRefresh, nil)
}

// HandleIncomingCall forwards an incoming call push untouched. Call
// signaling is owned by the collaborator; this module only relays.
func (e *Engine) HandleIncomingCall(payload map[string]any) {
	e.publishSignal(bus.KindIncomingCall, payload)
}

// HandleCustomMessage forwards an application-defined payload untouched.
func (e *Engine) HandleCustomMessage(fromUserID string, payload map[string]any) {
	e.publishSignal(bus.KindCustomMessage, map[string]any{
		"fromUserId": fromUserID,
		"payload":    payload,
	})
}

func (e *Engine) publishSignal(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Payload: payload})
}
