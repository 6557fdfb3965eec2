// Package outbox drains pending local sends to the backend and applies
// their acknowledgements.
package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lioncast/chatsync/chat"
	"github.com/lioncast/chatsync/internal/bus"
	"github.com/lioncast/chatsync/internal/lock"
	"github.com/lioncast/chatsync/internal/store"
	"github.com/lioncast/chatsync/remote"
)

// Sender polls the store for undispatched messages and sends them
// through the backend service. Acknowledgements and failures are applied
// under the per-conversation lock so they never interleave with push
// normalization for the same conversation.
type Sender struct {
	db     *store.DB
	svc    remote.Service
	bus    *bus.Bus
	locks  *lock.Keyed
	logger *zap.Logger
	cancel context.CancelFunc

	// Serializes ProcessPending between the poll loop and manual flushes.
	procMu sync.Mutex
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, svc remote.Service, b *bus.Bus, locks *lock.Keyed, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		svc:    svc,
		bus:    b,
		locks:  locks,
		logger: logger.Named("outbox"),
	}
}

// Start begins polling for pending sends.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending dispatches every undispatched message once. Exposed so
// a send can be flushed without waiting for the next tick.
func (s *Sender) ProcessPending(ctx context.Context) {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	pending, err := s.db.PendingSends()
	if err != nil {
		s.logger.Error("failed to read pending sends", zap.Error(err))
		return
	}

	for _, msg := range pending {
		if ctx.Err() != nil {
			return
		}
		s.dispatch(ctx, msg)
	}
}

func (s *Sender) dispatch(ctx context.Context, msg *chat.Message) {
	if err := s.db.MarkDispatched(msg.ConversationID, msg.LocalID); err != nil {
		s.logger.Error("failed to mark dispatched", zap.Error(err),
			zap.String("local_id", msg.LocalID))
		return
	}

	kind, body, err := chat.EncodeContent(msg.Content)
	if err != nil {
		// The content was validated on insert; a failure here means the
		// stored row is unusable.
		s.fail(msg, err.Error())
		return
	}

	ack, err := s.svc.SendMessage(ctx, msg.ConversationID, msg.LocalID, kind, body)
	if err != nil {
		s.logger.Warn("send failed", zap.Error(err),
			zap.String("conversation_id", msg.ConversationID),
			zap.String("local_id", msg.LocalID))
		s.fail(msg, err.Error())
		return
	}

	unlock := s.locks.Lock(msg.ConversationID)
	err = s.db.AttachAck(msg.ConversationID, msg.LocalID, ack.MessageID, ack.Sequence, ack.CreatedAt)
	unlock()
	if err != nil {
		s.logger.Error("failed to apply ack", zap.Error(err),
			zap.String("local_id", msg.LocalID))
		return
	}
	s.publishUpdate(msg.ConversationID, msg.LocalID)
}

func (s *Sender) fail(msg *chat.Message, reason string) {
	unlock := s.locks.Lock(msg.ConversationID)
	err := s.db.MarkSendFailed(msg.ConversationID, msg.LocalID, reason)
	unlock()
	if err != nil {
		s.logger.Error("failed to mark send failed", zap.Error(err),
			zap.String("local_id", msg.LocalID))
		return
	}
	s.publishUpdate(msg.ConversationID, msg.LocalID)
}

func (s *Sender) publishUpdate(conversationID, localID string) {
	updated, err := s.db.GetMessage(conversationID, localID)
	if err != nil || updated == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind: bus.ChangeKind(chat.ObjectMessage.String(), chat.ChangeUpdate.String()),
		Payload: chat.ChangeEvent{
			Object:  chat.ObjectMessage,
			Change:  chat.ChangeUpdate,
			Message: updated,
		},
	})
}
