package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lioncast/chatsync/chat"
	"github.com/lioncast/chatsync/internal/bus"
	"github.com/lioncast/chatsync/internal/lock"
	"github.com/lioncast/chatsync/internal/store"
	"github.com/lioncast/chatsync/remote"
)

type fakeService struct {
	remote.Service

	sendFn func(ctx context.Context, conversationID, localID string, kind chat.Kind, body map[string]any) (*remote.SendAck, error)
	calls  int
}

func (f *fakeService) SendMessage(ctx context.Context, conversationID, localID string, kind chat.Kind, body map[string]any) (*remote.SendAck, error) {
	f.calls++
	return f.sendFn(ctx, conversationID, localID, kind, body)
}

func testSender(t *testing.T, svc *fakeService) (*Sender, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	return NewSender(db, svc, b, lock.NewKeyed(), zap.NewNop()), db, b
}

func queuePending(t *testing.T, db *store.DB, localID string) {
	t.Helper()
	if err := db.UpsertConversation(&chat.Conversation{ID: "conv-1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertPending(&chat.Message{
		ConversationID: "conv-1", LocalID: localID, SenderID: "me",
		CreatedAt: time.Now().UnixMilli(), State: chat.DeliverySending,
		Content: chat.Text{Text: "hello"},
	}); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchAppliesAck(t *testing.T) {
	svc := &fakeService{
		sendFn: func(_ context.Context, conversationID, localID string, kind chat.Kind, body map[string]any) (*remote.SendAck, error) {
			if kind != chat.KindText || body["content"] != "hello" {
				t.Errorf("wire form: kind=%v body=%v", kind, body)
			}
			return &remote.SendAck{MessageID: "srv-1", Sequence: 9, CreatedAt: 5000}, nil
		},
	}
	s, db, b := testSender(t, svc)
	events, cancel := b.Subscribe("change.message.", 4)
	defer cancel()

	queuePending(t, db, "local-1")
	s.ProcessPending(context.Background())

	msg, err := db.GetMessage("conv-1", "local-1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "srv-1" || msg.Sequence != 9 || msg.State != chat.DeliverySent {
		t.Errorf("after ack: %+v", msg)
	}

	select {
	case evt := <-events:
		ce, ok := evt.Payload.(chat.ChangeEvent)
		if !ok || ce.Change != chat.ChangeUpdate || ce.Message == nil || ce.Message.ID != "srv-1" {
			t.Errorf("event payload = %+v", evt.Payload)
		}
	default:
		t.Error("no change event published")
	}
}

func TestDispatchFailureMarksFailed(t *testing.T) {
	svc := &fakeService{
		sendFn: func(context.Context, string, string, chat.Kind, map[string]any) (*remote.SendAck, error) {
			return nil, errors.New("transport down")
		},
	}
	s, db, _ := testSender(t, svc)

	queuePending(t, db, "local-1")
	s.ProcessPending(context.Background())

	msg, err := db.GetMessage("conv-1", "local-1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.State != chat.DeliveryFailed {
		t.Errorf("state = %v, want failed", msg.State)
	}
}

func TestDispatchHappensOnce(t *testing.T) {
	svc := &fakeService{
		sendFn: func(context.Context, string, string, chat.Kind, map[string]any) (*remote.SendAck, error) {
			return &remote.SendAck{MessageID: "srv-1", Sequence: 1, CreatedAt: 1000}, nil
		},
	}
	s, db, _ := testSender(t, svc)

	queuePending(t, db, "local-1")
	s.ProcessPending(context.Background())
	s.ProcessPending(context.Background())

	if svc.calls != 1 {
		t.Errorf("SendMessage called %d times, want 1", svc.calls)
	}
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("got %d messages, want 1", count)
	}
}
