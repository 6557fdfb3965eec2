package store

import (
	"path/filepath"
	"testing"

	"github.com/lioncast/chatsync/chat"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate once; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestConversationUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	c := &chat.Conversation{ID: "conv-1", LocalID: "local-1", Name: "Team", UpdatedAt: 1000}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	c.Name = "Team Renamed"
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	count, err := db.ConversationCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("got %d conversations, want 1", count)
	}
	got, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Team Renamed" {
		t.Errorf("got %+v, want Team Renamed", got)
	}
}

func TestConversationServerRecordKeepsLocalKey(t *testing.T) {
	db := testDB(t)

	// Created locally first, then the server copy arrives without a
	// local id. Both must land on the same row.
	if err := db.UpsertConversation(&chat.Conversation{LocalID: "local-1", ID: "conv-1", Name: "Pending"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(&chat.Conversation{ID: "conv-1", Name: "Synced", UpdatedAt: 2000}); err != nil {
		t.Fatal(err)
	}

	count, err := db.ConversationCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("got %d conversations, want 1", count)
	}
	got, err := db.GetConversation("local-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Synced" {
		t.Errorf("lookup by local id: got %+v, want Synced", got)
	}
}

func TestConversationSeqNeverDecreases(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&chat.Conversation{ID: "conv-1", LastMessageSeq: 10, UpdatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	// A stale update with a lower sequence must not rewind.
	if err := db.UpsertConversation(&chat.Conversation{ID: "conv-1", LastMessageSeq: 4, UpdatedAt: 500}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessageSeq != 10 {
		t.Errorf("last message seq = %d, want 10", got.LastMessageSeq)
	}
}

func TestListRecentConversationsOrder(t *testing.T) {
	db := testDB(t)

	for _, c := range []*chat.Conversation{
		{ID: "a", UpdatedAt: 1000},
		{ID: "b", UpdatedAt: 3000},
		{ID: "c", UpdatedAt: 2000},
	} {
		if err := db.UpsertConversation(c); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListRecentConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	want := []string{"b", "c", "a"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestConversationWindowsAreDisjoint(t *testing.T) {
	db := testDB(t)

	for _, c := range []*chat.Conversation{
		{ID: "a", UpdatedAt: 1000},
		{ID: "b", UpdatedAt: 2000},
		{ID: "c", UpdatedAt: 3000},
		{ID: "d", UpdatedAt: 4000},
	} {
		if err := db.UpsertConversation(c); err != nil {
			t.Fatal(err)
		}
	}

	before, err := db.ListConversationsWindow(chat.PageQuery{Anchor: 3000, Direction: chat.Before, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	after, err := db.ListConversationsWindow(chat.PageQuery{Anchor: 3000, Direction: chat.After, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}

	if len(before) != 2 || before[0].ID != "b" || before[1].ID != "a" {
		t.Errorf("before window wrong: %d rows", len(before))
	}
	if len(after) != 1 || after[0].ID != "d" {
		t.Errorf("after window wrong: %d rows", len(after))
	}
	// The anchor row itself belongs to neither side.
	for _, c := range append(before, after...) {
		if c.ID == "c" {
			t.Error("anchor row leaked into a window")
		}
	}
}

func TestParticipantsReplaceAndOrder(t *testing.T) {
	db := testDB(t)

	c := &chat.Conversation{
		ID: "conv-1",
		Participants: []chat.User{
			{UserID: "u1", Name: "Alice"},
			{UserID: "u2", Name: "Bob"},
		},
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Participants) != 2 || got.Participants[0].UserID != "u1" || got.Participants[1].UserID != "u2" {
		t.Fatalf("participants = %+v", got.Participants)
	}

	if err := db.AddParticipantUsers("conv-1", []chat.User{{UserID: "u3", Name: "Carol"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveParticipantUsers("conv-1", []string{"u1"}); err != nil {
		t.Fatal(err)
	}

	got, err = db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Participants) != 2 || got.Participants[0].UserID != "u2" || got.Participants[1].UserID != "u3" {
		t.Fatalf("participants after add/remove = %+v", got.Participants)
	}
}

func TestDeleteConversationAbsentIsNoop(t *testing.T) {
	db := testDB(t)

	if err := db.DeleteConversation("missing"); err != nil {
		t.Fatalf("delete of absent conversation: %v", err)
	}
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&chat.Conversation{ID: "conv-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertRemoteMessage(&chat.Message{
		ConversationID: "conv-1", ID: "m1", Sequence: 1, CreatedAt: 1000,
		State: chat.DeliverySent, Content: chat.Text{Text: "hi"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteConversation("conv-1"); err != nil {
		t.Fatal(err)
	}
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("got %d messages after conversation delete, want 0", count)
	}
}

func TestPendingSendLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&chat.Conversation{ID: "conv-1"}); err != nil {
		t.Fatal(err)
	}
	msg := &chat.Message{
		ConversationID: "conv-1", LocalID: "local-m1", SenderID: "me",
		CreatedAt: 1000, State: chat.DeliverySending, Content: chat.Text{Text: "hello"},
	}
	if err := db.InsertPending(msg); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingSends()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].LocalID != "local-m1" {
		t.Fatalf("pending = %+v, want local-m1", pending)
	}

	if err := db.MarkDispatched("conv-1", "local-m1"); err != nil {
		t.Fatal(err)
	}
	pending, err = db.PendingSends()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after dispatch, want 0", len(pending))
	}

	if err := db.AttachAck("conv-1", "local-m1", "srv-m1", 5, 1500); err != nil {
		t.Fatal(err)
	}
	got, err := db.LastMessage("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "srv-m1" || got.Sequence != 5 || got.State != chat.DeliverySent {
		t.Errorf("after ack: %+v", got)
	}

	// The ack must also advance the conversation cursor.
	conv, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessageSeq != 5 {
		t.Errorf("conversation seq = %d, want 5", conv.LastMessageSeq)
	}

	// Re-applying the same ack is a no-op.
	if err := db.AttachAck("conv-1", "local-m1", "srv-m1", 5, 1500); err != nil {
		t.Fatal(err)
	}
}

func TestMarkSendFailed(t *testing.T) {
	db := testDB(t)

	msg := &chat.Message{
		ConversationID: "conv-1", LocalID: "local-m1", CreatedAt: 1000,
		State: chat.DeliverySending, Content: chat.Text{Text: "x"},
	}
	if err := db.InsertPending(msg); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSendFailed("conv-1", "local-m1", "network unreachable"); err != nil {
		t.Fatal(err)
	}

	got, err := db.LastMessage("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != chat.DeliveryFailed {
		t.Errorf("state = %v, want failed", got.State)
	}
}

func TestUpsertRemoteMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &chat.Message{
		ConversationID: "conv-1", ID: "m1", SenderID: "u1", Sequence: 3,
		CreatedAt: 1000, State: chat.DeliverySent, Content: chat.Text{Text: "hi"},
	}
	inserted, err := db.UpsertRemoteMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("first upsert should insert")
	}
	inserted, err = db.UpsertRemoteMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second upsert should not insert")
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("got %d messages, want 1", count)
	}
}

func TestUpsertRemoteMessageMatchesPendingByLocalID(t *testing.T) {
	db := testDB(t)

	if err := db.InsertPending(&chat.Message{
		ConversationID: "conv-1", LocalID: "local-m1", CreatedAt: 1000,
		State: chat.DeliverySending, Content: chat.Text{Text: "hi"},
	}); err != nil {
		t.Fatal(err)
	}

	// The push copy of our own message must merge into the pending row,
	// not duplicate it.
	inserted, err := db.UpsertRemoteMessage(&chat.Message{
		ConversationID: "conv-1", LocalID: "local-m1", ID: "srv-m1",
		Sequence: 7, CreatedAt: 1200, State: chat.DeliverySent,
		Content: chat.Text{Text: "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("push copy of own message should merge, not insert")
	}

	got, err := db.LastMessage("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "srv-m1" || got.Sequence != 7 || got.State != chat.DeliverySent {
		t.Errorf("merged message = %+v", got)
	}
}

func TestAttachAckFoldsServerEcho(t *testing.T) {
	db := testDB(t)

	if err := db.InsertPending(&chat.Message{
		ConversationID: "conv-1", LocalID: "local-m1", SenderID: "me",
		CreatedAt: 1000, State: chat.DeliverySending, Content: chat.Text{Text: "hi"},
	}); err != nil {
		t.Fatal(err)
	}

	// The server copy lands through a push before the send ack; it
	// carries no local id, so it becomes its own row under the acked
	// sequence.
	inserted, err := db.UpsertRemoteMessage(&chat.Message{
		ConversationID: "conv-1", ID: "srv-m1", Sequence: 5, CreatedAt: 1500,
		State: chat.DeliveryDelivered, Content: chat.Text{Text: "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("echo without local id should insert")
	}

	// The late ack must fold the echo into the pending row instead of
	// colliding with its sequence slot.
	if err := db.AttachAck("conv-1", "local-m1", "srv-m1", 5, 1500); err != nil {
		t.Fatal(err)
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("got %d rows after ack, want 1", count)
	}
	got, err := db.GetMessage("conv-1", "local-m1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "srv-m1" || got.Sequence != 5 {
		t.Fatalf("reconciled message = %+v", got)
	}
	// The echo had already advanced past sent; the fold keeps that.
	if got.State != chat.DeliveryDelivered {
		t.Errorf("state = %v, want delivered", got.State)
	}
}

func TestUpsertRemoteMessageFoldsDuplicateRows(t *testing.T) {
	db := testDB(t)

	if err := db.InsertPending(&chat.Message{
		ConversationID: "conv-1", LocalID: "local-m1", SenderID: "me",
		CreatedAt: 1000, State: chat.DeliverySending, Content: chat.Text{Text: "hi"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertRemoteMessage(&chat.Message{
		ConversationID: "conv-1", ID: "srv-m1", Sequence: 5, CreatedAt: 1500,
		State: chat.DeliverySent, Content: chat.Text{Text: "hi"},
	}); err != nil {
		t.Fatal(err)
	}

	// A later push carries both keys, matching the pending row by local
	// id and the echo row by sequence. The merge must leave one row,
	// keyed by the local id.
	inserted, err := db.UpsertRemoteMessage(&chat.Message{
		ConversationID: "conv-1", LocalID: "local-m1", ID: "srv-m1",
		Sequence: 5, CreatedAt: 1500, State: chat.DeliverySent,
		Content: chat.Text{Text: "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("merge of existing rows should not report an insert")
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("got %d rows after merge, want 1", count)
	}
	got, err := db.GetMessage("conv-1", "local-m1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "srv-m1" || got.Sequence != 5 || got.State != chat.DeliverySent {
		t.Fatalf("merged message = %+v", got)
	}
}

func TestUpsertRemoteMessageIgnoresStaleState(t *testing.T) {
	db := testDB(t)

	m := &chat.Message{
		ConversationID: "conv-1", ID: "m1", Sequence: 1, CreatedAt: 1000,
		State: chat.DeliveryRead, Content: chat.Text{Text: "hi"},
	}
	if _, err := db.UpsertRemoteMessage(m); err != nil {
		t.Fatal(err)
	}

	// A replayed older update must not rewind read back to delivered.
	m.State = chat.DeliveryDelivered
	if _, err := db.UpsertRemoteMessage(m); err != nil {
		t.Fatal(err)
	}

	got, err := db.LastMessage("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != chat.DeliveryRead {
		t.Errorf("state = %v, want read", got.State)
	}
}

func TestListLocalMessagesPendingLast(t *testing.T) {
	db := testDB(t)

	for seq := uint64(1); seq <= 3; seq++ {
		if _, err := db.UpsertRemoteMessage(&chat.Message{
			ConversationID: "conv-1", ID: string(rune('a' + seq)), Sequence: seq,
			CreatedAt: int64(seq * 100), State: chat.DeliverySent,
			Content: chat.Text{Text: "m"},
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.InsertPending(&chat.Message{
		ConversationID: "conv-1", LocalID: "local-p1", CreatedAt: 50,
		State: chat.DeliverySending, Content: chat.Text{Text: "pending"},
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListLocalMessages("conv-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	// Acknowledged messages ascend by sequence; the pending send sits
	// after them despite its older timestamp.
	for i := 0; i < 3; i++ {
		if msgs[i].Sequence != uint64(i+1) {
			t.Errorf("msgs[%d].Sequence = %d, want %d", i, msgs[i].Sequence, i+1)
		}
	}
	if msgs[3].LocalID != "local-p1" {
		t.Errorf("last message = %q, want pending send", msgs[3].LocalID)
	}
}

func TestMessageWindows(t *testing.T) {
	db := testDB(t)

	for seq := uint64(1); seq <= 5; seq++ {
		if _, err := db.UpsertRemoteMessage(&chat.Message{
			ConversationID: "conv-1", ID: string(rune('a' + seq)), Sequence: seq,
			CreatedAt: int64(seq * 100), State: chat.DeliverySent,
			Content: chat.Text{Text: "m"},
		}); err != nil {
			t.Fatal(err)
		}
	}

	before, err := db.ListMessagesWindow("conv-1", chat.PageQuery{Anchor: 4, Direction: chat.Before, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 2 || before[0].Sequence != 3 || before[1].Sequence != 2 {
		t.Errorf("before window = %+v", before)
	}

	after, err := db.ListMessagesWindow("conv-1", chat.PageQuery{Anchor: 3, Direction: chat.After, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].Sequence != 4 || after[1].Sequence != 5 {
		t.Errorf("after window = %+v", after)
	}
}

func TestDeleteMessageAbsentIsNoop(t *testing.T) {
	db := testDB(t)

	removed, err := db.DeleteMessage("conv-1", "missing")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("delete of absent message reported removal")
	}
}

func TestSenderNameFallsBackToID(t *testing.T) {
	db := testDB(t)

	if _, err := db.UpsertRemoteMessage(&chat.Message{
		ConversationID: "conv-1", ID: "m1", SenderID: "u-unknown", Sequence: 1,
		CreatedAt: 1000, State: chat.DeliverySent, Content: chat.Text{Text: "hi"},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := db.LastMessage("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SenderName != "u-unknown" {
		t.Errorf("sender name = %q, want fallback to id", got.SenderName)
	}

	if err := db.UpsertUser(chat.User{UserID: "u-unknown", Name: "Known Now"}); err != nil {
		t.Fatal(err)
	}
	got, err = db.LastMessage("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SenderName != "Known Now" {
		t.Errorf("sender name = %q, want Known Now", got.SenderName)
	}
}

func TestUnreadCounters(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"a", "b"} {
		if err := db.UpsertConversation(&chat.Conversation{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.IncrementUnread("a"); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementUnread("a"); err != nil {
		t.Fatal(err)
	}

	n, err := db.UnreadConversationCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("unread conversations = %d, want 1", n)
	}

	if err := db.MarkConversationRead("a"); err != nil {
		t.Fatal(err)
	}
	n, err = db.UnreadConversationCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("unread conversations after read = %d, want 0", n)
	}
}

func TestUserUpsertKeepsKnownFields(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertUser(chat.User{UserID: "u1", Name: "Alice", AvatarURL: "http://a"}); err != nil {
		t.Fatal(err)
	}
	// An update with empty fields must not erase what we know.
	if err := db.UpsertUser(chat.User{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}

	u, err := db.GetUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Name != "Alice" || u.AvatarURL != "http://a" {
		t.Errorf("got %+v, want Alice fields intact", u)
	}
}

func TestBulkUpsertUsers(t *testing.T) {
	db := testDB(t)

	users := []chat.User{
		{UserID: "u1", Name: "Alice"},
		{UserID: "u2", Name: "Bob"},
		{UserID: ""}, // skipped
	}
	if err := db.BulkUpsertUsers(users); err != nil {
		t.Fatal(err)
	}

	u, err := db.GetUser("u2")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Name != "Bob" {
		t.Errorf("got %+v, want Bob", u)
	}
	missing, err := db.GetUser("")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("empty user id should not be stored")
	}
}

func TestClearAll(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&chat.Conversation{ID: "conv-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertRemoteMessage(&chat.Message{
		ConversationID: "conv-1", ID: "m1", Sequence: 1, CreatedAt: 1000,
		State: chat.DeliverySent, Content: chat.Text{Text: "hi"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.ClearAll(); err != nil {
		t.Fatal(err)
	}
	convs, err := db.ConversationCount()
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if convs != 0 || msgs != 0 {
		t.Errorf("after clear: %d conversations, %d messages", convs, msgs)
	}
}
