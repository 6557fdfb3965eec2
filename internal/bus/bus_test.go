package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("change.", 10)
	defer unsub()

	b.Publish(Event{Kind: "change.message.insert", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "change.message.insert" {
			t.Errorf("got kind %q, want change.message.insert", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("signal.", 10)
	defer unsub()

	b.Publish(Event{Kind: "change.conversation.update"})
	b.Publish(Event{Kind: "signal.connection.connected"})

	select {
	case evt := <-ch:
		if evt.Kind != "signal.connection.connected" {
			t.Errorf("got kind %q, want signal.connection.connected", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure change event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("change.", 10)
	unsub()

	b.Publish(Event{Kind: "change.message.insert"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(NamespaceChange, 1)
	defer unsub()

	before := time.Now()
	b.Publish(Event{Kind: ChangeKind("message", "insert")})

	evt := <-ch
	if evt.Kind != "change.message.insert" {
		t.Errorf("got kind %q, want change.message.insert", evt.Kind)
	}
	if evt.Timestamp.Before(before) {
		t.Errorf("timestamp %v not stamped on publish", evt.Timestamp)
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}
