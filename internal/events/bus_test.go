package events

import (
	"testing"
	"time"
)

func busFixtures() (PathLookup, OwnerFunc) {
	lookup := testLookup(map[string]string{
		"sess-1": "/users/alice/.claude/projects/-p/sess-1.jsonl",
	})
	return lookup, testOwner("/users")
}

func recv(t *testing.T, c <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-c:
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestBus_DeliversOnlyToOwner(t *testing.T) {
	lookup, owner := busFixtures()
	b := NewBus(lookup, owner, nil, nil)
	defer b.Close()

	alice := b.Subscribe("alice")
	bob := b.Subscribe("bob")

	b.Publish(Event{Kind: "session_updated", Data: map[string]any{"session_id": "sess-1"}})
	b.Publish(Event{Kind: "backends_changed", Data: map[string]any{}})

	if evt := recv(t, alice.C); evt.Kind != "session_updated" {
		t.Fatalf("alice got %q", evt.Kind)
	}
	if evt := recv(t, alice.C); evt.Kind != "backends_changed" {
		t.Fatalf("alice got %q", evt.Kind)
	}
	// Bob must only see the global event.
	if evt := recv(t, bob.C); evt.Kind != "backends_changed" {
		t.Fatalf("bob got %q", evt.Kind)
	}
	select {
	case evt := <-bob.C:
		t.Fatalf("bob received unexpected %q", evt.Kind)
	default:
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(nil, nil, nil, nil)
	defer b.Close()

	sub := b.Subscribe("alice")
	b.Unsubscribe(sub.ID)
	if _, open := <-sub.C; open {
		t.Fatalf("channel must be closed after unsubscribe")
	}
	// Second unsubscribe is a no-op.
	b.Unsubscribe(sub.ID)

	b.Publish(Event{Kind: "x"})
}

func TestBus_PublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBus(nil, nil, nil, nil)
	defer b.Close()

	sub := b.Subscribe("alice")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Kind: "tick"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("publish blocked on a subscriber that never drains")
	}
	_ = sub
}

func TestBus_SubscribeAfterCloseIsClosed(t *testing.T) {
	b := NewBus(nil, nil, nil, nil)
	b.Close()
	sub := b.Subscribe("alice")
	if _, open := <-sub.C; open {
		t.Fatalf("subscription on a closed bus must be closed")
	}
}
