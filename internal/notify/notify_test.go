package notify

import "testing"

func TestPublish_DeliversToSubscriber(t *testing.T) {
	n := New()
	sub := n.Subscribe("demo", "sess-1")

	n.Publish(Event{Namespace: "demo", Type: WorkItemUpdate, ItemIDs: []string{"a"}})

	select {
	case ev := <-sub.Events():
		if ev.Type != WorkItemUpdate || len(ev.ItemIDs) != 1 || ev.ItemIDs[0] != "a" {
			t.Fatalf("ev = %+v", ev)
		}
	default:
		t.Fatal("expected an event on the channel")
	}
}

func TestPublish_IgnoresOtherNamespaces(t *testing.T) {
	n := New()
	sub := n.Subscribe("demo", "sess-1")

	n.Publish(Event{Namespace: "other", Type: WorkItemUpdate})

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event delivered: %+v", ev)
	default:
	}
}

func TestPublish_OverflowDropsOldestAndFlagsResync(t *testing.T) {
	n := New()
	sub := n.Subscribe("demo", "sess-1")

	for i := 0; i < queueSize+5; i++ {
		n.Publish(Event{Namespace: "demo", Type: Progress, ItemIDs: []string{"x"}})
	}

	if !sub.NeedsResync() {
		t.Fatal("expected NeedsResync() to be true after overflow")
	}
	if sub.NeedsResync() {
		t.Fatal("NeedsResync() should clear the flag after reading")
	}

	drained := 0
	for {
		select {
		case <-sub.Events():
			drained++
			continue
		default:
		}
		break
	}
	if drained != queueSize {
		t.Fatalf("drained = %d, want %d", drained, queueSize)
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	n := New()
	n.Subscribe("demo", "sess-1")
	n.Unsubscribe("demo", "sess-1")

	if n.SubscriberCount("demo") != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", n.SubscriberCount("demo"))
	}
	// Publishing after unsubscribe must not panic.
	n.Publish(Event{Namespace: "demo", Type: WorkItemUpdate})
}
