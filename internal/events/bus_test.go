package events

import "testing"

func TestSubscribeReceivesPublished(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventPositionOpened, 4)
	defer unsub()

	b.Publish(EventPositionOpened, "payload")

	select {
	case got := <-ch:
		if got != "payload" {
			t.Errorf("got %v", got)
		}
	default:
		t.Fatal("nothing delivered")
	}
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	b := NewBus()
	opened, unsub1 := b.Subscribe(EventPositionOpened, 1)
	defer unsub1()
	closed, unsub2 := b.Subscribe(EventPositionClosed, 1)
	defer unsub2()

	b.Publish(EventPositionClosed, 1)

	select {
	case <-opened:
		t.Fatal("wrong topic delivered")
	default:
	}
	select {
	case <-closed:
	default:
		t.Fatal("subscribed topic not delivered")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventAlert, 1)
	defer unsub()

	// Second publish overflows the buffer and must be dropped, not block.
	b.Publish(EventAlert, 1)
	b.Publish(EventAlert, 2)

	if got := <-ch; got != 1 {
		t.Errorf("first payload = %v", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("overflow payload delivered: %v", got)
	default:
	}
}

func TestSubscribeManyTagsByTopic(t *testing.T) {
	b := NewBus()
	merged, unsub := b.SubscribeMany(8, EventPositionOpened, EventPositionClosed)

	b.Publish(EventPositionOpened, "open-payload")
	b.Publish(EventPositionClosed, "close-payload")
	b.Publish(EventAlert, "unsubscribed-topic")

	got := map[Event]any{}
	for i := 0; i < 2; i++ {
		p := <-merged
		got[p.Topic] = p.Payload
	}
	if got[EventPositionOpened] != "open-payload" || got[EventPositionClosed] != "close-payload" {
		t.Errorf("deliveries = %v", got)
	}

	unsub()
	if _, ok := <-merged; ok {
		t.Fatal("merged channel must close after unsubscribe")
	}

	// Idempotent.
	unsub()
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventSyncReport, 1)
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}

	// Publishing after unsubscribe is a no-op.
	b.Publish(EventSyncReport, "late")
}
