package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TaskCompleted, Data: int64(1)})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TaskCompleted || e.Time.IsZero() {
				t.Fatalf("unexpected event: %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // must not block

	if e := <-ch; e.Type != "a" {
		t.Fatalf("got %s, want a", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %s", e.Type)
	default:
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"}) // no panic
}
