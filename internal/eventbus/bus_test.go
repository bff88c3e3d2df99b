package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unA := b.Subscribe(4)
	c, unC := b.Subscribe(4)
	defer unA()
	defer unC()

	Publish(b, JobStarted, JobEvent{Key: "g.n"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != JobStarted || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
			if e.Data.(JobEvent).Key != "g.n" {
				t.Fatalf("unexpected payload %+v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive event")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "x"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("dropped=%d want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
	Publish(nil, "ignored", nil)
}
