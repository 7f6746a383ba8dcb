package eventbus

import (
	"testing"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	ticks, unsubTicks := b.Subscribe(4, "tick")
	defer unsubTicks()

	b.Publish(Event{Type: "tick", Data: 1})
	b.Publish(Event{Type: "sent", Data: 2})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(ticks); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-ticks
	if e.Type != "tick" || e.Data != 1 || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: "x"})
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}
