package eventbus

import (
	"testing"
	"time"

	"github.com/helixsec/studio-go/pkg/types"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe(8)
	defer sub.Unsubscribe()

	published := b.Publish(types.Event{
		Type:        types.EventRunStart,
		ExecutionID: "exec-1",
	})
	if published.ID == "" {
		t.Error("expected event id stamped")
	}
	if published.Timestamp.IsZero() {
		t.Error("expected timestamp stamped")
	}

	select {
	case got := <-sub.Events():
		if got.Type != types.EventRunStart || got.ExecutionID != "exec-1" {
			t.Errorf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe(1)
	defer sub.Unsubscribe()

	b.Publish(types.Event{Type: types.EventStepStart, StepID: "a"})
	b.Publish(types.Event{Type: types.EventStepStart, StepID: "b"}) // dropped

	got := <-sub.Events()
	if got.StepID != "a" {
		t.Errorf("expected first event kept, got %q", got.StepID)
	}
	select {
	case e := <-sub.Events():
		t.Errorf("expected second event dropped, got %+v", e)
	default:
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe(0)
	sub.Unsubscribe()
	sub.Unsubscribe() // second call is a no-op

	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", b.SubscriberCount())
	}

	if _, open := <-sub.Events(); open {
		t.Error("expected channel closed after unsubscribe")
	}

	// Publishing with no subscribers must not panic.
	b.Publish(types.Event{Type: types.EventProgress})
}

func TestBus_Since(t *testing.T) {
	b := New(nil)
	defer b.Close()

	first := b.Publish(types.Event{Type: types.EventRunStart})
	b.Publish(types.Event{Type: types.EventStepStart, StepID: "s1"})
	b.Publish(types.Event{Type: types.EventStepComplete, StepID: "s1"})

	replay := b.Since(first.ID)
	if len(replay) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(replay))
	}
	if replay[0].Type != types.EventStepStart || replay[1].Type != types.EventStepComplete {
		t.Errorf("replay out of order: %+v", replay)
	}

	if got := b.Since("unknown-id"); got != nil {
		t.Errorf("unknown id should replay nothing, got %+v", got)
	}
	if got := b.Since(""); got != nil {
		t.Errorf("empty id should replay nothing, got %+v", got)
	}
}

func TestBus_Close(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(0)
	b.Close()
	b.Close() // idempotent

	if _, open := <-sub.Events(); open {
		t.Error("expected channel closed after bus close")
	}

	// Subscribing after close yields a closed channel.
	late := b.Subscribe(0)
	if _, open := <-late.Events(); open {
		t.Error("expected closed channel for late subscriber")
	}

	b.Publish(types.Event{Type: types.EventProgress}) // no panic
}
