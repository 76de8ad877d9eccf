// Package eventbus fans execution events out to in-process consumers
// such as the session tracker, the SSE feed and the history recorder.
package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixsec/studio-go/pkg/types"
)

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// historySize bounds the replay ring used for resumption.
const historySize = 256

// Subscription is an owned handle to a bus subscription.
type Subscription struct {
	bus *Bus
	id  int
	ch  chan types.Event
}

// Events returns the subscriber's channel. Closed on Unsubscribe and
// on bus Close.
func (s *Subscription) Events() <-chan types.Event {
	return s.ch
}

// Unsubscribe removes the subscriber and closes its channel. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}
	s.bus.remove(s.id)
	s.bus = nil
}

// Bus is an in-memory broadcast of execution events. Publish never
// blocks: a subscriber that cannot keep up loses events rather than
// stalling the producer.
type Bus struct {
	logger *slog.Logger

	mu      sync.RWMutex
	subs    map[int]chan types.Event
	nextSub int
	closed  bool

	// Replay ring for Last-Event-ID resumption.
	history []types.Event
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[int]chan types.Event),
	}
}

// Publish stamps and broadcasts an event. Missing ids and timestamps
// are filled in so consumers can always resume by event id.
func (b *Bus) Publish(e types.Event) types.Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return e
	}
	b.history = append(b.history, e)
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"subscriber", id,
				"event_type", string(e.Type),
				"execution_id", e.ExecutionID)
		}
	}
	b.mu.Unlock()
	return e
}

// Subscribe registers a consumer. buffer <= 0 uses DefaultBuffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan types.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return &Subscription{ch: ch}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	return &Subscription{bus: b, id: id, ch: ch}
}

// Since returns buffered events published after the given event id,
// oldest first. An unknown or empty id returns nothing; the ring is
// bounded, so resumption after a long disconnect may be incomplete.
func (b *Bus) Since(eventID string) []types.Event {
	if eventID == "" {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.history {
		if e.ID == eventID {
			out := make([]types.Event, len(b.history)-i-1)
			copy(out, b.history[i+1:])
			return out
		}
	}
	return nil
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}
