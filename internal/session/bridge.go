package session

import (
	"context"

	"github.com/helixsec/studio-go/internal/eventbus"
)

// Bridge pumps events from the bus into a tracker.
type Bridge struct {
	bus     *eventbus.Bus
	tracker *Tracker
}

// NewBridge creates a bridge. Call Run to start pumping.
func NewBridge(bus *eventbus.Bus, tracker *Tracker) *Bridge {
	return &Bridge{bus: bus, tracker: tracker}
}

// Run consumes events until the context is cancelled or the bus
// closes. Blocking; run it in its own goroutine.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.bus.Subscribe(eventbus.DefaultBuffer)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			b.tracker.HandleEvent(e)
		}
	}
}
