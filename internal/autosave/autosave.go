// Package autosave persists the edited graph shortly after the last
// change, so an operator never loses more than about a second of work.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/helixsec/studio-go/internal/graph"
	"github.com/helixsec/studio-go/internal/metrics"
	"github.com/helixsec/studio-go/pkg/types"
)

// DefaultDelay is the quiet period after the last edit before a save
// fires. Edits inside the window coalesce into one write.
const DefaultDelay = time.Second

// Saver persists a graph snapshot. The flow store implements it.
type Saver interface {
	SaveSnapshot(ctx context.Context, g types.WorkflowGraph) error
}

// RunGuard blocks autosave while an execution is in flight, so a
// half-edited graph cannot overwrite the definition a run was started
// from. The session tracker implements it.
type RunGuard interface {
	Running() bool
}

// Controller watches a graph model and writes debounced snapshots.
type Controller struct {
	model  *graph.Model
	saver  Saver
	guard  RunGuard
	logger *slog.Logger
	delay  time.Duration

	kick chan struct{}
	stop chan struct{}
	sub  *graph.Subscription
	wg   sync.WaitGroup
	once sync.Once
}

// Option configures the controller.
type Option func(*Controller)

// WithDelay overrides the debounce window.
func WithDelay(d time.Duration) Option {
	return func(c *Controller) { c.delay = d }
}

// New creates a controller and subscribes it to the model. guard may
// be nil.
func New(model *graph.Model, saver Saver, guard RunGuard, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		model:  model,
		saver:  saver,
		guard:  guard,
		logger: logger,
		delay:  DefaultDelay,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sub = model.Subscribe(func(graph.Change) {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	})

	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer c.wg.Done()

	timer := time.NewTimer(c.delay)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-c.stop:
			return
		case <-c.kick:
			// Restart the quiet period on every edit.
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(c.delay)
			armed = true
		case <-timer.C:
			armed = false
			c.save()
		}
	}
}

// save runs one guarded save attempt. Skips leave the model dirty so
// the next edit retries.
func (c *Controller) save() {
	if !c.model.Dirty() {
		return
	}
	if c.model.Name() == "" {
		c.logger.Debug("autosave skipped: workflow has no name")
		metrics.AutosavesTotal.WithLabelValues("skipped").Inc()
		return
	}
	if c.guard != nil && c.guard.Running() {
		c.logger.Debug("autosave skipped: execution in flight")
		metrics.AutosavesTotal.WithLabelValues("skipped").Inc()
		return
	}

	snapshot := c.model.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.saver.SaveSnapshot(ctx, snapshot); err != nil {
		c.logger.Error("autosave failed",
			"workflow_id", snapshot.ID,
			"error", err)
		metrics.AutosavesTotal.WithLabelValues("failed").Inc()
		return
	}
	c.model.MarkClean()
	metrics.AutosavesTotal.WithLabelValues("saved").Inc()
	c.logger.Debug("autosaved workflow",
		"workflow_id", snapshot.ID,
		"nodes", len(snapshot.Nodes))
}

// Flush saves immediately if the model is dirty and guards allow it.
func (c *Controller) Flush() {
	c.save()
}

// Close detaches from the model, stops the loop and makes a final
// guarded save attempt. Safe to call more than once.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.sub.Unsubscribe()
		close(c.stop)
		c.wg.Wait()
		c.save()
	})
}
