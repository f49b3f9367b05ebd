// Package activation turns the relay on while at least one observer is
// watching and off when the last one leaves.
package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/metrics"
	"github.com/smazurov/sinkcam/internal/relay"
)

// ErrNotObserving is returned by StopObserving when nobody is observing.
var ErrNotObserving = errors.New("no active observers")

// Pumper is the part of the relay the controller drives.
type Pumper interface {
	Activate()
	Deactivate()
	Pump(ctx context.Context) relay.Outcome
}

// Controller counts observers and runs the relay pump while the count is
// above zero.
type Controller struct {
	relay     Pumper
	scheduler Scheduler
	logger    *slog.Logger
	bus       *events.Bus

	mu        sync.Mutex
	observers int
	running   bool
	starts    uint64
	stops     uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithEventBus publishes observer changes on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(c *Controller) {
		c.bus = bus
	}
}

// New creates a controller with no observers.
func New(r Pumper, scheduler Scheduler, opts ...Option) *Controller {
	c := &Controller{
		relay:     r,
		scheduler: scheduler,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartObserving registers an observer. The first one activates the relay
// and starts the scheduler.
func (c *Controller) StartObserving() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers++
	if c.observers == 1 {
		c.relay.Activate()
		if err := c.scheduler.Start(c.tick); err != nil {
			c.observers--
			c.relay.Deactivate()
			return fmt.Errorf("start relay scheduler: %w", err)
		}
		c.running = true
		c.starts++
		c.logger.Info("Relay started", "observers", c.observers)
	}
	c.publishLocked()
	return nil
}

// StopObserving removes an observer. The last one deactivates the relay
// and stops the scheduler, waiting for a cycle in flight.
func (c *Controller) StopObserving() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.observers == 0 {
		return ErrNotObserving
	}
	c.observers--
	if c.observers == 0 {
		c.haltLocked()
		c.logger.Info("Relay stopped")
	}
	c.publishLocked()
	return nil
}

// Observers returns the current observer count.
func (c *Controller) Observers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observers
}

// Running reports whether the scheduler is running.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Starts returns how many times the relay was started.
func (c *Controller) Starts() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// Stops returns how many times the relay was stopped.
func (c *Controller) Stops() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// Close stops the relay regardless of the observer count.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.observers = 0
	c.haltLocked()
	c.publishLocked()
}

func (c *Controller) haltLocked() {
	c.relay.Deactivate()
	c.scheduler.Stop()
	c.running = false
	c.stops++
}

func (c *Controller) tick(ctx context.Context) {
	c.relay.Pump(ctx)
}

func (c *Controller) publishLocked() {
	metrics.SetObservers(c.observers)
	c.bus.Publish(events.ObserversChangedEvent{
		Observers: c.observers,
		Running:   c.running,
		Timestamp: events.Now(),
	})
}
