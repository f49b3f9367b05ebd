// Package camera assembles the virtual camera: a platform stream, the
// frame relay pumping it and the activation controller driving the relay.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/sinkcam/internal/activation"
	"github.com/smazurov/sinkcam/internal/convert"
	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/platform"
	"github.com/smazurov/sinkcam/internal/relay"
	"github.com/smazurov/sinkcam/internal/synthetic"
)

// Scheduler kinds.
const (
	SchedulerTimer = "timer"
	SchedulerTask  = "task"
)

// Config describes one virtual camera.
type Config struct {
	Synthetic    synthetic.Config
	Scheduler    string
	Cooldown     time.Duration
	PullTimeout  time.Duration
	StallTimeout time.Duration
	Depth        convert.DepthParams
}

// Status is a snapshot of the camera.
type Status struct {
	State       string
	Message     string
	Active      bool
	Observers   int
	Producers   []string
	Consumers   []string
	Stats       relay.Stats
	Depth       convert.DepthParams
	WarningText string
	HasWarning  bool
}

// Camera is one virtual camera device.
type Camera struct {
	stream     *platform.Loopback
	generator  *synthetic.Generator
	relay      *relay.Relay
	controller *activation.Controller
	bus        *events.Bus
	logger     *slog.Logger
}

// New builds a camera. converter may be nil when every consumer asks for the
// producer layout.
func New(cfg Config, converter relay.Converter, bus *events.Bus, logger *slog.Logger) (*Camera, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gen := synthetic.New(cfg.Synthetic, logger.With("component", "synthetic"))
	r, err := relay.New(relay.Config{
		Interval:     gen.Interval(),
		Cooldown:     cfg.Cooldown,
		PullTimeout:  cfg.PullTimeout,
		StallTimeout: cfg.StallTimeout,
		Depth:        cfg.Depth,
	}, gen, converter, relay.WithLogger(logger.With("component", "relay")), relay.WithEventBus(bus))
	if err != nil {
		gen.Close()
		return nil, fmt.Errorf("create relay: %w", err)
	}

	var scheduler activation.Scheduler
	switch cfg.Scheduler {
	case SchedulerTask:
		scheduler = activation.NewTaskScheduler(gen.Interval())
	case SchedulerTimer, "":
		scheduler = activation.NewTimerScheduler(gen.Interval())
	default:
		r.Close()
		gen.Close()
		return nil, fmt.Errorf("unknown scheduler %q", cfg.Scheduler)
	}

	c := &Camera{
		stream:    platform.NewLoopback(logger.With("component", "stream")),
		generator: gen,
		relay:     r,
		bus:       bus,
		logger:    logger,
	}
	c.controller = activation.New(r, scheduler,
		activation.WithLogger(logger.With("component", "activation")),
		activation.WithEventBus(bus),
	)
	return c, nil
}

// AttachProducer opens a sink queue for id and adds it to the relay.
func (c *Camera) AttachProducer(id string, format frame.Format) error {
	if err := c.stream.AttachProducer(id, format); err != nil {
		return err
	}
	if err := c.relay.AttachProducer(platform.NewProducerSource(c.stream, id)); err != nil {
		_ = c.stream.DetachProducer(id)
		return err
	}
	return nil
}

// DetachProducer removes producer id.
func (c *Camera) DetachProducer(id string) {
	c.relay.DetachProducer(id)
	if err := c.stream.DetachProducer(id); err != nil {
		c.logger.Debug("Producer already detached", "producer", id, "error", err)
	}
}

// Enqueue hands one producer sample to the sink queue.
func (c *Camera) Enqueue(id string, f *frame.Frame) error {
	return c.stream.Enqueue(id, f)
}

// AttachConsumer registers a consumer and counts it as an observer.
func (c *Camera) AttachConsumer(id string, layout frame.Layout, deliver platform.DeliverFunc) error {
	if err := c.stream.RegisterConsumer(id, deliver); err != nil {
		return err
	}
	if err := c.relay.AttachConsumer(platform.NewConsumerSink(c.stream, id, layout)); err != nil {
		c.stream.UnregisterConsumer(id)
		return err
	}
	if err := c.controller.StartObserving(); err != nil {
		c.relay.DetachConsumer(id)
		c.stream.UnregisterConsumer(id)
		return err
	}
	return nil
}

// SupportsLayout reports whether consumers may watch in layout.
func (c *Camera) SupportsLayout(layout frame.Layout) bool {
	return c.relay.SupportsLayout(layout)
}

// DetachConsumer removes the consumer and its observer.
func (c *Camera) DetachConsumer(id string) {
	if !c.relay.DetachConsumer(id) {
		return
	}
	c.stream.UnregisterConsumer(id)
	if err := c.controller.StopObserving(); err != nil {
		c.logger.Warn("Observer count out of sync", "consumer", id, "error", err)
	}
}

// SetWarningText sets the caption override. source names who asked.
func (c *Camera) SetWarningText(text, source string) {
	c.relay.SetWarningText(text)
	c.logger.Info("Warning text set", "source", source)
	c.bus.Publish(events.WarningTextChangedEvent{Text: text, Set: true, Source: source, Timestamp: events.Now()})
}

// ClearWarningText removes the caption override.
func (c *Camera) ClearWarningText(source string) {
	c.relay.ClearWarningText()
	c.logger.Info("Warning text cleared", "source", source)
	c.bus.Publish(events.WarningTextChangedEvent{Set: false, Source: source, Timestamp: events.Now()})
}

// SetDepthParams updates the depth clip used by conversions.
func (c *Camera) SetDepthParams(p convert.DepthParams, source string) error {
	if p == c.relay.DepthParams() {
		return nil
	}
	if err := c.relay.SetDepthParams(p); err != nil {
		return err
	}
	c.logger.Info("Depth clip updated", "clip_near", p.ClipNear, "clip_far", p.ClipFar, "source", source)
	c.bus.Publish(events.DepthChangedEvent{ClipNear: p.ClipNear, ClipFar: p.ClipFar, Source: source, Timestamp: events.Now()})
	return nil
}

// DepthParams returns the current depth clip.
func (c *Camera) DepthParams() convert.DepthParams {
	return c.relay.DepthParams()
}

// Status returns a snapshot of the camera.
func (c *Camera) Status() Status {
	state, msg := c.relay.State()
	producers, consumers := c.relay.Clients()
	text, ok := c.relay.WarningText()
	return Status{
		State:       state.String(),
		Message:     msg,
		Active:      c.relay.Active(),
		Observers:   c.controller.Observers(),
		Producers:   producers,
		Consumers:   consumers,
		Stats:       c.relay.Stats(),
		Depth:       c.relay.DepthParams(),
		WarningText: text,
		HasWarning:  ok,
	}
}

// Format returns the synthetic frame format consumers see while idle.
func (c *Camera) Format() frame.Format {
	return c.generator.Format()
}

// Pump runs one relay cycle outside the scheduler.
func (c *Camera) Pump(ctx context.Context) relay.Outcome {
	return c.relay.Pump(ctx)
}

// Close stops the relay and frees its buffers.
func (c *Camera) Close() {
	c.controller.Close()
	c.relay.Close()
	c.generator.Close()
}
