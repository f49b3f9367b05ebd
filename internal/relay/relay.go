// Package relay moves frames from attached producers to attached consumers.
//
// Each Pump call pulls at most one producer frame, converts it for
// consumers that expect another layout and pushes it. When there is no
// producer, or the cycle fails, consumers get a synthetic frame whose caption
// carries the waiting or error text instead.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/sinkcam/internal/bufferpool"
	"github.com/smazurov/sinkcam/internal/convert"
	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/metrics"
	"github.com/smazurov/sinkcam/internal/synthetic"
)

// WaitingText is the caption shown while no producer is attached.
const WaitingText = "Waiting for producer"

// DefaultCooldown is the pause after a failed cycle before pulling again.
const DefaultCooldown = time.Second

// DefaultStallTimeout is how long a streaming relay waits for a new frame
// before falling back to the waiting caption.
const DefaultStallTimeout = time.Second

// Errors reported by the relay.
var (
	ErrDuplicateClient    = errors.New("client already attached")
	ErrAllConsumersFailed = errors.New("every consumer rejected the frame")
	ErrNoConverter        = errors.New("no converter configured")
	ErrUnsupportedLayout  = errors.New("placeholder frames cannot be converted to layout")

	// ErrNoFrame is returned by a FrameSource that is healthy but has no
	// frame ready. It does not count as a failure.
	ErrNoFrame = errors.New("no frame ready")
)

// FrameSource produces frames. NextFrame may block until a frame is ready
// or ctx ends. Called with an already ended ctx it must not block: it
// returns a queued frame or ErrNoFrame.
type FrameSource interface {
	Name() string
	NextFrame(ctx context.Context) (*frame.Frame, error)
}

// Consumer receives frames in the layout it declares. Push must not keep
// frame memory after returning.
type Consumer interface {
	ID() string
	Layout() frame.Layout
	Push(ctx context.Context, f *frame.Frame) error
}

// Converter converts pixels between layouts. *convert.Converter implements it.
type Converter interface {
	ConvertInto(ctx context.Context, input []byte, in frame.Format, layout frame.Layout, depth *convert.DepthParams, fn func([]byte) error) error
}

// Config tunes the relay.
type Config struct {
	// Interval is the inactive sleep. Defaults to the generator interval.
	Interval time.Duration
	Cooldown time.Duration
	// PullTimeout bounds the wait for a producer frame in one cycle.
	// Defaults to Interval.
	PullTimeout   time.Duration
	StallTimeout  time.Duration
	PoolThreshold int
	Depth         convert.DepthParams
}

// Relay is the frame relay. It owns its buffer pool.
type Relay struct {
	cfg       Config
	logger    *slog.Logger
	synthetic *synthetic.Generator
	converter Converter
	pool      *bufferpool.Pool
	bus       *events.Bus

	mu               sync.Mutex
	producers        []FrameSource
	consumers        []Consumer
	active           bool
	epoch            uint64
	state            State
	message          string
	lastErr          error
	errorAt          time.Time
	lastFrameAt      time.Time
	depth            convert.DepthParams
	override         string
	hasOverride      bool
	stats            Stats
	consumerFailures map[string]uint64
}

// Stats counts pump results since creation.
type Stats struct {
	Relayed   uint64
	Synthetic uint64
	Skipped   uint64
	Errors    uint64
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithEventBus publishes state changes on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(r *Relay) {
		r.bus = bus
	}
}

// New creates an idle relay. converter may be nil when no consumer needs
// conversion.
func New(cfg Config, gen *synthetic.Generator, converter Converter, opts ...Option) (*Relay, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = gen.Interval()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = cfg.Interval
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	if cfg.PoolThreshold <= 0 {
		cfg.PoolThreshold = bufferpool.DefaultThreshold
	}
	if cfg.Depth == (convert.DepthParams{}) {
		cfg.Depth = convert.DefaultDepthParams()
	}
	if err := cfg.Depth.Validate(); err != nil {
		return nil, err
	}

	r := &Relay{
		cfg:              cfg,
		logger:           slog.Default(),
		synthetic:        gen,
		converter:        converter,
		depth:            cfg.Depth,
		consumerFailures: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pool = bufferpool.New("relay",
		bufferpool.WithThreshold(cfg.PoolThreshold),
		bufferpool.WithLogger(r.logger),
	)
	metrics.SetRelayState(StateIdle.String())
	return r, nil
}

// AttachProducer adds src after the producers already attached.
func (r *Relay) AttachProducer(src FrameSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.ContainsFunc(r.producers, func(p FrameSource) bool { return p.Name() == src.Name() }) {
		return fmt.Errorf("%w: producer %s", ErrDuplicateClient, src.Name())
	}
	r.producers = append(r.producers, src)
	r.logger.Info("Producer attached", "producer", src.Name(), "producers", len(r.producers))
	r.bus.Publish(events.ClientChangedEvent{Role: "producer", ClientID: src.Name(), Action: "attached", Timestamp: events.Now()})
	return nil
}

// DetachProducer removes the named producer and reports whether it was attached.
func (r *Relay) DetachProducer(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.producers, func(p FrameSource) bool { return p.Name() == name })
	if i < 0 {
		return false
	}
	r.producers = slices.Delete(r.producers, i, i+1)
	r.logger.Info("Producer detached", "producer", name, "producers", len(r.producers))
	r.bus.Publish(events.ClientChangedEvent{Role: "producer", ClientID: name, Action: "detached", Timestamp: events.Now()})
	return true
}

// AttachConsumer adds c to the delivery list.
func (r *Relay) AttachConsumer(c Consumer) error {
	if !r.SupportsLayout(c.Layout()) {
		return fmt.Errorf("%w: %s", ErrUnsupportedLayout, c.Layout())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.ContainsFunc(r.consumers, func(o Consumer) bool { return o.ID() == c.ID() }) {
		return fmt.Errorf("%w: consumer %s", ErrDuplicateClient, c.ID())
	}
	r.consumers = append(r.consumers, c)
	r.logger.Info("Consumer attached", "consumer", c.ID(), "layout", c.Layout().String(), "consumers", len(r.consumers))
	r.bus.Publish(events.ClientChangedEvent{Role: "consumer", ClientID: c.ID(), Action: "attached", Layout: c.Layout().String(), Timestamp: events.Now()})
	return nil
}

// SupportsLayout reports whether a consumer in layout can always be served.
// Synthetic frames are in the generator layout, so any other layout must be
// reachable from it by conversion.
func (r *Relay) SupportsLayout(layout frame.Layout) bool {
	from := r.synthetic.Format().Layout
	return layout == from || convert.Supported(from, layout)
}

// DetachConsumer removes the consumer and reports whether it was attached.
func (r *Relay) DetachConsumer(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.consumers, func(c Consumer) bool { return c.ID() == id })
	if i < 0 {
		return false
	}
	r.consumers = slices.Delete(r.consumers, i, i+1)
	delete(r.consumerFailures, id)
	r.logger.Info("Consumer detached", "consumer", id, "consumers", len(r.consumers))
	r.bus.Publish(events.ClientChangedEvent{Role: "consumer", ClientID: id, Action: "detached", Timestamp: events.Now()})
	return true
}

// Activate starts relaying on the next Pump.
func (r *Relay) Activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return
	}
	r.active = true
	r.epoch++
	r.lastErr = nil
	r.transitionLocked(StateWaitingForProducer, WaitingText)
}

// Deactivate stops relaying. Results of a cycle already in flight are dropped.
func (r *Relay) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.epoch++
	r.lastErr = nil
	r.transitionLocked(StateIdle, "")
}

// Active reports whether the relay is activated.
func (r *Relay) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// State returns the current state and its message.
func (r *Relay) State() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.message
}

// LastError returns the error of the most recent failed cycle, nil once a
// cycle succeeds.
func (r *Relay) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// SetDepthParams updates the depth clip used from the next conversion on.
func (r *Relay) SetDepthParams(p convert.DepthParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth = p
	return nil
}

// DepthParams returns the current depth clip.
func (r *Relay) DepthParams() convert.DepthParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depth
}

// SetWarningText overrides the synthetic caption, taking precedence over the
// relay's own waiting and error text.
func (r *Relay) SetWarningText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = text
	r.hasOverride = true
}

// ClearWarningText removes the override.
func (r *Relay) ClearWarningText() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = ""
	r.hasOverride = false
}

// WarningText returns the override and whether one is set.
func (r *Relay) WarningText() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.override, r.hasOverride
}

// Stats returns the pump counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ConsumerFailures returns failed pushes per attached consumer.
func (r *Relay) ConsumerFailures() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.consumerFailures))
	for id, n := range r.consumerFailures {
		out[id] = n
	}
	return out
}

// Clients returns the attached producer names and consumer IDs in order.
func (r *Relay) Clients() (producers, consumers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.producers {
		producers = append(producers, p.Name())
	}
	for _, c := range r.consumers {
		consumers = append(consumers, c.ID())
	}
	return producers, consumers
}

// Close releases the relay's buffers.
func (r *Relay) Close() {
	r.pool.Close()
}

// transitionLocked moves to state and publishes the change. r.mu must be held.
func (r *Relay) transitionLocked(state State, message string) {
	if r.state == state && r.message == message {
		return
	}
	prev := r.state
	r.state = state
	r.message = message
	metrics.SetRelayState(state.String())

	if prev != state {
		r.logger.Debug("Relay state changed", "from", prev.String(), "to", state.String(), "message", message)
	}
	r.bus.Publish(events.RelayStateChangedEvent{
		State:     state.String(),
		Previous:  prev.String(),
		Message:   message,
		Timestamp: events.Now(),
	})
}

// transition applies state only if the relay is still in epoch.
func (r *Relay) transition(epoch uint64, state State, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.epoch != epoch {
		return false
	}
	r.transitionLocked(state, message)
	return true
}

// fail records err for the cycle in epoch and starts the cooldown.
func (r *Relay) fail(epoch uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.epoch != epoch {
		return
	}
	if r.state != StateError {
		r.logger.Warn("Relay cycle failed", "error", err)
	} else {
		r.logger.Debug("Relay cycle failed", "error", err)
	}
	r.lastErr = err
	r.errorAt = time.Now()
	r.stats.Errors++
	r.transitionLocked(StateError, err.Error())
}

// current reports whether the relay is still active in epoch.
func (r *Relay) current(epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active && r.epoch == epoch
}

func (r *Relay) count(o Outcome) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch o {
	case OutcomeRelayed:
		r.stats.Relayed++
		metrics.IncFramesRelayed()
	case OutcomeSynthetic:
		r.stats.Synthetic++
		metrics.IncFramesSynthetic()
	default:
		r.stats.Skipped++
	}
	return o
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
