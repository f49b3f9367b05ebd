package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/metrics"
)

// QueueCapacity is the number of samples a producer queue holds.
const QueueCapacity = 4

// DeliverFunc hands a frame to a consumer. The frame is only valid for the
// duration of the call.
type DeliverFunc func(ctx context.Context, f *frame.Frame, ts uint64) error

type producerQueue struct {
	format  frame.Format
	samples chan *frame.Frame
	gone    chan struct{}
	dropped atomic.Uint64
}

// Loopback is an in-memory Stream.
type Loopback struct {
	logger *slog.Logger

	mu        sync.RWMutex
	producers map[string]*producerQueue
	consumers map[string]DeliverFunc
}

// NewLoopback creates an empty loopback stream.
func NewLoopback(logger *slog.Logger) *Loopback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loopback{
		logger:    logger,
		producers: make(map[string]*producerQueue),
		consumers: make(map[string]DeliverFunc),
	}
}

// AttachProducer opens a queue for id.
func (l *Loopback) AttachProducer(id string, format frame.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.producers[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClient, id)
	}
	l.producers[id] = &producerQueue{
		format:  format,
		samples: make(chan *frame.Frame, QueueCapacity),
		gone:    make(chan struct{}),
	}
	l.logger.Debug("Sink queue opened", "producer", id, "format", format.String())
	return nil
}

// DetachProducer closes the queue for id and releases samples still in it.
func (l *Loopback) DetachProducer(id string) error {
	l.mu.Lock()
	q, ok := l.producers[id]
	delete(l.producers, id)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientDisconnected, id)
	}

	close(q.gone)
	for {
		select {
		case f := <-q.samples:
			f.Release()
		default:
			l.logger.Debug("Sink queue closed", "producer", id)
			return nil
		}
	}
}

// Enqueue hands f to the producer queue. The queue takes ownership; when it
// is full the new sample is released and ErrQueueFull returned.
func (l *Loopback) Enqueue(id string, f *frame.Frame) error {
	// The read lock is held across the send so DetachProducer cannot drain
	// the queue in between.
	l.mu.RLock()
	defer l.mu.RUnlock()
	q, ok := l.producers[id]
	if !ok {
		f.Release()
		return fmt.Errorf("%w: %s", ErrClientDisconnected, id)
	}
	if f.Format != q.format {
		f.Release()
		metrics.IncSinkDropped("format_mismatch")
		return fmt.Errorf("%w: got %s, want %s", ErrFormatMismatch, f.Format, q.format)
	}

	select {
	case q.samples <- f:
		return nil
	default:
		f.Release()
		q.dropped.Add(1)
		metrics.IncSinkDropped("queue_full")
		return ErrQueueFull
	}
}

// PullOneSample returns the oldest sample for id, waiting until ctx ends.
func (l *Loopback) PullOneSample(ctx context.Context, id string) (*frame.Frame, error) {
	l.mu.RLock()
	q, ok := l.producers[id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientDisconnected, id)
	}

	select {
	case f := <-q.samples:
		return f, nil
	default:
	}
	select {
	case f := <-q.samples:
		return f, nil
	case <-q.gone:
		return nil, fmt.Errorf("%w: %s", ErrClientDisconnected, id)
	case <-ctx.Done():
		return nil, ErrNoSample
	}
}

// RegisterConsumer adds a consumer that receives pushed samples through fn.
func (l *Loopback) RegisterConsumer(id string, fn DeliverFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.consumers[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClient, id)
	}
	l.consumers[id] = fn
	return nil
}

// UnregisterConsumer removes the consumer.
func (l *Loopback) UnregisterConsumer(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.consumers, id)
}

// PushSample delivers f to consumerID.
func (l *Loopback) PushSample(ctx context.Context, consumerID string, f *frame.Frame, ts uint64) error {
	l.mu.RLock()
	fn, ok := l.consumers[consumerID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientDisconnected, consumerID)
	}
	return fn(ctx, f, ts)
}

// Dropped returns how many samples producer id lost to a full queue.
func (l *Loopback) Dropped(id string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if q, ok := l.producers[id]; ok {
		return q.dropped.Load()
	}
	return 0
}

// Queued returns the number of samples waiting for producer id.
func (l *Loopback) Queued(id string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if q, ok := l.producers[id]; ok {
		return len(q.samples)
	}
	return 0
}
