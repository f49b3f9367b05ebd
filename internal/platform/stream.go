// Package platform is the boundary to the OS stream that carries frames in
// and out of the virtual camera.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/relay"
)

// Stream is a platform stream with producer (sink) and consumer (source)
// sides.
type Stream interface {
	// AttachProducer opens a sink queue for id. Samples must match format.
	AttachProducer(id string, format frame.Format) error
	DetachProducer(id string) error
	// PullOneSample returns the oldest queued sample of producer id. It waits
	// until one arrives or ctx ends, then fails with ErrNoSample.
	PullOneSample(ctx context.Context, id string) (*frame.Frame, error)
	// PushSample delivers f to the consumer, stamped with ts nanoseconds.
	PushSample(ctx context.Context, consumerID string, f *frame.Frame, ts uint64) error
}

// streamError is a sentinel carrying a short metric reason.
type streamError struct {
	reason string
	msg    string
}

func (e *streamError) Error() string  { return e.msg }
func (e *streamError) Reason() string { return e.reason }

// Stream errors. Each exposes Reason() for metric labels.
var (
	ErrNoSample           error = &streamError{reason: "no_sample", msg: "no sample available"}
	ErrClientDisconnected error = &streamError{reason: "disconnected", msg: "client disconnected"}
	ErrFormatMismatch     error = &streamError{reason: "format_mismatch", msg: "sample format does not match stream"}
	ErrQueueFull          error = &streamError{reason: "queue_full", msg: "sink queue full"}
	ErrDuplicateClient    error = &streamError{reason: "duplicate", msg: "client already attached"}
)

// ProducerSource reads one producer of a Stream as a frame source.
type ProducerSource struct {
	stream Stream
	id     string
}

// NewProducerSource returns a source for producer id.
func NewProducerSource(stream Stream, id string) *ProducerSource {
	return &ProducerSource{stream: stream, id: id}
}

// Name returns the producer id.
func (p *ProducerSource) Name() string { return p.id }

// NextFrame pulls one sample. An empty queue is reported as relay.ErrNoFrame.
func (p *ProducerSource) NextFrame(ctx context.Context) (*frame.Frame, error) {
	f, err := p.stream.PullOneSample(ctx, p.id)
	if errors.Is(err, ErrNoSample) {
		return nil, fmt.Errorf("%w: %w", relay.ErrNoFrame, err)
	}
	return f, err
}

// ConsumerSink pushes relay frames to one consumer of a Stream.
type ConsumerSink struct {
	stream Stream
	id     string
	layout frame.Layout
}

// NewConsumerSink returns a sink for consumerID expecting layout.
func NewConsumerSink(stream Stream, consumerID string, layout frame.Layout) *ConsumerSink {
	return &ConsumerSink{stream: stream, id: consumerID, layout: layout}
}

// ID returns the consumer id.
func (c *ConsumerSink) ID() string { return c.id }

// Layout returns the layout the consumer expects.
func (c *ConsumerSink) Layout() frame.Layout { return c.layout }

// Push forwards f with its own timestamp.
func (c *ConsumerSink) Push(ctx context.Context, f *frame.Frame) error {
	return c.stream.PushSample(ctx, c.id, f, f.Timestamp)
}
