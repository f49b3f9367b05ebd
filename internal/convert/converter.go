// Package convert runs pixel layout conversions on the GPU.
//
// A conversion uploads the input frame, dispatches one workgroup per output
// pixel (per output word for packed RGB), copies the result into a mappable
// buffer and polls that buffer until the device maps it for reading. Jobs on
// one Converter run one at a time.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/gpu"
	"github.com/smazurov/sinkcam/internal/metrics"
)

// Errors returned by conversions.
var (
	ErrUnsupportedConversion = errors.New("unsupported conversion")
	ErrInvalidDepthRange     = errors.New("depth clip far must be greater than near")
	ErrInputSize             = errors.New("input size does not match format")
	ErrMapFailed             = errors.New("readback buffer map failed")
	ErrMapTimeout            = errors.New("readback buffer map timed out")
	ErrClosed                = errors.New("converter closed")
)

// Defaults for readback polling.
const (
	DefaultPollInterval    = time.Millisecond
	DefaultMaxPollAttempts = 2000
)

// DepthParams clips depth samples, in millimetres.
type DepthParams struct {
	ClipNear uint32 `toml:"clip_near" json:"clipNear" doc:"Nearest valid depth in millimetres" example:"10"`
	ClipFar  uint32 `toml:"clip_far" json:"clipFar" doc:"Farthest valid depth in millimetres" example:"15000"`
}

// DefaultDepthParams returns the 10mm to 15m clip range.
func DefaultDepthParams() DepthParams {
	return DepthParams{ClipNear: 10, ClipFar: 15000}
}

// Validate checks that the range is not empty.
func (p DepthParams) Validate() error {
	if p.ClipFar <= p.ClipNear {
		return fmt.Errorf("%w: near=%d far=%d", ErrInvalidDepthRange, p.ClipNear, p.ClipFar)
	}
	return nil
}

// OutputFormat returns the format produced by converting in to layout.
func OutputFormat(in frame.Format, layout frame.Layout) (frame.Format, error) {
	if _, err := kernelFor(in.Layout, layout); err != nil {
		return frame.Format{}, err
	}
	return in.WithLayout(layout), nil
}

// Supported reports whether from can be converted to to.
func Supported(from, to frame.Layout) bool {
	_, err := kernelFor(from, to)
	return err == nil
}

func kernelFor(from, to frame.Layout) (*gpu.Kernel, error) {
	switch {
	case from == frame.LayoutRGB8 && to == frame.LayoutBGRA8:
		return rgb8ToBGRA8Kernel, nil
	case from == frame.LayoutDepth16mm && to == frame.LayoutBGRA8:
		return depth16ToBGRA8Kernel, nil
	case from == frame.LayoutBGRA8 && to == frame.LayoutRGB8:
		return bgra8ToRGB8Kernel, nil
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnsupportedConversion, from, to)
	}
}

// Converter owns the compiled pipelines for one GPU context.
type Converter struct {
	device          gpu.Device
	logger          *slog.Logger
	pollInterval    time.Duration
	maxPollAttempts int

	mu        sync.Mutex
	pipelines map[*gpu.Kernel]gpu.Pipeline
	closed    bool
}

// Option configures a Converter.
type Option func(*Converter)

// WithPollInterval sets the sleep between readback map checks.
func WithPollInterval(d time.Duration) Option {
	return func(c *Converter) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMaxPollAttempts bounds the readback map checks before ErrMapTimeout.
func WithMaxPollAttempts(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.maxPollAttempts = n
		}
	}
}

// WithLogger sets the converter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = logger
	}
}

// New compiles the conversion pipelines on gpuCtx's device.
func New(gpuCtx *gpu.Context, opts ...Option) (*Converter, error) {
	c := &Converter{
		device:          gpuCtx.Device(),
		logger:          gpuCtx.Logger(),
		pollInterval:    DefaultPollInterval,
		maxPollAttempts: DefaultMaxPollAttempts,
		pipelines:       make(map[*gpu.Kernel]gpu.Pipeline),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, kernel := range kernels {
		p, err := c.device.CreateComputePipeline(kernel)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create %s pipeline: %w", kernel.Label, err)
		}
		c.pipelines[kernel] = p
	}

	c.logger.Debug("Converter ready", "device", c.device.Name(), "pipelines", len(c.pipelines))
	return c, nil
}

// Convert returns a copy of the converted pixels.
func (c *Converter) Convert(ctx context.Context, input []byte, in frame.Format, layout frame.Layout, depth *DepthParams) ([]byte, error) {
	var out []byte
	err := c.ConvertInto(ctx, input, in, layout, depth, func(mapped []byte) error {
		out = make([]byte, len(mapped))
		copy(out, mapped)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConvertInto converts input and passes the mapped result to fn. The slice is
// only valid during fn. depth is used for depth input and defaults to
// DefaultDepthParams when nil.
//
// ctx is checked before the job starts. Once submitted the job always runs
// to completion so the device is left clean.
func (c *Converter) ConvertInto(ctx context.Context, input []byte, in frame.Format, layout frame.Layout, depth *DepthParams, fn func([]byte) error) error {
	job, err := c.prepare(input, in, layout, depth)
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	start := time.Now()
	if err = c.run(job, input, fn); err != nil {
		metrics.IncConversionError(job.kind())
		return fmt.Errorf("%s conversion: %w", job.kind(), err)
	}
	metrics.ObserveConversion(job.kind(), time.Since(start).Seconds())
	return nil
}

func (c *Converter) prepare(input []byte, in frame.Format, layout frame.Layout, depth *DepthParams) (*Job, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	kernel, err := kernelFor(in.Layout, layout)
	if err != nil {
		return nil, err
	}
	if uint64(len(input)) != in.ByteSize() {
		return nil, fmt.Errorf("%w: got %d bytes, %s needs %d", ErrInputSize, len(input), in, in.ByteSize())
	}

	job := &Job{Input: in, Output: in.WithLayout(layout), kernel: kernel}
	if in.Layout == frame.LayoutDepth16mm {
		params := DefaultDepthParams()
		if depth != nil {
			params = *depth
		}
		if err = params.Validate(); err != nil {
			return nil, err
		}
		job.Depth = &params
	}
	return job, nil
}

func (c *Converter) run(job *Job, input []byte, fn func([]byte) error) error {
	if err := job.allocate(c.device); err != nil {
		return err
	}
	defer job.release()

	queue := c.device.Queue()
	if err := queue.WriteBuffer(job.input, 0, padded(input)); err != nil {
		return fmt.Errorf("upload input: %w", err)
	}
	if job.uniform != nil {
		if err := queue.WriteBuffer(job.uniform, 0, job.uniformBytes()); err != nil {
			return fmt.Errorf("upload depth clip: %w", err)
		}
	}

	enc := c.device.CreateCommandEncoder(job.kind())
	x, y := workgroups(job.kernel, job.Output, c.device.Limits().MaxWorkgroupsPerDimension)
	enc.Dispatch(c.pipelines[job.kernel], job.bindings(), x, y, 1)
	enc.CopyBufferToBuffer(job.output, 0, job.readback, 0, job.readback.Size())
	cmd, err := enc.Finish()
	if err != nil {
		return err
	}
	if err = queue.Submit(cmd); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	rb := newReadback(c.device, job.readback, c.pollInterval, c.maxPollAttempts)
	if err = rb.wait(); err != nil {
		return err
	}
	defer job.readback.Unmap()

	mapped, err := job.readback.MappedRange(0, job.Output.ByteSize())
	if err != nil {
		return err
	}
	return fn(mapped)
}

// Close releases the pipelines. Later conversions fail with ErrClosed.
func (c *Converter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, p := range c.pipelines {
		p.Release()
	}
}

// padded returns data extended with zeros to a 4 byte multiple.
func padded(data []byte) []byte {
	size := gpu.AlignSize(uint64(len(data)))
	if size == uint64(len(data)) {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}
