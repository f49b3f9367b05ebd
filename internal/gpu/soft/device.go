// Package soft is a host-memory gpu backend.
//
// Kernels are compiled from WGSL to reject invalid shader source, then run
// through their Emulate functions with workgroups spread over a bounded set
// of goroutines. Uploads, submissions and map requests execute
// in order on a queue goroutine, so a buffer map completes only after every
// submission queued before it, as on a real device.
package soft

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/naga"

	"github.com/smazurov/sinkcam/internal/gpu"
)

// Name is the backend name used with gpu.Open.
const Name = "software"

// ErrNoEmulation is returned for kernels without a host implementation.
var ErrNoEmulation = errors.New("kernel has no host emulation")

const queueDepth = 64

func init() {
	_ = gpu.Register(Name, func(cfg gpu.Config) (gpu.Device, error) {
		return New(WithWorkers(cfg.Workers), WithMapLatency(cfg.MapLatency)), nil
	})
}

// Option configures a Device.
type Option func(*Device)

// WithWorkers bounds the goroutines used per dispatch.
func WithWorkers(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithMapLatency delays every map completion by latency.
func WithMapLatency(latency time.Duration) Option {
	return func(d *Device) {
		d.mapLatency = latency
	}
}

// WithMapFailure makes every map request end in MapStateFailed.
func WithMapFailure() Option {
	return func(d *Device) {
		d.failMaps = true
	}
}

// WithStalledMaps leaves every map request pending forever.
func WithStalledMaps() Option {
	return func(d *Device) {
		d.stallMaps = true
	}
}

// WithLimits overrides the reported device limits.
func WithLimits(limits gpu.Limits) Option {
	return func(d *Device) {
		d.limits = limits
	}
}

// Device is a software gpu.Device.
type Device struct {
	workers    int
	mapLatency time.Duration
	failMaps   bool
	stallMaps  bool
	limits     gpu.Limits

	mu       sync.RWMutex
	released bool
	ops      chan func()
	wg       sync.WaitGroup

	queue       *queue
	submissions atomic.Uint64
	dispatches  atomic.Uint64
}

// New starts a software device.
func New(opts ...Option) *Device {
	d := &Device{
		workers: runtime.GOMAXPROCS(0),
		limits: gpu.Limits{
			MaxBufferSize:             1 << 30,
			MaxWorkgroupsPerDimension: 65535,
		},
		ops: make(chan func(), queueDepth),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = &queue{dev: d}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Device) run() {
	defer d.wg.Done()
	for op := range d.ops {
		op()
	}
}

// enqueue schedules op after everything queued before it.
func (d *Device) enqueue(op func()) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.released {
		return gpu.ErrDeviceLost
	}
	d.ops <- op
	return nil
}

// Name implements gpu.Device.
func (d *Device) Name() string {
	return fmt.Sprintf("%s (%d workers)", Name, d.workers)
}

// Limits implements gpu.Device.
func (d *Device) Limits() gpu.Limits {
	return d.limits
}

// Queue implements gpu.Device.
func (d *Device) Queue() gpu.Queue {
	return d.queue
}

// Poll implements gpu.Device. Work progresses on the queue goroutine, so
// polling only yields.
func (d *Device) Poll() {
	runtime.Gosched()
}

// Submissions returns how many command buffers have been submitted.
func (d *Device) Submissions() uint64 {
	return d.submissions.Load()
}

// Dispatches returns how many dispatches have executed.
func (d *Device) Dispatches() uint64 {
	return d.dispatches.Load()
}

// CreateBuffer implements gpu.Device.
func (d *Device) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	if desc.Size == 0 || desc.Size%4 != 0 || desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer %q size %d", gpu.ErrInvalidSize, desc.Label, desc.Size)
	}
	if desc.Usage.Has(gpu.BufferUsageMapRead) && desc.Usage.Has(gpu.BufferUsageMapWrite) {
		return nil, fmt.Errorf("%w: buffer %q cannot be mapped for both read and write", gpu.ErrInvalidUsage, desc.Label)
	}
	return &buffer{
		dev:   d,
		label: desc.Label,
		usage: desc.Usage,
		data:  make([]byte, desc.Size),
	}, nil
}

// CreateComputePipeline implements gpu.Device.
func (d *Device) CreateComputePipeline(kernel *gpu.Kernel) (gpu.Pipeline, error) {
	if kernel == nil || kernel.Emulate == nil {
		return nil, ErrNoEmulation
	}
	if kernel.EntryPoint == "" || !strings.Contains(kernel.WGSL, "fn "+kernel.EntryPoint+"(") {
		return nil, fmt.Errorf("kernel %q: entry point %q not found in shader source", kernel.Label, kernel.EntryPoint)
	}
	if _, err := naga.Compile(kernel.WGSL); err != nil {
		return nil, fmt.Errorf("kernel %q: compile shader: %w", kernel.Label, err)
	}
	return &pipeline{dev: d, kernel: kernel}, nil
}

// CreateCommandEncoder implements gpu.Device.
func (d *Device) CreateCommandEncoder(label string) gpu.CommandEncoder {
	return &encoder{dev: d, label: label}
}

// Release stops the queue after draining queued work.
func (d *Device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	close(d.ops)
	d.mu.Unlock()

	d.wg.Wait()
}

type pipeline struct {
	dev    *Device
	kernel *gpu.Kernel
}

func (p *pipeline) Label() string       { return p.kernel.Label }
func (p *pipeline) Kernel() *gpu.Kernel { return p.kernel }
func (p *pipeline) Release()            {}
