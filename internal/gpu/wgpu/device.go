//go:build !nogpu

// Package wgpu is a gpu backend on the pure Go WebGPU implementation.
//
// Kernels are compiled from their WGSL source and dispatched on the first
// adapter the Vulkan HAL exposes. Every submission signals one fence with a
// monotonically increasing value. Map requests and deferred releases wait on
// that value and complete from Poll. Build with the nogpu tag to leave the
// backend out.
package wgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/vulkan"

	"github.com/smazurov/sinkcam/internal/gpu"
)

// Name is the backend name used with gpu.Open.
const Name = "wgpu"

// ErrNoAdapter is returned when no GPU adapter is present.
var ErrNoAdapter = errors.New("no gpu adapter available")

func init() {
	_ = gpu.Register(Name, func(gpu.Config) (gpu.Device, error) {
		return Open()
	})
}

// retired is cleanup that may run once the fence reaches value.
type retired struct {
	value uint64
	fn    func()
}

// Device is a gpu.Device on a hardware adapter.
type Device struct {
	instance hal.Instance
	raw      hal.Device
	rawQueue hal.Queue
	name     string
	limits   gpu.Limits
	queue    *queue

	mu        sync.Mutex
	fence     hal.Fence
	submitted uint64
	completed uint64
	maps      []*buffer
	garbage   []retired
	released  bool
}

// Open opens the first adapter exposed by the Vulkan HAL.
func Open() (*Device, error) {
	instance, err := vulkan.Backend{}.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.BackendsVulkan,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAdapter, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	exposed := adapters[0]

	open, err := exposed.Adapter.Open(0, exposed.Capabilities.Limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open adapter %q: %w", exposed.Info.Name, err)
	}
	fence, err := open.Device.CreateFence()
	if err != nil {
		open.Device.Destroy()
		instance.Destroy()
		return nil, fmt.Errorf("create fence: %w", err)
	}

	d := &Device{
		instance: instance,
		raw:      open.Device,
		rawQueue: open.Queue,
		name:     fmt.Sprintf("%s (%s)", Name, exposed.Info.Name),
		limits: gpu.Limits{
			MaxBufferSize:             exposed.Capabilities.Limits.MaxBufferSize,
			MaxWorkgroupsPerDimension: exposed.Capabilities.Limits.MaxComputeWorkgroupsPerDimension,
		},
		fence: fence,
	}
	d.queue = &queue{dev: d}
	return d, nil
}

// Name implements gpu.Device.
func (d *Device) Name() string {
	return d.name
}

// Limits implements gpu.Device.
func (d *Device) Limits() gpu.Limits {
	return d.limits
}

// Queue implements gpu.Device.
func (d *Device) Queue() gpu.Queue {
	return d.queue
}

// CreateBuffer implements gpu.Device.
func (d *Device) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	if desc.Size == 0 || desc.Size%4 != 0 || desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer %q size %d", gpu.ErrInvalidSize, desc.Label, desc.Size)
	}
	if desc.Usage.Has(gpu.BufferUsageMapRead) && desc.Usage.Has(gpu.BufferUsageMapWrite) {
		return nil, fmt.Errorf("%w: buffer %q cannot be mapped for both read and write", gpu.ErrInvalidUsage, desc.Label)
	}

	raw, err := d.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}
	return &buffer{dev: d, raw: raw, label: desc.Label, size: desc.Size, usage: desc.Usage}, nil
}

// CreateComputePipeline implements gpu.Device. The kernel's WGSL is
// compiled by the device; its host emulation is ignored.
func (d *Device) CreateComputePipeline(kernel *gpu.Kernel) (gpu.Pipeline, error) {
	if kernel == nil || kernel.WGSL == "" {
		return nil, fmt.Errorf("%w: kernel has no shader source", gpu.ErrInvalidDispatch)
	}

	p := &pipeline{dev: d, kernel: kernel}
	fail := func(step string, err error) (gpu.Pipeline, error) {
		p.Release()
		return nil, fmt.Errorf("kernel %q: %s: %w", kernel.Label, step, err)
	}

	var err error
	p.module, err = d.raw.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  kernel.Label,
		Source: hal.ShaderSource{WGSL: kernel.WGSL},
	})
	if err != nil {
		return fail("compile shader", err)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, len(kernel.Bindings))
	for i, binding := range kernel.Bindings {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: bindingType(binding)},
		}
	}
	p.groupLayout, err = d.raw.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   kernel.Label,
		Entries: entries,
	})
	if err != nil {
		return fail("bind group layout", err)
	}

	p.layout, err = d.raw.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            kernel.Label,
		BindGroupLayouts: []hal.BindGroupLayout{p.groupLayout},
	})
	if err != nil {
		return fail("pipeline layout", err)
	}

	p.raw, err = d.raw.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  kernel.Label,
		Layout: p.layout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: kernel.EntryPoint,
		},
	})
	if err != nil {
		return fail("compute pipeline", err)
	}
	return p, nil
}

// CreateCommandEncoder implements gpu.Device. Encoder creation
// errors surface from Finish.
func (d *Device) CreateCommandEncoder(label string) gpu.CommandEncoder {
	e := &encoder{dev: d, label: label}
	raw, err := d.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		e.fail(fmt.Errorf("create encoder: %w", err))
		return e
	}
	if err = raw.BeginEncoding(label); err != nil {
		e.fail(fmt.Errorf("begin encoding: %w", err))
		return e
	}
	e.raw = raw
	return e
}

// Poll implements gpu.Device. It reads back buffers whose map requests
// have been reached by the fence and runs due cleanup.
func (d *Device) Poll() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	if d.completed < d.submitted {
		if ok, err := d.raw.Wait(d.fence, d.submitted, 0); err == nil && ok {
			d.completed = d.submitted
		}
	}
	completed := d.completed

	var ready []*buffer
	pending := d.maps[:0]
	for _, b := range d.maps {
		if b.waitFor <= completed {
			ready = append(ready, b)
		} else {
			pending = append(pending, b)
		}
	}
	d.maps = pending

	var due []func()
	keep := d.garbage[:0]
	for _, g := range d.garbage {
		if g.value <= completed {
			due = append(due, g.fn)
		} else {
			keep = append(keep, g)
		}
	}
	d.garbage = keep
	d.mu.Unlock()

	for _, b := range ready {
		b.completeMap()
	}
	for _, fn := range due {
		fn()
	}
}

// submit hands command buffers to the queue and returns their fence value.
func (d *Device) submit(cmds []hal.CommandBuffer) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return 0, gpu.ErrDeviceLost
	}
	value := d.submitted + 1
	if err := d.rawQueue.Submit(cmds, d.fence, value); err != nil {
		return 0, err
	}
	d.submitted = value
	return value, nil
}

func (d *Device) requestMap(b *buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return gpu.ErrDeviceLost
	}
	b.waitFor = d.submitted
	d.maps = append(d.maps, b)
	return nil
}

// retire runs fn once every submission so far has completed.
func (d *Device) retire(fn func()) {
	d.mu.Lock()
	if d.released || d.completed >= d.submitted {
		d.mu.Unlock()
		fn()
		return
	}
	d.garbage = append(d.garbage, retired{value: d.submitted, fn: fn})
	d.mu.Unlock()
}

// Release waits for outstanding work and destroys the device.
func (d *Device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	if d.completed < d.submitted {
		_, _ = d.raw.Wait(d.fence, d.submitted, releaseTimeout)
	}
	d.released = true
	garbage := d.garbage
	d.garbage = nil
	d.maps = nil
	d.mu.Unlock()

	for _, g := range garbage {
		g.fn()
	}
	d.raw.DestroyFence(d.fence)
	d.raw.Destroy()
	d.instance.Destroy()
}

type pipeline struct {
	dev         *Device
	kernel      *gpu.Kernel
	module      hal.ShaderModule
	groupLayout hal.BindGroupLayout
	layout      hal.PipelineLayout
	raw         hal.ComputePipeline

	once sync.Once
}

func (p *pipeline) Label() string       { return p.kernel.Label }
func (p *pipeline) Kernel() *gpu.Kernel { return p.kernel }

func (p *pipeline) Release() {
	p.once.Do(func() {
		p.dev.retire(func() {
			if p.raw != nil {
				p.dev.raw.DestroyComputePipeline(p.raw)
			}
			if p.layout != nil {
				p.dev.raw.DestroyPipelineLayout(p.layout)
			}
			if p.groupLayout != nil {
				p.dev.raw.DestroyBindGroupLayout(p.groupLayout)
			}
			if p.module != nil {
				p.dev.raw.DestroyShaderModule(p.module)
			}
		})
	})
}

func bufferUsage(u gpu.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	for _, m := range []struct {
		from gpu.BufferUsage
		to   gputypes.BufferUsage
	}{
		{gpu.BufferUsageMapRead, gputypes.BufferUsageMapRead},
		{gpu.BufferUsageMapWrite, gputypes.BufferUsageMapWrite},
		{gpu.BufferUsageCopySrc, gputypes.BufferUsageCopySrc},
		{gpu.BufferUsageCopyDst, gputypes.BufferUsageCopyDst},
		{gpu.BufferUsageUniform, gputypes.BufferUsageUniform},
		{gpu.BufferUsageStorage, gputypes.BufferUsageStorage},
	} {
		if u.Has(m.from) {
			out |= m.to
		}
	}
	return out
}

func bindingType(t gpu.BindingType) gputypes.BufferBindingType {
	switch t {
	case gpu.BindingUniform:
		return gputypes.BufferBindingTypeUniform
	case gpu.BindingStorage:
		return gputypes.BufferBindingTypeStorage
	default:
		return gputypes.BufferBindingTypeReadOnlyStorage
	}
}
