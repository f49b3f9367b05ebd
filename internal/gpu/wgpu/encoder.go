//go:build !nogpu

package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/smazurov/sinkcam/internal/gpu"
)

type commandBuffer struct {
	dev        *Device
	label      string
	raw        hal.CommandBuffer
	bindGroups []hal.BindGroup

	once sync.Once
}

func (c *commandBuffer) Label() string { return c.label }

// free releases the command buffer and its bind groups after completion.
func (c *commandBuffer) free() {
	c.dev.retire(func() {
		c.dev.raw.FreeCommandBuffer(c.raw)
		for _, bg := range c.bindGroups {
			c.dev.raw.DestroyBindGroup(bg)
		}
	})
}

type encoder struct {
	dev        *Device
	label      string
	raw        hal.CommandEncoder
	bindGroups []hal.BindGroup
	err        error
	finished   bool
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) ownBuffer(b gpu.Buffer) (*buffer, bool) {
	wb, ok := b.(*buffer)
	if !ok || wb.dev != e.dev || !wb.live() {
		return nil, false
	}
	return wb, true
}

// Dispatch implements gpu.CommandEncoder.
func (e *encoder) Dispatch(p gpu.Pipeline, bindings []gpu.Buffer, x, y, z uint32) {
	if e.err != nil {
		return
	}
	wp, ok := p.(*pipeline)
	if !ok || wp.dev != e.dev {
		e.fail(fmt.Errorf("%w: pipeline from another device", gpu.ErrInvalidDispatch))
		return
	}
	kernel := wp.kernel
	if len(bindings) != len(kernel.Bindings) {
		e.fail(fmt.Errorf("%w: kernel %q wants %d bindings, got %d", gpu.ErrInvalidDispatch, kernel.Label, len(kernel.Bindings), len(bindings)))
		return
	}
	limit := e.dev.limits.MaxWorkgroupsPerDimension
	if x == 0 || y == 0 || z == 0 || x > limit || y > limit || z > limit {
		e.fail(fmt.Errorf("%w: workgroup count %dx%dx%d", gpu.ErrInvalidDispatch, x, y, z))
		return
	}

	entries := make([]gputypes.BindGroupEntry, len(bindings))
	for i, b := range bindings {
		wb, ok := e.ownBuffer(b)
		if !ok {
			e.fail(fmt.Errorf("%w: binding %d is not a live buffer of this device", gpu.ErrInvalidDispatch, i))
			return
		}
		want := gpu.BufferUsageStorage
		if kernel.Bindings[i] == gpu.BindingUniform {
			want = gpu.BufferUsageUniform
		}
		if !wb.usage.Has(want) {
			e.fail(fmt.Errorf("%w: binding %d (%q) lacks usage %d", gpu.ErrInvalidUsage, i, wb.label, want))
			return
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding: uint32(i),
			Resource: gputypes.BufferBinding{
				Buffer: wb.raw.NativeHandle(),
				Size:   wb.size,
			},
		}
	}

	group, err := e.dev.raw.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   kernel.Label,
		Layout:  wp.groupLayout,
		Entries: entries,
	})
	if err != nil {
		e.fail(fmt.Errorf("%w: bind group for %q: %w", gpu.ErrInvalidDispatch, kernel.Label, err))
		return
	}
	e.bindGroups = append(e.bindGroups, group)

	pass := e.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: kernel.Label})
	pass.SetPipeline(wp.raw)
	pass.SetBindGroup(0, group, nil)
	pass.Dispatch(x, y, z)
	pass.End()
}

// CopyBufferToBuffer implements gpu.CommandEncoder.
func (e *encoder) CopyBufferToBuffer(src gpu.Buffer, srcOffset uint64, dst gpu.Buffer, dstOffset uint64, size uint64) {
	if e.err != nil {
		return
	}
	s, ok := e.ownBuffer(src)
	if !ok {
		e.fail(fmt.Errorf("%w: copy source is not a live buffer of this device", gpu.ErrInvalidUsage))
		return
	}
	t, ok := e.ownBuffer(dst)
	if !ok {
		e.fail(fmt.Errorf("%w: copy destination is not a live buffer of this device", gpu.ErrInvalidUsage))
		return
	}
	if !s.usage.Has(gpu.BufferUsageCopySrc) || !t.usage.Has(gpu.BufferUsageCopyDst) {
		e.fail(fmt.Errorf("%w: copy %q -> %q", gpu.ErrInvalidUsage, s.label, t.label))
		return
	}
	if size%4 != 0 || srcOffset%4 != 0 || dstOffset%4 != 0 || !s.inRange(srcOffset, size) || !t.inRange(dstOffset, size) {
		e.fail(fmt.Errorf("%w: copy of %d bytes %q[%d] -> %q[%d]", gpu.ErrInvalidSize, size, s.label, srcOffset, t.label, dstOffset))
		return
	}

	e.raw.CopyBufferToBuffer(s.raw, t.raw, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
}

// Finish implements gpu.CommandEncoder.
func (e *encoder) Finish() (gpu.CommandBuffer, error) {
	if e.finished {
		return nil, fmt.Errorf("encoder %q already finished", e.label)
	}
	e.finished = true
	if e.err != nil {
		e.discard()
		return nil, fmt.Errorf("encoder %q: %w", e.label, e.err)
	}

	raw, err := e.raw.EndEncoding()
	if err != nil {
		e.discard()
		return nil, fmt.Errorf("encoder %q: %w", e.label, err)
	}
	return &commandBuffer{dev: e.dev, label: e.label, raw: raw, bindGroups: e.bindGroups}, nil
}

func (e *encoder) discard() {
	if e.raw != nil {
		e.raw.DiscardEncoding()
	}
	for _, bg := range e.bindGroups {
		e.dev.raw.DestroyBindGroup(bg)
	}
	e.bindGroups = nil
}

type queue struct {
	dev *Device
}

// WriteBuffer implements gpu.Queue.
func (q *queue) WriteBuffer(b gpu.Buffer, offset uint64, data []byte) error {
	wb, ok := b.(*buffer)
	if !ok || wb.dev != q.dev || !wb.live() {
		return fmt.Errorf("%w: write target is not a live buffer of this device", gpu.ErrInvalidUsage)
	}
	if !wb.usage.Has(gpu.BufferUsageCopyDst) {
		return fmt.Errorf("%w: %q is not CopyDst", gpu.ErrInvalidUsage, wb.label)
	}
	size := uint64(len(data))
	if size%4 != 0 || offset%4 != 0 || !wb.inRange(offset, size) {
		return fmt.Errorf("%w: write of %d bytes at %d into %q", gpu.ErrInvalidSize, size, offset, wb.label)
	}
	q.dev.rawQueue.WriteBuffer(wb.raw, offset, data)
	return nil
}

// Submit implements gpu.Queue.
func (q *queue) Submit(commands ...gpu.CommandBuffer) error {
	batch := make([]*commandBuffer, 0, len(commands))
	raw := make([]hal.CommandBuffer, 0, len(commands))
	for _, c := range commands {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.dev != q.dev {
			return fmt.Errorf("%w: foreign command buffer", gpu.ErrInvalidDispatch)
		}
		submitted := true
		cb.once.Do(func() { submitted = false })
		if submitted {
			return fmt.Errorf("%w: command buffer %q submitted twice", gpu.ErrInvalidDispatch, cb.label)
		}
		batch = append(batch, cb)
		raw = append(raw, cb.raw)
	}

	if _, err := q.dev.submit(raw); err != nil {
		return err
	}
	for _, cb := range batch {
		cb.free()
	}
	return nil
}
