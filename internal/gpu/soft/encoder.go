package soft

import (
	"fmt"
	"sync"

	"github.com/smazurov/sinkcam/internal/gpu"
	"golang.org/x/sync/errgroup"
)

type command interface {
	run(d *Device)
}

type dispatchCommand struct {
	pipeline *pipeline
	bindings []*buffer
	groups   [3]uint32
}

// run executes every workgroup, one row of workgroups per task.
func (c *dispatchCommand) run(d *Device) {
	storage := make([]gpu.Storage, len(c.bindings))
	for i, b := range c.bindings {
		storage[i] = gpu.Storage(b.data)
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for z := uint32(0); z < c.groups[2]; z++ {
		for y := uint32(0); y < c.groups[1]; y++ {
			g.Go(func() error {
				inv := gpu.Invocation{NumWorkgroups: c.groups}
				inv.WorkgroupID[1] = y
				inv.WorkgroupID[2] = z
				for x := uint32(0); x < c.groups[0]; x++ {
					inv.WorkgroupID[0] = x
					c.pipeline.kernel.Emulate(inv, storage)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	d.dispatches.Add(1)
}

type copyCommand struct {
	src, dst       *buffer
	srcOff, dstOff uint64
	size           uint64
}

func (c *copyCommand) run(*Device) {
	copy(c.dst.data[c.dstOff:c.dstOff+c.size], c.src.data[c.srcOff:c.srcOff+c.size])
}

type commandBuffer struct {
	label    string
	commands []command

	once sync.Once
}

func (c *commandBuffer) Label() string { return c.label }

type encoder struct {
	dev      *Device
	label    string
	commands []command
	err      error
	finished bool
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) ownBuffer(b gpu.Buffer) (*buffer, bool) {
	sb, ok := b.(*buffer)
	if !ok || sb.dev != e.dev || sb.isReleased() {
		return nil, false
	}
	return sb, true
}

// Dispatch implements gpu.CommandEncoder.
func (e *encoder) Dispatch(p gpu.Pipeline, bindings []gpu.Buffer, x, y, z uint32) {
	sp, ok := p.(*pipeline)
	if !ok || sp.dev != e.dev {
		e.fail(fmt.Errorf("%w: pipeline from another device", gpu.ErrInvalidDispatch))
		return
	}
	kernel := sp.kernel
	if len(bindings) != len(kernel.Bindings) {
		e.fail(fmt.Errorf("%w: kernel %q wants %d bindings, got %d", gpu.ErrInvalidDispatch, kernel.Label, len(kernel.Bindings), len(bindings)))
		return
	}
	limit := e.dev.limits.MaxWorkgroupsPerDimension
	if x == 0 || y == 0 || z == 0 || x > limit || y > limit || z > limit {
		e.fail(fmt.Errorf("%w: workgroup count %dx%dx%d", gpu.ErrInvalidDispatch, x, y, z))
		return
	}

	own := make([]*buffer, len(bindings))
	for i, b := range bindings {
		sb, ok := e.ownBuffer(b)
		if !ok {
			e.fail(fmt.Errorf("%w: binding %d is not a live buffer of this device", gpu.ErrInvalidDispatch, i))
			return
		}
		want := gpu.BufferUsageStorage
		if kernel.Bindings[i] == gpu.BindingUniform {
			want = gpu.BufferUsageUniform
		}
		if !sb.usage.Has(want) {
			e.fail(fmt.Errorf("%w: binding %d (%q) lacks usage %d", gpu.ErrInvalidUsage, i, sb.label, want))
			return
		}
		own[i] = sb
	}

	e.commands = append(e.commands, &dispatchCommand{
		pipeline: sp,
		bindings: own,
		groups:   [3]uint32{x, y, z},
	})
}

// CopyBufferToBuffer implements gpu.CommandEncoder.
func (e *encoder) CopyBufferToBuffer(src gpu.Buffer, srcOffset uint64, dst gpu.Buffer, dstOffset uint64, size uint64) {
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

	e.commands = append(e.commands, &copyCommand{src: s, dst: t, srcOff: srcOffset, dstOff: dstOffset, size: size})
}

// Finish implements gpu.CommandEncoder.
func (e *encoder) Finish() (gpu.CommandBuffer, error) {
	if e.finished {
		return nil, fmt.Errorf("encoder %q already finished", e.label)
	}
	e.finished = true
	if e.err != nil {
		return nil, fmt.Errorf("encoder %q: %w", e.label, e.err)
	}
	return &commandBuffer{label: e.label, commands: e.commands}, nil
}

type queue struct {
	dev *Device
}

// WriteBuffer implements gpu.Queue. data is copied before returning.
func (q *queue) WriteBuffer(b gpu.Buffer, offset uint64, data []byte) error {
	sb, ok := b.(*buffer)
	if !ok || sb.dev != q.dev || sb.isReleased() {
		return fmt.Errorf("%w: write target is not a live buffer of this device", gpu.ErrInvalidUsage)
	}
	if !sb.usage.Has(gpu.BufferUsageCopyDst) {
		return fmt.Errorf("%w: %q is not CopyDst", gpu.ErrInvalidUsage, sb.label)
	}
	size := uint64(len(data))
	if size%4 != 0 || offset%4 != 0 || !sb.inRange(offset, size) {
		return fmt.Errorf("%w: write of %d bytes at %d into %q", gpu.ErrInvalidSize, size, offset, sb.label)
	}

	staged := make([]byte, size)
	copy(staged, data)
	return q.dev.enqueue(func() {
		copy(sb.data[offset:], staged)
	})
}

// Submit implements gpu.Queue.
func (q *queue) Submit(commands ...gpu.CommandBuffer) error {
	batch := make([]*commandBuffer, 0, len(commands))
	for _, c := range commands {
		cb, ok := c.(*commandBuffer)
		if !ok {
			return fmt.Errorf("%w: foreign command buffer", gpu.ErrInvalidDispatch)
		}
		submitted := true
		cb.once.Do(func() { submitted = false })
		if submitted {
			return fmt.Errorf("%w: command buffer %q submitted twice", gpu.ErrInvalidDispatch, cb.label)
		}
		batch = append(batch, cb)
	}

	q.dev.submissions.Add(uint64(len(batch)))
	return q.dev.enqueue(func() {
		for _, cb := range batch {
			for _, cmd := range cb.commands {
				cmd.run(q.dev)
			}
		}
	})
}
